package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vaultbot/ingest/internal/proxy"
	"github.com/vaultbot/ingest/internal/utils"
)

// defaultUserAgent spoofs a desktop browser to avoid trivial bot checks.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// runner abstracts subprocess execution so tests can stub yt-dlp.
type runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err := cmd.Run()
	return out.Bytes(), errOut.Bytes(), err
}

// YtDlpExtractor extracts social-media metadata by shelling out to the
// yt-dlp binary with --dump-json. It handles Instagram, TikTok and the
// YouTube fallback path.
type YtDlpExtractor struct {
	binaryPath  string
	cookiesFile string
	timeout     time.Duration
	proxies     *proxy.Supplier
	log         utils.Logger
	runner      runner
}

// NewYtDlpExtractor creates the yt-dlp strategy. The supplier may be nil
// when no egress pool is configured.
func NewYtDlpExtractor(binaryPath, cookiesFile string, timeout time.Duration, proxies *proxy.Supplier, log utils.Logger) *YtDlpExtractor {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YtDlpExtractor{
		binaryPath:  binaryPath,
		cookiesFile: cookiesFile,
		timeout:     timeout,
		proxies:     proxies,
		log:         log,
		runner:      execRunner{},
	}
}

// Name implements Extractor.
func (e *YtDlpExtractor) Name() Strategy { return StrategyYtDlp }

// Extract implements Extractor.
func (e *YtDlpExtractor) Extract(ctx context.Context, rawURL, platform string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{
		"--dump-json",
		"--skip-download",
		"--no-warnings",
		"--user-agent", defaultUserAgent,
	}

	// Some providers block specific platforms from the shared pool:
	// the supplier decides, and a bypassed platform runs direct.
	if e.proxies != nil {
		if proxyURL := e.proxies.ForPlatform(platform); proxyURL != nil {
			args = append(args, "--proxy", proxyURL.String())
			e.log.Debugf("using proxy for %s", platform)
		} else {
			e.log.Debugf("no proxy for %s", platform)
		}
	}

	if e.cookiesFile != "" {
		if _, err := os.Stat(e.cookiesFile); err == nil {
			args = append(args, "--cookies", e.cookiesFile)
		} else {
			e.log.Warnf("cookies file %s not found; bot detection may block requests", e.cookiesFile)
		}
	}
	args = append(args, rawURL)

	stdout, stderr, err := e.runner.Run(ctx, e.binaryPath, args...)
	if err != nil {
		return nil, e.classify(rawURL, string(stderr), err)
	}

	var info ytDlpInfo
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &info); err != nil {
		return nil, WrapError(KindNoData, StrategyYtDlp, rawURL, fmt.Errorf("unparseable yt-dlp output: %w", err))
	}
	if info.Title == "" && info.Description == "" && info.Thumbnail == "" {
		return nil, NewError(KindNoData, StrategyYtDlp, rawURL, "no metadata extracted")
	}

	return info.toMetadata(rawURL, platform), nil
}

// classify maps yt-dlp's free-text error output onto the error taxonomy
// by substring matching, mirroring the strings the tool actually emits.
func (e *YtDlpExtractor) classify(rawURL, stderr string, cause error) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "private"):
		return NewError(KindPrivate, StrategyYtDlp, rawURL, "video is private")
	// The geo phrase also contains "not available", so it is tested
	// before the deleted/removed bucket.
	case strings.Contains(msg, "geo"), strings.Contains(msg, "not available in your country"):
		return NewError(KindGeoRestricted, StrategyYtDlp, rawURL, "content is geo-restricted")
	case strings.Contains(msg, "deleted"), strings.Contains(msg, "removed"), strings.Contains(msg, "not available"):
		return NewError(KindExpired, StrategyYtDlp, rawURL, "video has been deleted or is unavailable")
	case strings.Contains(msg, "proxy"):
		return NewError(KindProxy, StrategyYtDlp, rawURL, "proxy connection failed")
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "connection"):
		return NewError(KindNetwork, StrategyYtDlp, rawURL, "network failure: "+firstLine(stderr))
	default:
		return WrapError(KindInternal, StrategyYtDlp, rawURL, fmt.Errorf("yt-dlp failed: %w: %s", cause, firstLine(stderr)))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// ytDlpInfo mirrors the subset of yt-dlp's --dump-json output the
// pipeline consumes.
type ytDlpInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Uploader    string `json:"uploader"`
	Channel     string `json:"channel"`
	Thumbnail   string `json:"thumbnail"`
	Thumbnails  []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
	Duration   float64 `json:"duration"`
	UploadDate string  `json:"upload_date"`
}

// toMetadata maps the tool output onto Metadata. Missing optional
// fields degrade to empty values rather than failing the extraction.
func (i ytDlpInfo) toMetadata(rawURL, platform string) *Metadata {
	author := i.Uploader
	if author == "" {
		author = i.Channel
	}

	thumbnail := i.Thumbnail
	if thumbnail == "" && len(i.Thumbnails) > 0 {
		thumbnail = i.Thumbnails[0].URL
	}

	// upload_date arrives as YYYYMMDD; normalize to ISO-8601.
	publishDate := ""
	if len(i.UploadDate) == 8 {
		publishDate = fmt.Sprintf("%s-%s-%sT00:00:00Z", i.UploadDate[:4], i.UploadDate[4:6], i.UploadDate[6:8])
	}

	return &Metadata{
		Title:              i.Title,
		Description:        i.Description,
		Author:             author,
		ContentType:        ContentVideo,
		Platform:           platform,
		ExtractionStrategy: StrategyYtDlp,
		ThumbnailURL:       thumbnail,
		DurationSeconds:    int(i.Duration),
		PublishDate:        publishDate,
		SourceURL:          rawURL,
	}
}
