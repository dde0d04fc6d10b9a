package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/vaultbot/ingest/internal/utils"
)

// vaultUserAgent identifies the bot on generic page fetches.
const vaultUserAgent = "Mozilla/5.0 (compatible; VaultBot/1.0; +https://vaultbot.app)"

// renderFunc fetches a URL through a rendering browser and returns the
// resulting HTML. Wired to a chromedp-backed fetcher in production; nil
// disables the rendered fallback.
type renderFunc func(ctx context.Context, url string) (string, error)

// OpenGraphExtractor extracts metadata from generic web pages via
// OpenGraph tags, falling back to <title> and the meta description. A
// per-host rate limiter keeps repeat fetches polite, and a rendering
// fallback covers pages that only emit their metadata through script.
type OpenGraphExtractor struct {
	client   *http.Client
	log      utils.Logger
	render   renderFunc
	hostRate rate.Limit
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewOpenGraphExtractor creates the generic-scrape strategy.
func NewOpenGraphExtractor(timeout time.Duration, render renderFunc, log utils.Logger) *OpenGraphExtractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenGraphExtractor{
		client:   &http.Client{Timeout: timeout},
		log:      log,
		render:   render,
		hostRate: rate.Every(time.Second),
		burst:    3,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Name implements Extractor.
func (e *OpenGraphExtractor) Name() Strategy { return StrategyOpenGraph }

// Extract implements Extractor.
func (e *OpenGraphExtractor) Extract(ctx context.Context, rawURL, platform string) (*Metadata, error) {
	if err := e.waitForHost(ctx, rawURL); err != nil {
		return nil, WrapError(KindInternal, StrategyOpenGraph, rawURL, err)
	}

	doc, err := e.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	meta := e.parse(doc, rawURL, platform)
	if meta.Title != "" || meta.Description != "" {
		return meta, nil
	}

	// No usable static signal. Some pages only materialize their meta
	// tags after script execution; refetch through the renderer.
	if e.render != nil {
		html, rerr := e.render(ctx, rawURL)
		if rerr != nil {
			e.log.Warnf("rendered refetch of %s failed: %v", rawURL, rerr)
		} else if rdoc, perr := goquery.NewDocumentFromReader(strings.NewReader(html)); perr == nil {
			if meta := e.parse(rdoc, rawURL, platform); meta.Title != "" || meta.Description != "" {
				return meta, nil
			}
		}
	}

	return nil, NewError(KindNoData, StrategyOpenGraph, rawURL, "page has no extractable metadata")
}

func (e *OpenGraphExtractor) fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, WrapError(KindInternal, StrategyOpenGraph, rawURL, err)
	}
	req.Header.Set("User-Agent", vaultUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, WrapError(KindNetwork, StrategyOpenGraph, rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewError(KindRateLimited, StrategyOpenGraph, rawURL, "upstream rate limited the fetch")
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
		return nil, NewError(KindExpired, StrategyOpenGraph, rawURL, fmt.Sprintf("page returned %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, NewError(KindNetwork, StrategyOpenGraph, rawURL, fmt.Sprintf("page returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, NewError(KindNoData, StrategyOpenGraph, rawURL, fmt.Sprintf("page returned %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, WrapError(KindNoData, StrategyOpenGraph, rawURL, err)
	}
	return doc, nil
}

// parse pulls OpenGraph tags with plain meta/title fallbacks. Missing
// optional fields degrade to empty values.
func (e *OpenGraphExtractor) parse(doc *goquery.Document, rawURL, platform string) *Metadata {
	title := ogTag(doc, "og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	description := ogTag(doc, "og:description")
	if description == "" {
		description, _ = doc.Find(`meta[name="description"]`).First().Attr("content")
	}

	if platform == "" {
		platform = "generic"
	}

	return &Metadata{
		Title:              cleanText(title),
		Description:        cleanText(description),
		Author:             cleanText(ogTag(doc, "og:site_name")),
		ContentType:        ContentLink,
		Platform:           platform,
		ExtractionStrategy: StrategyOpenGraph,
		ThumbnailURL:       ogTag(doc, "og:image"),
		SourceURL:          rawURL,
	}
}

func ogTag(doc *goquery.Document, property string) string {
	content, _ := doc.Find(fmt.Sprintf(`meta[property=%q]`, property)).First().Attr("content")
	return strings.TrimSpace(content)
}

// cleanText collapses whitespace and applies NFC normalization so page
// text composes identically regardless of how the source encoded it.
func cleanText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return norm.NFC.String(s)
}

// waitForHost enforces the per-host politeness limit.
func (e *OpenGraphExtractor) waitForHost(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := parsed.Hostname()

	e.mu.Lock()
	limiter, ok := e.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(e.hostRate, e.burst)
		e.limiters[host] = limiter
	}
	e.mu.Unlock()

	return limiter.Wait(ctx)
}
