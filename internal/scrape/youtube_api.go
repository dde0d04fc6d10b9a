package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// youtubeAPIBaseURL is the Data API v3 root. Overridable in tests.
const youtubeAPIBaseURL = "https://www.googleapis.com/youtube/v3"

// videoIDPatterns covers the known YouTube URL shapes: watch?v=,
// youtu.be/, /embed/, /v/ and /shorts/ links.
var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/|youtube\.com/shorts/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/watch\?.*v=([a-zA-Z0-9_-]{11})`),
}

// isoDurationPattern parses the API's componentized PT#H#M#S durations.
var isoDurationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// YouTubeAPIExtractor extracts video metadata through the official
// YouTube Data API v3. Preferred over yt-dlp when a key is configured
// because the API is immune to bot detection.
type YouTubeAPIExtractor struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewYouTubeAPIExtractor creates the official-API strategy. An empty
// key yields an extractor that always fails recoverably, letting the
// cascade fall through to yt-dlp.
func NewYouTubeAPIExtractor(apiKey string, timeout time.Duration) *YouTubeAPIExtractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YouTubeAPIExtractor{
		apiKey:  apiKey,
		baseURL: youtubeAPIBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Extractor.
func (e *YouTubeAPIExtractor) Name() Strategy { return StrategyAPI }

// Available reports whether the strategy can run at all.
func (e *YouTubeAPIExtractor) Available() bool { return e.apiKey != "" }

// Extract implements Extractor.
func (e *YouTubeAPIExtractor) Extract(ctx context.Context, rawURL, platform string) (*Metadata, error) {
	if e.apiKey == "" {
		return nil, NewError(KindUnavailable, StrategyAPI, rawURL, "youtube api key not configured")
	}

	videoID := ExtractVideoID(rawURL)
	if videoID == "" {
		return nil, NewError(KindNoData, StrategyAPI, rawURL, "could not extract video id from url")
	}

	endpoint := fmt.Sprintf("%s/videos?%s", e.baseURL, url.Values{
		"part": {"snippet,contentDetails,statistics"},
		"id":   {videoID},
		"key":  {e.apiKey},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, WrapError(KindInternal, StrategyAPI, rawURL, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, WrapError(KindNetwork, StrategyAPI, rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewError(KindRateLimited, StrategyAPI, rawURL, "youtube api quota exhausted")
	case resp.StatusCode >= 500:
		return nil, NewError(KindNetwork, StrategyAPI, rawURL, fmt.Sprintf("youtube api returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, NewError(KindUnavailable, StrategyAPI, rawURL, fmt.Sprintf("youtube api returned %d", resp.StatusCode))
	}

	var body youtubeVideoList
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, WrapError(KindNoData, StrategyAPI, rawURL, err)
	}
	if len(body.Items) == 0 {
		return nil, NewError(KindExpired, StrategyAPI, rawURL, "video not found: "+videoID)
	}

	return e.mapItem(body.Items[0], rawURL), nil
}

// youtubeVideoList mirrors the subset of the videos.list response the
// pipeline consumes.
type youtubeVideoList struct {
	Items []youtubeVideoItem `json:"items"`
}

type youtubeVideoItem struct {
	Snippet struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		ChannelTitle string `json:"channelTitle"`
		PublishedAt  string `json:"publishedAt"`
		Thumbnails   map[string]struct {
			URL string `json:"url"`
		} `json:"thumbnails"`
	} `json:"snippet"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
}

func (e *YouTubeAPIExtractor) mapItem(item youtubeVideoItem, rawURL string) *Metadata {
	return &Metadata{
		Title:              item.Snippet.Title,
		Description:        item.Snippet.Description,
		Author:             item.Snippet.ChannelTitle,
		ContentType:        ContentVideo,
		Platform:           "youtube",
		ExtractionStrategy: StrategyAPI,
		ThumbnailURL:       bestThumbnail(item),
		DurationSeconds:    ParseISODuration(item.ContentDetails.Duration),
		PublishDate:        item.Snippet.PublishedAt,
		SourceURL:          rawURL,
	}
}

// bestThumbnail picks the highest-resolution thumbnail the API offers.
func bestThumbnail(item youtubeVideoItem) string {
	for _, key := range []string{"maxres", "high", "medium", "default"} {
		if t, ok := item.Snippet.Thumbnails[key]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

// ExtractVideoID pulls the 11-character video ID out of any supported
// YouTube URL shape. Returns "" when no shape matches.
func ExtractVideoID(rawURL string) string {
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(rawURL); m != nil {
			return m[1]
		}
	}
	return ""
}

// ParseISODuration converts an ISO-8601 componentized duration such as
// PT1H2M10S to total seconds. Unparseable input yields 0.
func ParseISODuration(s string) int {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	hours := atoi(m[1])
	minutes := atoi(m[2])
	seconds := atoi(m[3])
	return hours*3600 + minutes*60 + seconds
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
