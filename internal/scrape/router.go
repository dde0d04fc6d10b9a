package scrape

import (
	"context"

	"github.com/vaultbot/ingest/internal/utils"
)

// Router resolves a URL to normalized metadata. It detects the platform,
// walks that platform's ordered strategy cascade, and wraps the whole
// resolution in a bounded retry that fires only for transient
// infrastructure errors. Content-fatal errors abort everything at once:
// retrying a private video is wasted work.
type Router struct {
	detector *Detector
	cascades map[string][]Extractor
	fallback []Extractor
	policy   utils.RetryPolicy
	log      utils.Logger

	// onFallback is invoked when a cascade advances past a failed
	// strategy. Wired to metrics by the worker.
	onFallback func(platform string, from, to Strategy)
}

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// WithRetryPolicy overrides the transient-retry envelope.
func WithRetryPolicy(policy utils.RetryPolicy) RouterOption {
	return func(r *Router) { r.policy = policy }
}

// WithFallbackObserver registers a callback fired on every cascade
// fallthrough.
func WithFallbackObserver(fn func(platform string, from, to Strategy)) RouterOption {
	return func(r *Router) { r.onFallback = fn }
}

// NewRouter builds a Router from per-platform extractor cascades. The
// cascade order is the try order; the fallback cascade serves platforms
// with no explicit entry.
func NewRouter(detector *Detector, cascades map[string][]Extractor, fallback []Extractor, log utils.Logger, opts ...RouterOption) *Router {
	policy := utils.DefaultRetryPolicy()
	policy.ShouldRetry = IsTransient

	r := &Router{
		detector: detector,
		cascades: cascades,
		fallback: fallback,
		policy:   policy,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	// Retry is only ever for transient infrastructure failures,
	// whatever envelope the caller supplied.
	r.policy.ShouldRetry = IsTransient
	return r
}

// DefaultCascades wires the production strategy routing: YouTube tries
// the official API before yt-dlp, the other social platforms go straight
// to yt-dlp, articles pass through, and everything else gets the
// OpenGraph scrape.
func DefaultCascades(api *YouTubeAPIExtractor, ytdlp *YtDlpExtractor, og *OpenGraphExtractor, pass *PassthroughExtractor) (map[string][]Extractor, []Extractor) {
	youtube := []Extractor{ytdlp}
	if api.Available() {
		youtube = []Extractor{api, ytdlp}
	}

	cascades := map[string][]Extractor{
		"youtube":   youtube,
		"instagram": {ytdlp},
		"tiktok":    {ytdlp},
		"blog":      {pass},
		"news":      {pass},
		"generic":   {og},
	}
	return cascades, []Extractor{og}
}

// Resolve detects the platform for url and runs its strategy cascade.
func (r *Router) Resolve(ctx context.Context, url, platformHint string) (*Metadata, error) {
	detection := r.detector.Detect(url, platformHint)
	r.log.WithFields(map[string]interface{}{
		"platform": detection.Platform,
		"strategy": detection.Strategy,
	}).Infof("resolving %s", url)

	cascade := r.cascades[detection.Platform]
	if len(cascade) == 0 {
		cascade = r.fallback
	}
	if len(cascade) == 0 {
		return nil, NewError(KindUnsupported, detection.Strategy, url, "no extraction strategy for platform "+detection.Platform)
	}

	var meta *Metadata
	err := utils.Retry(ctx, r.policy, func() error {
		m, err := r.runCascade(ctx, cascade, url, detection)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta.ContentType = normalizeContentType(meta.ContentType, detection.ContentType)
	if meta.Platform == "" {
		meta.Platform = detection.Platform
	}
	return meta, nil
}

// runCascade tries each strategy in order. Recoverable failures fall
// through to the next strategy; content-fatal failures abort the whole
// cascade immediately.
func (r *Router) runCascade(ctx context.Context, cascade []Extractor, url string, detection Detection) (*Metadata, error) {
	var lastErr error
	for i, extractor := range cascade {
		meta, err := extractor.Extract(ctx, url, detection.Platform)
		if err == nil {
			return meta, nil
		}

		if IsContentFatal(err) {
			return nil, err
		}

		lastErr = err
		if i+1 < len(cascade) {
			next := cascade[i+1]
			r.log.Warnf("strategy %s failed for %s, falling back to %s: %v", extractor.Name(), url, next.Name(), err)
			if r.onFallback != nil {
				r.onFallback(detection.Platform, extractor.Name(), next.Name())
			}
		}
	}
	return nil, lastErr
}

// normalizeContentType prefers what the strategy reported, falling back
// to the detector's classification.
func normalizeContentType(got, detected ContentType) ContentType {
	if got != "" {
		return got
	}
	if detected != "" {
		return detected
	}
	return ContentLink
}
