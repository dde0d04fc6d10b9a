package scrape

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vaultbot/ingest/internal/utils"
)

// fakeExtractor scripts a sequence of results for cascade tests.
type fakeExtractor struct {
	name  Strategy
	calls int
	fn    func(call int) (*Metadata, error)
}

func (f *fakeExtractor) Name() Strategy { return f.name }

func (f *fakeExtractor) Extract(_ context.Context, url, platform string) (*Metadata, error) {
	f.calls++
	meta, err := f.fn(f.calls)
	if meta != nil {
		meta.SourceURL = url
		meta.Platform = platform
		meta.ExtractionStrategy = f.name
	}
	return meta, err
}

func succeeding(name Strategy) *fakeExtractor {
	return &fakeExtractor{name: name, fn: func(int) (*Metadata, error) {
		return &Metadata{Title: "ok", ContentType: ContentVideo}, nil
	}}
}

func failing(name Strategy, err error) *fakeExtractor {
	return &fakeExtractor{name: name, fn: func(int) (*Metadata, error) {
		return nil, err
	}}
}

func fastPolicy(attempts int) utils.RetryPolicy {
	return utils.RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestRouter(cascades map[string][]Extractor, fallback []Extractor, opts ...RouterOption) *Router {
	opts = append([]RouterOption{WithRetryPolicy(fastPolicy(3))}, opts...)
	return NewRouter(NewDetector(), cascades, fallback, utils.NopLogger{}, opts...)
}

func TestResolvePrimaryStrategy(t *testing.T) {
	api := succeeding(StrategyAPI)
	r := newTestRouter(map[string][]Extractor{"youtube": {api}}, nil)

	meta, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if meta.ExtractionStrategy != StrategyAPI || meta.Platform != "youtube" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if api.calls != 1 {
		t.Fatalf("primary strategy called %d times, want 1", api.calls)
	}
}

func TestResolveFallsBackOnRecoverableError(t *testing.T) {
	api := failing(StrategyAPI, NewError(KindUnavailable, StrategyAPI, "", "key missing"))
	ytdlp := succeeding(StrategyYtDlp)

	var fellBack bool
	r := newTestRouter(
		map[string][]Extractor{"youtube": {api, ytdlp}}, nil,
		WithFallbackObserver(func(platform string, from, to Strategy) {
			if platform != "youtube" || from != StrategyAPI || to != StrategyYtDlp {
				t.Errorf("fallback observer got (%s, %s, %s)", platform, from, to)
			}
			fellBack = true
		}),
	)

	meta, err := r.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if meta.ExtractionStrategy != StrategyYtDlp {
		t.Fatalf("expected ytdlp fallback result, got %+v", meta)
	}
	if !fellBack {
		t.Fatal("fallback observer not invoked")
	}
}

// A content-fatal error must abort the cascade without touching later
// strategies and without any retry.
func TestResolveContentFatalAbortsImmediately(t *testing.T) {
	private := failing(StrategyYtDlp, NewError(KindPrivate, StrategyYtDlp, "", "video is private"))
	og := succeeding(StrategyOpenGraph)

	r := newTestRouter(map[string][]Extractor{"youtube": {private, og}}, nil)

	_, err := r.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "")
	if KindOf(err) != KindPrivate {
		t.Fatalf("expected private error, got %v", err)
	}
	if private.calls != 1 {
		t.Fatalf("content-fatal error retried: %d calls", private.calls)
	}
	if og.calls != 0 {
		t.Fatalf("cascade continued past content-fatal error: %d calls", og.calls)
	}
}

func TestResolveRetriesTransientToBound(t *testing.T) {
	flaky := failing(StrategyOpenGraph, NewError(KindNetwork, StrategyOpenGraph, "", "connection reset"))
	r := newTestRouter(map[string][]Extractor{"generic": {flaky}}, nil)

	_, err := r.Resolve(context.Background(), "https://example.com/page", "")
	if KindOf(err) != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	if flaky.calls != 3 {
		t.Fatalf("transient error retried %d times, want exactly 3 attempts", flaky.calls)
	}
}

func TestResolveTransientThenSuccess(t *testing.T) {
	flaky := &fakeExtractor{name: StrategyOpenGraph, fn: func(call int) (*Metadata, error) {
		if call < 3 {
			return nil, NewError(KindNetwork, StrategyOpenGraph, "", "timeout")
		}
		return &Metadata{Title: "finally", ContentType: ContentLink}, nil
	}}
	r := newTestRouter(map[string][]Extractor{"generic": {flaky}}, nil)

	meta, err := r.Resolve(context.Background(), "https://example.com/page", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if meta.Title != "finally" || flaky.calls != 3 {
		t.Fatalf("expected success on third attempt, got %+v after %d calls", meta, flaky.calls)
	}
}

// A result carrying only a title flows through Resolve untouched:
// partial extraction is success, not an error.
func TestResolveGracefulDegradation(t *testing.T) {
	sparse := &fakeExtractor{name: StrategyOpenGraph, fn: func(int) (*Metadata, error) {
		return &Metadata{Title: "only a title"}, nil
	}}
	r := newTestRouter(map[string][]Extractor{"generic": {sparse}}, nil)

	meta, err := r.Resolve(context.Background(), "https://example.com/page", "")
	if err != nil {
		t.Fatalf("sparse result must not fail: %v", err)
	}
	if meta.Title != "only a title" || meta.ContentType != ContentLink {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.Platform == "" || meta.ExtractionStrategy == "" || meta.SourceURL == "" {
		t.Fatalf("mandatory fields missing: %+v", meta)
	}
}

func TestResolveUsesFallbackCascade(t *testing.T) {
	og := succeeding(StrategyOpenGraph)
	r := newTestRouter(nil, []Extractor{og})

	meta, err := r.Resolve(context.Background(), "https://example.com/page", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if meta.ExtractionStrategy != StrategyOpenGraph {
		t.Fatalf("expected fallback cascade, got %+v", meta)
	}
}

func TestResolvePassthroughScenario(t *testing.T) {
	cascades := map[string][]Extractor{
		"blog": {NewPassthroughExtractor()},
	}
	r := newTestRouter(cascades, nil)

	meta, err := r.Resolve(context.Background(), "https://medium.com/@a/b", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if meta.ExtractionStrategy != StrategyPassthrough || meta.ContentType != ContentArticle {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if !strings.Contains(meta.Description, "pending") {
		t.Fatalf("passthrough description should flag pending extraction: %q", meta.Description)
	}
}

func TestDefaultCascadesRouting(t *testing.T) {
	api := NewYouTubeAPIExtractor("key", time.Second)
	ytdlp := NewYtDlpExtractor("yt-dlp", "", time.Second, nil, utils.NopLogger{})
	og := NewOpenGraphExtractor(time.Second, nil, utils.NopLogger{})
	pass := NewPassthroughExtractor()

	cascades, fallback := DefaultCascades(api, ytdlp, og, pass)

	if got := cascades["youtube"]; len(got) != 2 || got[0].Name() != StrategyAPI || got[1].Name() != StrategyYtDlp {
		t.Fatalf("youtube cascade wrong: %v", names(got))
	}
	if got := cascades["tiktok"]; len(got) != 1 || got[0].Name() != StrategyYtDlp {
		t.Fatalf("tiktok cascade wrong: %v", names(got))
	}
	if len(fallback) != 1 || fallback[0].Name() != StrategyOpenGraph {
		t.Fatalf("fallback cascade wrong: %v", names(fallback))
	}

	// Without an API key the cascade starts at yt-dlp.
	noKey := NewYouTubeAPIExtractor("", time.Second)
	cascades, _ = DefaultCascades(noKey, ytdlp, og, pass)
	if got := cascades["youtube"]; len(got) != 1 || got[0].Name() != StrategyYtDlp {
		t.Fatalf("keyless youtube cascade wrong: %v", names(got))
	}
}

func names(es []Extractor) []Strategy {
	out := make([]Strategy, len(es))
	for i, e := range es {
		out[i] = e.Name()
	}
	return out
}
