package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vaultbot/ingest/internal/utils"
)

func newTestOpenGraph(t *testing.T, handler http.HandlerFunc) (*OpenGraphExtractor, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenGraphExtractor(2*time.Second, nil, utils.NopLogger{}), server
}

func TestOpenGraphExtract(t *testing.T) {
	e, server := newTestOpenGraph(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>
			<meta property="og:title" content="  An   Article  " />
			<meta property="og:description" content="What it says" />
			<meta property="og:image" content="https://cdn.example.com/img.png" />
			<meta property="og:site_name" content="Example Site" />
			<title>Ignored</title>
		</head><body></body></html>`))
	})

	meta, err := e.Extract(context.Background(), server.URL+"/page", "generic")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if meta.Title != "An Article" {
		t.Errorf("title = %q, want whitespace-collapsed og:title", meta.Title)
	}
	if meta.Description != "What it says" || meta.Author != "Example Site" {
		t.Errorf("unexpected mapping: %+v", meta)
	}
	if meta.ThumbnailURL != "https://cdn.example.com/img.png" {
		t.Errorf("thumbnail = %q", meta.ThumbnailURL)
	}
	if meta.ContentType != ContentLink || meta.ExtractionStrategy != StrategyOpenGraph {
		t.Errorf("classification wrong: %+v", meta)
	}
}

func TestOpenGraphFallsBackToTitleTag(t *testing.T) {
	e, server := newTestOpenGraph(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>
			<title>Plain Title</title>
			<meta name="description" content="plain description" />
		</head><body></body></html>`))
	})

	meta, err := e.Extract(context.Background(), server.URL, "generic")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if meta.Title != "Plain Title" || meta.Description != "plain description" {
		t.Fatalf("fallback mapping wrong: %+v", meta)
	}
	// Thumbnail and author missing is fine: partial success, not error.
	if meta.ThumbnailURL != "" || meta.Author != "" {
		t.Fatalf("expected absent optional fields, got %+v", meta)
	}
}

func TestOpenGraphNoUsableSignal(t *testing.T) {
	e, server := newTestOpenGraph(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head></head><body>nothing here</body></html>`))
	})

	_, err := e.Extract(context.Background(), server.URL, "generic")
	if KindOf(err) != KindNoData {
		t.Fatalf("metadata-free page should classify as no_data, got %v", err)
	}
}

func TestOpenGraphRenderedFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head></head><body></body></html>`))
	}))
	defer server.Close()

	rendered := `<html><head><meta property="og:title" content="Script Injected" /></head></html>`
	e := NewOpenGraphExtractor(2*time.Second, func(ctx context.Context, url string) (string, error) {
		return rendered, nil
	}, utils.NopLogger{})

	meta, err := e.Extract(context.Background(), server.URL, "generic")
	if err != nil {
		t.Fatalf("rendered fallback failed: %v", err)
	}
	if meta.Title != "Script Injected" {
		t.Fatalf("title = %q, want rendered og:title", meta.Title)
	}
}

func TestOpenGraphStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusNotFound, KindExpired},
		{http.StatusGone, KindExpired},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusBadGateway, KindNetwork},
		{http.StatusForbidden, KindNoData},
	}
	for _, tt := range tests {
		status := tt.status
		e, server := newTestOpenGraph(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := e.Extract(context.Background(), server.URL, "generic")
		if KindOf(err) != tt.kind {
			t.Fatalf("status %d classified as %v, want %v", tt.status, KindOf(err), tt.kind)
		}
	}
}
