package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// PassthroughExtractor handles blog and news URLs by returning minimal
// metadata and signaling that full text extraction happens downstream.
// It performs no I/O and never fails.
type PassthroughExtractor struct{}

// NewPassthroughExtractor creates the deferred-extraction strategy.
func NewPassthroughExtractor() *PassthroughExtractor {
	return &PassthroughExtractor{}
}

// Name implements Extractor.
func (e *PassthroughExtractor) Name() Strategy { return StrategyPassthrough }

// Extract implements Extractor.
func (e *PassthroughExtractor) Extract(_ context.Context, rawURL, platform string) (*Metadata, error) {
	domain := rawURL
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Hostname() != "" {
		domain = strings.TrimPrefix(parsed.Hostname(), "www.")
	}

	return &Metadata{
		Description:        fmt.Sprintf("Text content from %s - full extraction pending", domain),
		ContentType:        ContentArticle,
		Platform:           platform,
		ExtractionStrategy: StrategyPassthrough,
		SourceURL:          rawURL,
	}, nil
}
