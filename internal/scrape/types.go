// Package scrape turns submitted URLs into normalized content metadata.
//
// A Router picks an ordered cascade of extraction strategies per platform
// and runs it under a transient-only retry policy. Strategies report
// failures through the typed Error in this file so the router can tell a
// dead video apart from a flaky proxy.
package scrape

import (
	"context"
	"errors"
	"fmt"
)

// Strategy identifies one concrete way of extracting metadata from a URL.
type Strategy string

const (
	// StrategyAPI uses an official platform API (YouTube Data API v3).
	StrategyAPI Strategy = "api"
	// StrategyYtDlp shells out to yt-dlp for social media platforms.
	StrategyYtDlp Strategy = "ytdlp"
	// StrategyOpenGraph scrapes OpenGraph/meta tags from generic pages.
	StrategyOpenGraph Strategy = "opengraph"
	// StrategyPassthrough defers full text extraction to a downstream
	// collaborator and returns minimal metadata.
	StrategyPassthrough Strategy = "passthrough"
)

// ContentType classifies what kind of content a URL points at.
type ContentType string

const (
	ContentVideo   ContentType = "video"
	ContentImage   ContentType = "image"
	ContentArticle ContentType = "article"
	ContentLink    ContentType = "link"
)

// Metadata is the normalized output of an extraction strategy.
//
// ContentType, Platform, ExtractionStrategy and SourceURL are always
// populated; every other field degrades to its zero value when the
// source does not provide it.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`

	ContentType        ContentType `json:"content_type"`
	Platform           string      `json:"platform"`
	ExtractionStrategy Strategy    `json:"extraction_strategy"`

	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	PublishDate     string `json:"publish_date,omitempty"`

	SourceURL string `json:"source_url"`
}

// Extractor is implemented by every extraction strategy.
type Extractor interface {
	// Name reports which strategy this extractor implements.
	Name() Strategy
	// Extract fetches and normalizes metadata for the URL. Errors must
	// be *Error values so the router can classify them.
	Extract(ctx context.Context, url, platform string) (*Metadata, error)
}

// ErrorKind categorizes extraction failures. The split drives retry and
// cascade behavior: content-fatal kinds abort immediately, transient
// kinds are retried with backoff, recoverable kinds fall through to the
// next strategy in the cascade.
type ErrorKind string

const (
	// Content-fatal kinds. The content itself is in a state no retry
	// can fix.
	KindPrivate       ErrorKind = "private"
	KindExpired       ErrorKind = "expired"
	KindGeoRestricted ErrorKind = "geo_restricted"
	KindUnsupported   ErrorKind = "unsupported_platform"

	// Transient-infrastructure kinds.
	KindNetwork ErrorKind = "network"
	KindProxy   ErrorKind = "proxy"

	// Recoverable kinds. The strategy could not produce a result but
	// another strategy might.
	KindUnavailable ErrorKind = "strategy_unavailable"
	KindRateLimited ErrorKind = "rate_limited"
	KindNoData      ErrorKind = "no_data"

	// KindInternal covers everything else.
	KindInternal ErrorKind = "internal"
)

// Error is the typed failure raised by extraction strategies.
type Error struct {
	Kind     ErrorKind
	Strategy Strategy
	URL      string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a typed extraction error.
func NewError(kind ErrorKind, strategy Strategy, url, message string) *Error {
	return &Error{Kind: kind, Strategy: strategy, URL: url, Message: message}
}

// WrapError builds a typed extraction error around a cause.
func WrapError(kind ErrorKind, strategy Strategy, url string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Strategy: strategy, URL: url, Message: msg, Cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsContentFatal reports whether err describes the state of the content
// itself. Such errors abort the strategy cascade and are never retried.
func IsContentFatal(err error) bool {
	switch KindOf(err) {
	case KindPrivate, KindExpired, KindGeoRestricted, KindUnsupported:
		return true
	}
	return false
}

// IsTransient reports whether err is a transient infrastructure failure
// worth retrying with backoff.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindProxy:
		return true
	}
	return false
}

// IsRecoverable reports whether the next strategy in the cascade should
// be tried after err.
func IsRecoverable(err error) bool {
	return !IsContentFatal(err)
}
