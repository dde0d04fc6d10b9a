// Package queue owns the durable job store: atomic claims, status
// transitions and failure marking. It is the single arbiter of claim
// ownership between worker processes; all coordination happens through
// the store's compare-and-swap, never in process memory.
package queue

import (
	"encoding/json"
	"time"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// ContentCategory is the coarse job family set by the upstream
// classifier.
type ContentCategory string

const (
	CategoryLink  ContentCategory = "link"
	CategoryImage ContentCategory = "image"
	CategoryVideo ContentCategory = "video"
	CategoryText  ContentCategory = "text"
)

// Job is one unit of ingestion work tied to a single inbound
// submission. ID and Payload are immutable after creation; the queue
// mutates only Status and Result.
type Job struct {
	ID              string
	ContentCategory ContentCategory
	Platform        string
	Status          Status
	Payload         json.RawMessage
	Result          json.RawMessage
	SourceChannelID string
	SourceType      string
	UserID          string
	CreatedAt       time.Time
}

// Result is the structured outcome written exactly once when a job
// reaches a terminal state.
type Result struct {
	LinkID        string `json:"link_id,omitempty"`
	Title         string `json:"title,omitempty"`
	Platform      string `json:"platform,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	ErrorDetail   string `json:"error_detail,omitempty"`
}

// Filter narrows which pending jobs a claim considers.
type Filter struct {
	ContentCategory ContentCategory
	// Platforms, when set, restricts claims to these platforms.
	Platforms []string
	// ExcludePlatforms skips jobs for the listed platforms.
	ExcludePlatforms []string
}
