// Package worker runs the ingestion poll loop: claim a job, resolve its
// URL into metadata, persist, finalize, notify. One Worker serves one
// content family; scaling out means running more processes against the
// same job store.
package worker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the decoded webhook message body carried by a job. The
// upstream classifier stores the inbound message verbatim; the fields
// here are the ones the link pipeline reads.
type Payload struct {
	// Body is the raw message text; for link jobs it holds the URL.
	Body string `json:"Body"`
	// From is the sender address, possibly prefixed with a channel
	// scheme such as "whatsapp:".
	From string `json:"From"`
	// AttributedUserID overrides the sender as the user the save is
	// credited to, for group-channel submissions.
	AttributedUserID string `json:"attributed_user_id,omitempty"`
}

// DecodePayload parses a job payload into its typed form.
func DecodePayload(raw json.RawMessage) (*Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty job payload")
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding job payload: %w", err)
	}
	return &p, nil
}

// URL returns the submitted URL, or "" when the payload carries none.
func (p *Payload) URL() string {
	return strings.TrimSpace(p.Body)
}

// Sender returns the sender address with any channel scheme stripped.
func (p *Payload) Sender() string {
	return strings.TrimPrefix(strings.TrimSpace(p.From), "whatsapp:")
}

// AttributedUser returns the user the save is credited to: the explicit
// attribution when present, else the sender.
func (p *Payload) AttributedUser() string {
	if p.AttributedUserID != "" {
		return p.AttributedUserID
	}
	return p.Sender()
}
