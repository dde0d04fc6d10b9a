package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vaultbot/ingest/internal/utils"
)

// NormalizerRequest is the contract sent to the LLM normalizer.
type NormalizerRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	RawContent  string `json:"raw_content,omitempty"`
	SourceURL   string `json:"source_url"`
}

// NormalizerResponse carries the taxonomy the normalizer assigns.
type NormalizerResponse struct {
	Category   string   `json:"category"`
	PriceRange string   `json:"price_range,omitempty"`
	Tags       []string `json:"tags"`
}

// Normalizer assigns taxonomy fields to extracted metadata. A nil
// response with nil error means normalization was skipped.
type Normalizer interface {
	Normalize(ctx context.Context, req NormalizerRequest) (*NormalizerResponse, error)
}

// validPriceRanges matches the enum the normalizer may emit.
var validPriceRanges = map[string]bool{"": true, "$": true, "$$": true, "$$$": true, "$$$$": true}

// Validate rejects responses that violate the contract: an empty
// category, a tag count outside 1..10, or an unknown price range.
func (r *NormalizerResponse) Validate() error {
	if r.Category == "" {
		return fmt.Errorf("normalizer: empty category")
	}
	if len(r.Tags) < 1 || len(r.Tags) > 10 {
		return fmt.Errorf("normalizer: %d tags outside 1..10", len(r.Tags))
	}
	if !validPriceRanges[r.PriceRange] {
		return fmt.Errorf("normalizer: invalid price range %q", r.PriceRange)
	}
	return nil
}

// HTTPNormalizer calls the normalizer service over HTTP. Every failure
// mode (missing configuration, transport errors, invalid responses)
// degrades to "no normalization" rather than an error the caller must
// handle.
type HTTPNormalizer struct {
	endpoint string
	apiKey   string
	client   *http.Client
	log      utils.Logger
}

// NewHTTPNormalizer builds the client. An empty endpoint or key yields
// a normalizer that always skips.
func NewHTTPNormalizer(endpoint, apiKey string, timeout time.Duration, log utils.Logger) *HTTPNormalizer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPNormalizer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Normalize implements Normalizer.
func (n *HTTPNormalizer) Normalize(ctx context.Context, req NormalizerRequest) (*NormalizerResponse, error) {
	if n.endpoint == "" || n.apiKey == "" {
		return nil, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		n.log.Warnf("normalizer request encoding failed: %v", err)
		return nil, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(httpReq)
	if err != nil {
		n.log.Warnf("normalizer call failed: %v", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.log.Warnf("normalizer returned %d", resp.StatusCode)
		return nil, nil
	}

	var out NormalizerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		n.log.Warnf("normalizer response unparseable: %v", err)
		return nil, nil
	}
	if err := out.Validate(); err != nil {
		n.log.Warnf("normalizer response rejected: %v", err)
		return nil, nil
	}
	return &out, nil
}
