// Package gateway holds the narrow contracts to external collaborators:
// the messaging gateway that reaches the submitter, the LLM-backed
// metadata normalizer, and the vision-analysis service. The pipeline
// treats all three as best-effort: none of their failures may fail a
// job.
package gateway

import (
	"context"

	"github.com/vaultbot/ingest/internal/utils"
)

// Messenger delivers user-facing status messages. Implementations wrap
// whatever chat transport the deployment uses; the pipeline only ever
// logs and swallows their errors.
type Messenger interface {
	Send(ctx context.Context, to, body string) error
}

// Vision analyzes an image or a sampled video frame. Image and video
// jobs hand off here; the contract is included so worker wiring has a
// stable seam even though the analysis itself lives elsewhere.
type Vision interface {
	Analyze(ctx context.Context, input []byte, instruction string) (string, error)
}

// LogMessenger is the default Messenger: it records the message instead
// of delivering it. Deployments without a configured transport get this.
type LogMessenger struct {
	Log utils.Logger
}

// Send implements Messenger.
func (m LogMessenger) Send(_ context.Context, to, body string) error {
	m.Log.WithField("to", to).Infof("notification (no transport configured): %s", body)
	return nil
}
