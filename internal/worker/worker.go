package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaultbot/ingest/internal/gateway"
	"github.com/vaultbot/ingest/internal/monitoring"
	"github.com/vaultbot/ingest/internal/queue"
	"github.com/vaultbot/ingest/internal/scrape"
	"github.com/vaultbot/ingest/internal/utils"
)

// DefaultIdleSleep is how long the poll loop sleeps when the queue is
// empty.
const DefaultIdleSleep = 5 * time.Second

// User-facing error categories written into the job result.
const (
	CategoryDownloadFailed   = "download_failed"
	CategoryProcessingFailed = "processing_failed"
	CategoryNetworkError     = "network_error"
	CategoryUnknown          = "unknown"
)

var userMessages = map[string]string{
	CategoryDownloadFailed:   "Sorry, we couldn't extract info from that link. Please try another one.",
	CategoryNetworkError:     "We're having trouble connecting. Please try again in a few moments.",
	CategoryProcessingFailed: "Something went wrong processing your link. Our team has been notified.",
	CategoryUnknown:          "Something went wrong processing your link. Our team has been notified.",
}

// JobQueue is the slice of the queue manager the worker uses.
type JobQueue interface {
	Claim(ctx context.Context, filter queue.Filter) (*queue.Job, error)
	Complete(ctx context.Context, jobID string, result queue.Result) error
	Fail(ctx context.Context, jobID, errorCategory, detail string) error
}

// Resolver turns a URL into normalized metadata.
type Resolver interface {
	Resolve(ctx context.Context, url, platformHint string) (*scrape.Metadata, error)
}

// ContentStore is the slice of the persistence layer the worker uses.
type ContentStore interface {
	Upsert(ctx context.Context, meta *scrape.Metadata) (string, error)
	SaveForUser(ctx context.Context, recordID, userID, channelID, sourceType, attributedUserID string) error
	SetNormalization(ctx context.Context, recordID, category, priceRange string, tags []string) error
}

// Options tunes a Worker.
type Options struct {
	// Filter narrows which jobs this worker claims.
	Filter queue.Filter
	// IdleSleep overrides the empty-queue sleep. Zero means default.
	IdleSleep time.Duration
}

// Worker polls the job queue and drives claimed jobs through
// extraction, persistence and finalization.
type Worker struct {
	queue      JobQueue
	resolver   Resolver
	store      ContentStore
	messenger  gateway.Messenger
	normalizer gateway.Normalizer
	metrics    *monitoring.Metrics
	log        utils.Logger

	filter    queue.Filter
	idleSleep time.Duration
}

// New builds a Worker. messenger, normalizer and metrics may be nil;
// the corresponding steps are skipped.
func New(q JobQueue, r Resolver, s ContentStore, messenger gateway.Messenger, normalizer gateway.Normalizer, metrics *monitoring.Metrics, log utils.Logger, opts Options) *Worker {
	idle := opts.IdleSleep
	if idle <= 0 {
		idle = DefaultIdleSleep
	}
	if log == nil {
		log = utils.NopLogger{}
	}
	return &Worker{
		queue:      q,
		resolver:   r,
		store:      s,
		messenger:  messenger,
		normalizer: normalizer,
		metrics:    metrics,
		log:        log,
		filter:     opts.Filter,
		idleSleep:  idle,
	}
}

// Run polls until ctx is canceled. Cancellation is checked only between
// iterations: an in-flight job always runs to completion, so shutdown
// means "finish current job, then stop".
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithField("category", string(w.filter.ContentCategory)).Info("worker started")
	for {
		if err := ctx.Err(); err != nil {
			w.log.Info("worker stopping")
			return err
		}
		if err := w.RunOnce(ctx); err != nil {
			if errors.Is(err, queue.ErrNoJob) {
				w.sleep(ctx)
				continue
			}
			w.log.Errorf("job iteration failed: %v", err)
			w.sleep(ctx)
		}
	}
}

// RunOnce claims and processes a single job. It returns queue.ErrNoJob
// when the queue is empty, and an error only when the claim itself
// fails; per-job extraction failures are absorbed into the job's
// terminal state.
func (w *Worker) RunOnce(ctx context.Context) error {
	job, err := w.queue.Claim(ctx, w.filter)
	if err != nil {
		return err
	}

	// The job is already claimed; run it on a fresh context so a
	// shutdown signal cannot abandon it in processing.
	w.process(context.Background(), job)
	return nil
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	start := time.Now()
	log := w.log.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"category": string(job.ContentCategory),
	})
	if w.metrics != nil {
		w.metrics.JobsInFlight.Inc()
		defer w.metrics.JobsInFlight.Dec()
	}

	payload, err := DecodePayload(job.Payload)
	if err != nil {
		log.Errorf("undecodable payload: %v", err)
		w.finishFailed(ctx, job, "", CategoryProcessingFailed, err.Error(), start)
		return
	}
	url := payload.URL()
	if url == "" {
		log.Error("job payload carries no url")
		w.finishFailed(ctx, job, payload.Sender(), CategoryProcessingFailed, "payload carries no url", start)
		return
	}

	log.Infof("resolving %s", url)
	extractStart := time.Now()
	meta, err := w.resolver.Resolve(ctx, url, job.Platform)
	if err != nil {
		category := categorize(err)
		log.WithField("error_category", category).Errorf("extraction failed: %v", err)
		w.finishFailed(ctx, job, payload.Sender(), category, err.Error(), start)
		return
	}
	if w.metrics != nil {
		w.metrics.ObserveExtraction(meta.Platform, string(meta.ExtractionStrategy), time.Since(extractStart))
	}

	recordID, err := w.store.Upsert(ctx, meta)
	if err != nil {
		log.Errorf("persisting metadata: %v", err)
		w.finishFailed(ctx, job, payload.Sender(), CategoryProcessingFailed, err.Error(), start)
		return
	}

	userID := job.UserID
	if userID == "" {
		userID = payload.Sender()
	}
	channelID := job.SourceChannelID
	if channelID == "" {
		channelID = userID
	}
	sourceType := job.SourceType
	if sourceType == "" {
		sourceType = "dm"
	}
	if err := w.store.SaveForUser(ctx, recordID, userID, channelID, sourceType, payload.AttributedUser()); err != nil {
		log.Errorf("saving user link: %v", err)
		w.finishFailed(ctx, job, payload.Sender(), CategoryProcessingFailed, err.Error(), start)
		return
	}

	w.normalize(ctx, recordID, meta, log)

	result := queue.Result{LinkID: recordID, Title: meta.Title, Platform: meta.Platform}
	if err := w.queue.Complete(ctx, job.ID, result); err != nil {
		// The content is persisted; only the job record is stale.
		log.Errorf("marking job complete: %v", err)
	}
	w.notifySuccess(ctx, payload.Sender(), meta)
	if w.metrics != nil {
		w.metrics.ObserveJob(string(job.ContentCategory), "complete", time.Since(start))
	}
	log.WithField("link_id", recordID).Info("job complete")
}

// normalize runs the best-effort taxonomy pass. Every failure degrades
// to "no normalization", never to a failed job.
func (w *Worker) normalize(ctx context.Context, recordID string, meta *scrape.Metadata, log utils.Logger) {
	if w.normalizer == nil {
		return
	}
	resp, err := w.normalizer.Normalize(ctx, gateway.NormalizerRequest{
		Title:       meta.Title,
		Description: meta.Description,
		SourceURL:   meta.SourceURL,
	})
	if err != nil || resp == nil {
		if err != nil {
			log.Warnf("normalization skipped: %v", err)
		}
		return
	}
	if err := resp.Validate(); err != nil {
		log.Warnf("discarding invalid normalization: %v", err)
		return
	}
	if err := w.store.SetNormalization(ctx, recordID, resp.Category, resp.PriceRange, resp.Tags); err != nil {
		log.Warnf("writing normalization: %v", err)
	}
}

// finishFailed marks the job failed and notifies the user. The job must
// reach a terminal state whatever else breaks, so queue errors here are
// logged and not propagated.
func (w *Worker) finishFailed(ctx context.Context, job *queue.Job, recipient, category, detail string, start time.Time) {
	if err := w.queue.Fail(ctx, job.ID, category, detail); err != nil {
		w.log.WithField("job_id", job.ID).Errorf("marking job failed: %v", err)
	}
	if w.metrics != nil {
		w.metrics.ObserveJob(string(job.ContentCategory), "failed", time.Since(start))
	}
	if recipient == "" || w.messenger == nil {
		return
	}
	msg, ok := userMessages[category]
	if !ok {
		msg = userMessages[CategoryUnknown]
	}
	if err := w.messenger.Send(ctx, recipient, msg); err != nil {
		w.log.Warnf("failure notification to %s not sent: %v", recipient, err)
	}
}

func (w *Worker) notifySuccess(ctx context.Context, recipient string, meta *scrape.Metadata) {
	if recipient == "" || w.messenger == nil {
		return
	}
	title := meta.Title
	if title == "" {
		title = "Shared Link"
	}
	body := fmt.Sprintf("Saved to your vault!\nTitle: %s\nPlatform: %s", title, meta.Platform)
	if err := w.messenger.Send(ctx, recipient, body); err != nil {
		w.log.Warnf("success notification to %s not sent: %v", recipient, err)
	}
}

// categorize maps an extraction error onto the coarse user-facing
// categories recorded in the job result.
func categorize(err error) string {
	switch {
	case scrape.IsContentFatal(err):
		return CategoryDownloadFailed
	case scrape.IsTransient(err):
		return CategoryNetworkError
	default:
	}
	switch scrape.KindOf(err) {
	case scrape.KindUnavailable, scrape.KindRateLimited, scrape.KindNoData:
		return CategoryProcessingFailed
	}
	return CategoryUnknown
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.idleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
