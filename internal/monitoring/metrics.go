// Package monitoring exposes Prometheus metrics and a health endpoint
// for the ingestion workers.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the pipeline's metric set. One instance is shared by all
// components in a worker process.
type Metrics struct {
	JobsProcessed     *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	ExtractionTime    *prometheus.HistogramVec
	StrategyFallbacks *prometheus.CounterVec
	ClaimConflicts    prometheus.Counter
	ProxyRotations    prometheus.Counter
	JobsInFlight      prometheus.Gauge
}

// NewMetrics registers the pipeline metrics on a registry. Pass a fresh
// registry in tests to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "jobs_processed_total",
			Help:      "Jobs reaching a terminal state, by content category and outcome.",
		}, []string{"category", "outcome"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "job_duration_seconds",
			Help:      "Wall time from claim to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"category"}),
		ExtractionTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "extraction_duration_seconds",
			Help:      "Extraction time by platform and winning strategy.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"platform", "strategy"}),
		StrategyFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "strategy_fallbacks_total",
			Help:      "Cascade fallthroughs, by platform and abandoned strategy.",
		}, []string{"platform", "from"}),
		ClaimConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "claim_conflicts_total",
			Help:      "Claim attempts lost to another worker.",
		}),
		ProxyRotations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "proxy_rotations_total",
			Help:      "Egress identity rotations.",
		}),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ingest",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently held in processing by this worker.",
		}),
	}
}

// ObserveJob records a finished job.
func (m *Metrics) ObserveJob(category, outcome string, elapsed time.Duration) {
	m.JobsProcessed.WithLabelValues(category, outcome).Inc()
	m.JobDuration.WithLabelValues(category).Observe(elapsed.Seconds())
}

// ObserveExtraction records a completed extraction.
func (m *Metrics) ObserveExtraction(platform, strategy string, elapsed time.Duration) {
	m.ExtractionTime.WithLabelValues(platform, strategy).Observe(elapsed.Seconds())
}
