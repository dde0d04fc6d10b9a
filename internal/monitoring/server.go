package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultbot/ingest/internal/utils"
)

// HealthStatus is the state a component reports.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckFunc probes one dependency.
type HealthCheckFunc func(ctx context.Context) HealthStatus

// healthReport is the JSON body served on /healthz.
type healthReport struct {
	Status     HealthStatus            `json:"status"`
	Components map[string]HealthStatus `json:"components"`
	CheckedAt  time.Time               `json:"checked_at"`
}

// Server exposes /metrics and /healthz for one worker process.
type Server struct {
	addr     string
	log      utils.Logger
	registry *prometheus.Registry

	mu     sync.Mutex
	checks map[string]HealthCheckFunc
	srv    *http.Server
}

// NewServer creates the monitoring HTTP server. The registry is used
// for the /metrics handler; nil falls back to the default gatherer.
func NewServer(addr string, registry *prometheus.Registry, log utils.Logger) *Server {
	return &Server{
		addr:     addr,
		log:      log,
		registry: registry,
		checks:   make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck adds a named component health probe.
func (s *Server) RegisterCheck(name string, check HealthCheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Start serves until the listener fails or Shutdown is called. It runs
// in its own goroutine; startup errors are logged, not fatal, because a
// worker without metrics is still a working worker.
func (s *Server) Start() {
	router := mux.NewRouter()
	if s.registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	} else {
		router.Handle("/metrics", promhttp.Handler())
	}
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Infof("monitoring server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("monitoring server failed: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	checks := make(map[string]HealthCheckFunc, len(s.checks))
	for name, fn := range s.checks {
		checks[name] = fn
	}
	s.mu.Unlock()

	report := healthReport{
		Status:     HealthStatusHealthy,
		Components: make(map[string]HealthStatus, len(checks)),
		CheckedAt:  time.Now().UTC(),
	}
	for name, fn := range checks {
		status := fn(ctx)
		report.Components[name] = status
		switch status {
		case HealthStatusUnhealthy:
			report.Status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if report.Status == HealthStatusHealthy {
				report.Status = HealthStatusDegraded
			}
		}
	}

	code := http.StatusOK
	if report.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}
