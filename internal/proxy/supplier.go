// Package proxy manages outbound egress configuration for extraction
// strategies: credentialed endpoints, rotation between identities, and a
// lightweight health probe. Rotation state is process-local; two workers
// rotating independently is fine because egress identity is advisory.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vaultbot/ingest/internal/utils"
)

// DefaultHealthCheckURL is a lightweight endpoint that echoes the caller IP.
const DefaultHealthCheckURL = "https://httpbin.org/ip"

// Endpoint is one egress identity.
type Endpoint struct {
	Name     string `yaml:"name" json:"name"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// URL renders the endpoint as an http proxy URL.
func (e Endpoint) URL() *url.URL {
	u := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", e.Host, e.Port),
	}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// Config defines the proxy supplier configuration.
type Config struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Endpoints      []Endpoint    `yaml:"endpoints" json:"endpoints"`
	HealthCheckURL string        `yaml:"health_check_url,omitempty" json:"health_check_url,omitempty"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	// BypassPlatforms lists platforms that must never go through the
	// shared pool (the provider blocks their traffic).
	BypassPlatforms []string `yaml:"bypass_platforms" json:"bypass_platforms"`
}

// Supplier hands out the current egress endpoint and supports rotating
// to a different identity after suspected blocking.
type Supplier struct {
	config  Config
	log     utils.Logger
	bypass  map[string]struct{}
	mu      sync.RWMutex
	current int
	healthy bool
}

// NewSupplier creates a Supplier from configuration. A Supplier with no
// endpoints is valid and reports no proxy.
func NewSupplier(config Config, log utils.Logger) *Supplier {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.HealthCheckURL == "" {
		config.HealthCheckURL = DefaultHealthCheckURL
	}

	bypass := make(map[string]struct{}, len(config.BypassPlatforms))
	for _, p := range config.BypassPlatforms {
		bypass[strings.ToLower(p)] = struct{}{}
	}

	s := &Supplier{
		config:  config,
		log:     log,
		bypass:  bypass,
		healthy: true,
	}
	if s.Configured() {
		log.Infof("proxy supplier configured with %d endpoint(s)", len(config.Endpoints))
	} else {
		log.Warn("proxy supplier not configured; strategies run without egress pool")
	}
	return s
}

// Configured reports whether at least one enabled endpoint exists.
func (s *Supplier) Configured() bool {
	return s.config.Enabled && len(s.config.Endpoints) > 0
}

// Current returns the active egress proxy URL, or nil when no proxy is
// configured.
func (s *Supplier) Current() *url.URL {
	if !s.Configured() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Endpoints[s.current].URL()
}

// ForPlatform returns the proxy URL to use for the given platform, or
// nil when the platform is on the bypass list. Some providers block
// specific platforms from their shared pool entirely.
func (s *Supplier) ForPlatform(platform string) *url.URL {
	if _, bypassed := s.bypass[strings.ToLower(platform)]; bypassed {
		return nil
	}
	return s.Current()
}

// Rotate advances to the next egress identity. Callers use it after
// suspected blocking; there is no global coordination between workers.
func (s *Supplier) Rotate() {
	if !s.Configured() || len(s.config.Endpoints) < 2 {
		return
	}
	s.mu.Lock()
	s.current = (s.current + 1) % len(s.config.Endpoints)
	name := s.config.Endpoints[s.current].Name
	s.mu.Unlock()
	s.log.Infof("rotated to proxy endpoint %s", name)
}

// HealthCheck probes the current endpoint with a lightweight round trip.
// A failed probe downgrades availability but never errors out: callers
// only lose the pool, not the pipeline.
func (s *Supplier) HealthCheck(ctx context.Context) bool {
	proxyURL := s.Current()
	if proxyURL == nil {
		return false
	}

	client := &http.Client{
		Timeout: s.config.Timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.HealthCheckURL, nil)
	if err != nil {
		return s.setHealthy(false)
	}

	resp, err := client.Do(req)
	if err != nil {
		s.log.Warnf("proxy health check failed: %v", err)
		return s.setHealthy(false)
	}
	defer resp.Body.Close()

	return s.setHealthy(resp.StatusCode == http.StatusOK)
}

// Healthy reports the result of the most recent health check.
func (s *Supplier) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Supplier) setHealthy(v bool) bool {
	s.mu.Lock()
	s.healthy = v
	s.mu.Unlock()
	return v
}
