// Package config loads and validates the worker configuration from a
// YAML file with environment variable expansion and overrides.
package config

import (
	"time"

	"github.com/vaultbot/ingest/internal/proxy"
	"github.com/vaultbot/ingest/internal/utils"
)

// Config is the root worker configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level" json:"log_level"`
	Worker     WorkerConfig     `yaml:"worker" json:"worker"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Scrape     ScrapeConfig     `yaml:"scrape" json:"scrape"`
	Proxy      ProxyConfig      `yaml:"proxy" json:"proxy"`
	Normalizer NormalizerConfig `yaml:"normalizer" json:"normalizer"`
	Monitoring MonitoringConfig `yaml:"monitoring" json:"monitoring"`
}

// WorkerConfig tunes the poll loop.
type WorkerConfig struct {
	// ContentCategory is the job family this worker claims.
	ContentCategory string `yaml:"content_category" json:"content_category"`
	// Platforms, when set, restricts claims to these platforms.
	Platforms []string `yaml:"platforms,omitempty" json:"platforms,omitempty"`
	// ExcludePlatforms skips jobs for the listed platforms.
	ExcludePlatforms []string `yaml:"exclude_platforms,omitempty" json:"exclude_platforms,omitempty"`
	// IdleSleep is the empty-queue sleep between polls.
	IdleSleep time.Duration `yaml:"idle_sleep" json:"idle_sleep"`
}

// DatabaseConfig locates the shared job and content store.
type DatabaseConfig struct {
	// Driver is one of postgres, mysql, sqlite3.
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// RetryConfig bounds transient-failure retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// Policy converts the config into a retry policy without a predicate;
// callers attach their own.
func (r RetryConfig) Policy() utils.RetryPolicy {
	return utils.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
	}
}

// RenderConfig controls the headless-browser refetch fallback.
type RenderConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ScrapeConfig tunes the extraction strategies.
type ScrapeConfig struct {
	YouTubeAPIKey  string        `yaml:"youtube_api_key" json:"youtube_api_key"`
	YtDlpPath      string        `yaml:"ytdlp_path" json:"ytdlp_path"`
	CookiesFile    string        `yaml:"cookies_file" json:"cookies_file"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	Render         RenderConfig  `yaml:"render" json:"render"`
	Retry          RetryConfig   `yaml:"retry" json:"retry"`
}

// ProxyEndpoint is one configured egress identity.
type ProxyEndpoint struct {
	Name     string `yaml:"name" json:"name"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// ProxyConfig configures the proxy supplier.
type ProxyConfig struct {
	Enabled         bool            `yaml:"enabled" json:"enabled"`
	Endpoints       []ProxyEndpoint `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	HealthCheckURL  string          `yaml:"health_check_url" json:"health_check_url"`
	Timeout         time.Duration   `yaml:"timeout" json:"timeout"`
	BypassPlatforms []string        `yaml:"bypass_platforms,omitempty" json:"bypass_platforms,omitempty"`
}

// SupplierConfig converts the YAML shape into the proxy package's
// config.
func (p ProxyConfig) SupplierConfig() proxy.Config {
	endpoints := make([]proxy.Endpoint, 0, len(p.Endpoints))
	for _, e := range p.Endpoints {
		endpoints = append(endpoints, proxy.Endpoint{
			Name:     e.Name,
			Host:     e.Host,
			Port:     e.Port,
			Username: e.Username,
			Password: e.Password,
		})
	}
	return proxy.Config{
		Enabled:         p.Enabled,
		Endpoints:       endpoints,
		HealthCheckURL:  p.HealthCheckURL,
		Timeout:         p.Timeout,
		BypassPlatforms: p.BypassPlatforms,
	}
}

// NormalizerConfig locates the taxonomy normalizer service.
type NormalizerConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	APIKey   string        `yaml:"api_key" json:"api_key"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// MonitoringConfig controls the metrics/health HTTP server.
type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}
