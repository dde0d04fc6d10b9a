package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %v", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment
// variables referenced as ${VAR} are expanded before parsing, then a
// fixed set of well-known variables overrides the parsed values.
func LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("configuration data cannot be empty")
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %v", err)
	}

	applyEnvOverrides(&config)
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	return &config, nil
}

// LoadFromReader loads configuration from an io.Reader.
func LoadFromReader(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read from reader: %v", err)
	}

	return LoadFromBytes(data)
}

// Default returns a configuration built from defaults and environment
// overrides alone, for running without a config file.
func Default() (*Config, error) {
	var config Config
	applyEnvOverrides(&config)
	applyDefaults(&config)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return &config, nil
}

// applyEnvOverrides lets deployment environments override the secrets
// and endpoints without touching the YAML file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Database.DSN = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		config.Database.Driver = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		config.Scrape.YouTubeAPIKey = v
	}
	if v := os.Getenv("NORMALIZER_ENDPOINT"); v != "" {
		config.Normalizer.Endpoint = v
	}
	if v := os.Getenv("NORMALIZER_API_KEY"); v != "" {
		config.Normalizer.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
}

// applyDefaults applies default values to the configuration.
func applyDefaults(config *Config) {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	if config.Worker.ContentCategory == "" {
		config.Worker.ContentCategory = "link"
	}
	if config.Worker.IdleSleep == 0 {
		config.Worker.IdleSleep = 5 * time.Second
	}

	if config.Database.Driver == "" {
		config.Database.Driver = "postgres"
	}

	if config.Scrape.YtDlpPath == "" {
		config.Scrape.YtDlpPath = "yt-dlp"
	}
	if config.Scrape.RequestTimeout == 0 {
		config.Scrape.RequestTimeout = 30 * time.Second
	}
	if config.Scrape.Render.Timeout == 0 {
		config.Scrape.Render.Timeout = 20 * time.Second
	}
	if config.Scrape.Retry.MaxAttempts == 0 {
		config.Scrape.Retry.MaxAttempts = 3
	}
	if config.Scrape.Retry.BaseDelay == 0 {
		config.Scrape.Retry.BaseDelay = 2 * time.Second
	}
	if config.Scrape.Retry.MaxDelay == 0 {
		config.Scrape.Retry.MaxDelay = 10 * time.Second
	}

	if config.Proxy.Timeout == 0 {
		config.Proxy.Timeout = 10 * time.Second
	}
	if len(config.Proxy.BypassPlatforms) == 0 {
		config.Proxy.BypassPlatforms = []string{"youtube"}
	}

	if config.Normalizer.Timeout == 0 {
		config.Normalizer.Timeout = 15 * time.Second
	}

	if config.Monitoring.Addr == "" {
		config.Monitoring.Addr = ":9090"
	}
}

// Validate checks the configuration for inconsistencies a worker could
// not run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	switch c.Worker.ContentCategory {
	case "link", "image", "video", "text":
	default:
		return fmt.Errorf("unknown content category %q", c.Worker.ContentCategory)
	}
	if c.Worker.IdleSleep < 0 {
		return fmt.Errorf("idle_sleep cannot be negative")
	}

	if c.Scrape.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Scrape.Retry.MaxDelay < c.Scrape.Retry.BaseDelay {
		return fmt.Errorf("retry max_delay must be >= base_delay")
	}

	if c.Proxy.Enabled && len(c.Proxy.Endpoints) == 0 {
		return fmt.Errorf("proxy enabled with no endpoints")
	}
	for i, e := range c.Proxy.Endpoints {
		if e.Host == "" {
			return fmt.Errorf("proxy endpoint %d has no host", i)
		}
		if e.Port <= 0 || e.Port > 65535 {
			return fmt.Errorf("proxy endpoint %d has invalid port %d", i, e.Port)
		}
	}

	return nil
}
