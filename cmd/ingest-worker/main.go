// Command ingest-worker runs the content ingestion pipeline: it claims
// jobs from the shared queue, extracts metadata from submitted URLs and
// persists deduplicated content records.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vaultbot/ingest/internal/config"
	"github.com/vaultbot/ingest/internal/gateway"
	"github.com/vaultbot/ingest/internal/monitoring"
	"github.com/vaultbot/ingest/internal/proxy"
	"github.com/vaultbot/ingest/internal/queue"
	"github.com/vaultbot/ingest/internal/scrape"
	"github.com/vaultbot/ingest/internal/store"
	"github.com/vaultbot/ingest/internal/utils"
	"github.com/vaultbot/ingest/internal/worker"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ingest-worker %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ingest-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// A missing .env file is the normal case outside development.
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := utils.NewLoggerWithLevel(utils.ParseLogLevel(cfg.LogLevel))
	log.Infof("ingest-worker %s starting", version)

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	dialect, err := store.DialectForDriver(cfg.Database.Driver)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	supplier := proxy.NewSupplier(cfg.Proxy.SupplierConfig(), log)

	jobQueue := queue.NewManager(db, dialect, log).
		WithClaimRetry(cfg.Scrape.Retry.Policy()).
		WithConflictObserver(metrics.ClaimConflicts.Inc)
	contentStore := store.NewContentStore(db, dialect, log)

	router := buildRouter(cfg, supplier, metrics, log)
	normalizer := gateway.NewHTTPNormalizer(cfg.Normalizer.Endpoint, cfg.Normalizer.APIKey, cfg.Normalizer.Timeout, log)
	messenger := gateway.LogMessenger{Log: log}

	w := worker.New(jobQueue, router, contentStore, messenger, normalizer, metrics, log, worker.Options{
		Filter: queue.Filter{
			ContentCategory:  queue.ContentCategory(cfg.Worker.ContentCategory),
			Platforms:        cfg.Worker.Platforms,
			ExcludePlatforms: cfg.Worker.ExcludePlatforms,
		},
		IdleSleep: cfg.Worker.IdleSleep,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var monServer *monitoring.Server
	if cfg.Monitoring.Enabled {
		monServer = monitoring.NewServer(cfg.Monitoring.Addr, registry, log)
		monServer.RegisterCheck("database", func(ctx context.Context) monitoring.HealthStatus {
			if err := db.PingContext(ctx); err != nil {
				return monitoring.HealthStatusUnhealthy
			}
			return monitoring.HealthStatusHealthy
		})
		if supplier.Configured() {
			monServer.RegisterCheck("proxy", func(context.Context) monitoring.HealthStatus {
				if supplier.Healthy() {
					return monitoring.HealthStatusHealthy
				}
				return monitoring.HealthStatusDegraded
			})
		}
		monServer.Start()
	}

	if supplier.Configured() {
		go maintainProxy(ctx, supplier, metrics, log)
	}

	// Run returns only when ctx is canceled, after the in-flight job
	// finishes: shutdown is "finish current job, then stop".
	err = w.Run(ctx)

	if monServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := monServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("monitoring server shutdown: %v", err)
		}
	}

	if errors.Is(err, context.Canceled) {
		log.Info("ingest-worker stopped")
		return nil
	}
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Default()
}

// buildRouter assembles the per-platform strategy cascades.
func buildRouter(cfg *config.Config, supplier *proxy.Supplier, metrics *monitoring.Metrics, log utils.Logger) *scrape.Router {
	timeout := cfg.Scrape.RequestTimeout

	api := scrape.NewYouTubeAPIExtractor(cfg.Scrape.YouTubeAPIKey, timeout)
	ytdlp := scrape.NewYtDlpExtractor(cfg.Scrape.YtDlpPath, cfg.Scrape.CookiesFile, timeout, supplier, log)
	render := scrape.NewChromeRenderer(scrape.RenderConfig{
		Enabled: cfg.Scrape.Render.Enabled,
		Timeout: cfg.Scrape.Render.Timeout,
	})
	og := scrape.NewOpenGraphExtractor(timeout, render, log)
	pass := scrape.NewPassthroughExtractor()

	cascades, fallback := scrape.DefaultCascades(api, ytdlp, og, pass)
	return scrape.NewRouter(scrape.NewDetector(), cascades, fallback, log,
		scrape.WithRetryPolicy(cfg.Scrape.Retry.Policy()),
		scrape.WithFallbackObserver(func(platform string, from, _ scrape.Strategy) {
			metrics.StrategyFallbacks.WithLabelValues(platform, string(from)).Inc()
		}),
	)
}

// maintainProxy periodically verifies the current egress endpoint and
// rotates away from a failing one.
func maintainProxy(ctx context.Context, supplier *proxy.Supplier, metrics *monitoring.Metrics, log utils.Logger) {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if supplier.HealthCheck(ctx) {
				continue
			}
			log.Warn("proxy health check failed, rotating endpoint")
			supplier.Rotate()
			metrics.ProxyRotations.Inc()
		}
	}
}
