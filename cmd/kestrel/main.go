// Kestrel - Return-abuse risk scoring for e-commerce returns.
// Copyright (c) 2025 opensource.retail
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-retail/kestrel/internal/api"
	"github.com/opensource-retail/kestrel/internal/bus"
	"github.com/opensource-retail/kestrel/internal/cache"
	"github.com/opensource-retail/kestrel/internal/domain"
	"github.com/opensource-retail/kestrel/internal/explain"
	"github.com/opensource-retail/kestrel/internal/metrics"
	"github.com/opensource-retail/kestrel/internal/ml"
	"github.com/opensource-retail/kestrel/internal/narrative"
	"github.com/opensource-retail/kestrel/internal/predict"
	"github.com/opensource-retail/kestrel/internal/repository"
	"github.com/opensource-retail/kestrel/internal/rules"
	"github.com/opensource-retail/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// purgeInterval is how often the retention janitor sweeps expired audit
// records.
const purgeInterval = time.Hour

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"ml_enabled", cfg.ML.Endpoint != "",
		"narrative_enabled", cfg.Narrative.Endpoint != "",
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine with the built-in scoring table
	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// External collaborators (both optional)
	var scorer domain.Scorer
	if s := ml.NewScorer(cfg.ML, logger); s != nil {
		scorer = s
		slog.Info("external scorer enabled", "endpoint", cfg.ML.Endpoint)
	}

	var generator domain.NarrativeGenerator
	if g := narrative.NewGenerator(cfg.Narrative, logger); g != nil {
		generator = g
		slog.Info("narrative generator enabled", "endpoint", cfg.Narrative.Endpoint)
	}

	composer := explain.NewComposer(generator, logger)

	// Initialize prediction pipeline
	predictor := predict.NewPredictor(engine, composer, predict.Options{
		Scorer:     scorer,
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		CacheTTL:   cfg.Cache.LocalTTL,
		Logger:     logger,
	})

	// Retention janitor
	go runJanitor(ctx, repo)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, predictor, logger)

		var tenantIDs []string
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, predictor, engine, repo, cacheImpl, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnvOverrides maps KESTREL_* environment variables onto the config.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_ML_ENDPOINT"); v != "" {
		cfg.ML.Endpoint = v
	}
	if v := os.Getenv("KESTREL_NARRATIVE_ENDPOINT"); v != "" {
		cfg.Narrative.Endpoint = v
	}
	if v := os.Getenv("KESTREL_NARRATIVE_MODEL"); v != "" {
		cfg.Narrative.ModelID = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
}

// runJanitor periodically removes audit records past their retention
// window.
func runJanitor(ctx context.Context, repo domain.Repository) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := repo.PurgeExpired(ctx)
			if err != nil {
				slog.Error("audit purge failed", "error", err)
				continue
			}
			if purged > 0 {
				metrics.PurgedRecords.Add(float64(purged))
				slog.Info("audit records purged", "count", purged)
			}
		}
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║      Return Risk Scoring Engine           ║")
	fmt.Println("  ║      Eyes on every return.                ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict                      - Score a return request")
	fmt.Println("    GET  /predictions/{id}             - Get prediction by ID")
	fmt.Println("    GET  /orders/{id}/predictions      - Get audit trail for an order")
	fmt.Println("    GET  /rules                        - List the scoring table")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println("    GET  /metrics                      - Prometheus metrics")
	fmt.Println()
}
