// CreditTwin - Lending decisions from the outcomes of similar past borrowers.
// Copyright (c) 2025 opensource.finance
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

	"github.com/joho/godotenv"
	"github.com/opensource-finance/credittwin/internal/api"
	"github.com/opensource-finance/credittwin/internal/bus"
	"github.com/opensource-finance/credittwin/internal/cache"
	"github.com/opensource-finance/credittwin/internal/config"
	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/engine"
	"github.com/opensource-finance/credittwin/internal/index"
	"github.com/opensource-finance/credittwin/internal/ingest"
	"github.com/opensource-finance/credittwin/internal/narrative"
	"github.com/opensource-finance/credittwin/internal/repository"
	"github.com/opensource-finance/credittwin/internal/rules"
	"github.com/opensource-finance/credittwin/internal/storage"
	"github.com/opensource-finance/credittwin/internal/velocity"
	"github.com/opensource-finance/credittwin/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CREDITTWIN_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	slog.Info("starting credittwin",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"index", cfg.Index.Type,
		"narrative", cfg.Narrative.Provider,
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

	// Initialize Neighbour Index
	idx, err := index.New(cfg.Index)
	if err != nil {
		slog.Error("failed to initialize neighbour index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()
	slog.Info("neighbour index initialized", "type", cfg.Index.Type, "collection", cfg.Index.Collection)

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(repo, cacheImpl)

	// Initialize Rule Engine with velocity getter
	ruleEngine, err := rules.NewEngine(velocitySvc.GetVelocityGetter(), 100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRules(ctx, repo, ruleEngine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	// Narrative: Gemini when configured, templates otherwise
	var narrator narrative.Narrator
	if cfg.Narrative.Provider == "gemini" {
		gemini, err := narrative.NewGeminiNarrator(ctx, cfg.Narrative)
		if err != nil {
			slog.Warn("gemini unavailable, using template explanations", "error", err)
		} else {
			defer gemini.Close()
			narrator = gemini
		}
	}

	// Export archive
	archive, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to initialize archive storage", "error", err)
		os.Exit(1)
	}

	// Corpus service; rebuild the index from the repository if it lags
	corpus := ingest.NewService(repo, idx,
		ingest.WithEventBus(busImpl),
		ingest.WithBatchSize(cfg.Index.BatchSize),
	)
	if err := seedCorpus(ctx, repo, corpus); err != nil {
		slog.Error("failed to prepare corpus", "error", err)
		os.Exit(1)
	}

	evaluator := engine.New(idx, cfg.Engine, cfg.Policy,
		engine.WithRules(ruleEngine, cfg.Velocity.WindowSecs),
		engine.WithNarrator(narrative.NewGenerator(narrator)),
		engine.WithRepository(repo),
		engine.WithEventBus(busImpl),
		engine.WithVersion(Version),
	)

	// Async evaluation worker
	asyncWorker := worker.NewWorker(busImpl, evaluator)
	if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Engine.WorkerCount}); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}
	slog.Info("async worker started", "workers", cfg.Engine.WorkerCount)

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Index:     idx,
		Evaluator: evaluator,
		Corpus:    corpus,
		Archive:   archive,
		Version:   Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("credittwin is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("credittwin shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("CREDITTWIN_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadRules loads stored flag rules, seeding the built-in set on first start.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	if len(stored) == 0 {
		stored = rules.BuiltinRules()
		for _, r := range stored {
			if err := repo.SaveRuleConfig(ctx, r); err != nil {
				return fmt.Errorf("failed to seed rule %s: %w", r.ID, err)
			}
		}
		slog.Info("seeded built-in rules", "count", len(stored))
	}

	return engine.LoadRules(stored)
}

// seedCorpus hydrates the index and, when CREDITTWIN_SEED_SYNTHETIC is set,
// fills an empty corpus with synthetic cases.
func seedCorpus(ctx context.Context, repo domain.Repository, corpus *ingest.Service) error {
	n, err := repo.CountCases(ctx)
	if err != nil {
		return fmt.Errorf("failed to count cases: %w", err)
	}

	if n == 0 && os.Getenv("CREDITTWIN_SEED_SYNTHETIC") == "true" {
		res, err := corpus.Reset(ctx, ingest.DefaultSyntheticCount)
		if err != nil {
			return err
		}
		slog.Info("seeded synthetic corpus", "cases", res.Imported)
		return nil
	}

	indexed, err := corpus.Hydrate(ctx)
	if err != nil {
		return err
	}
	slog.Info("corpus ready", "cases", n, "hydrated", indexed)
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               CREDITTWIN                  ║")
	fmt.Println("  ║        Twin-Based Lending Engine          ║")
	fmt.Println("  ║   Decide by how similar borrowers did.    ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Index:    %s\n", cfg.Index.Type)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate              - Evaluate an application")
	fmt.Println("    POST /evaluate/async        - Queue an application")
	fmt.Println("    GET  /decisions/{id}        - Get decision by ID")
	fmt.Println("    GET  /clients/{id}/history  - Applicant history")
	fmt.Println("    GET  /stats                 - Corpus statistics")
	fmt.Println("    POST /data/import           - Import a CSV corpus")
	fmt.Println("    POST /data/reset            - Reset to synthetic data")
	fmt.Println("    GET  /data/export           - Export the corpus as CSV")
	fmt.Println("    GET  /rules                 - List flag rules")
	fmt.Println("    POST /rules/reload          - Hot-reload rules from database")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
