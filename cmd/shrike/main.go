// Shrike - Fraud-ring graph dataset builder.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/shrike/internal/api"
	"github.com/opensource-finance/shrike/internal/bus"
	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/pipeline"
	"github.com/opensource-finance/shrike/internal/repository"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	var (
		ledgerPath   = flag.String("ledger", "", "path to the raw transaction ledger CSV (required)")
		patternsPath = flag.String("patterns", "", "path to the fraud pattern dump (required)")
		accountsPath = flag.String("accounts", "", "optional path to account metadata CSV")
		outputDir    = flag.String("out", "./dataset", "directory for exported CSV tables")
		seed         = flag.Int64("seed", 0, "random seed override (0 keeps the configured default)")
		sampleLimit  = flag.Int("sample", -1, "ledger row cap override (-1 keeps the configured default)")
		store        = flag.Bool("store", false, "persist the run to the configured database")
		serve        = flag.Bool("serve", false, "serve the finished run over HTTP")
	)
	flag.Parse()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("SHRIKE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting shrike",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	if *ledgerPath == "" || *patternsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: shrike -ledger <file> -patterns <file> [-accounts <file>] [-out <dir>] [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// Load configuration
	cfg := domain.DefaultConfig()
	if *seed != 0 {
		cfg.Pipeline.Seed = *seed
	}
	if *sampleLimit >= 0 {
		cfg.Pipeline.SampleLimit = *sampleLimit
	}

	slog.Info("configuration loaded",
		"seed", cfg.Pipeline.Seed,
		"sample_limit", cfg.Pipeline.SampleLimit,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
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

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Run the pipeline
	p := pipeline.New(cfg, busImpl)
	result, err := p.Run(ctx, pipeline.Inputs{
		LedgerPath:   *ledgerPath,
		PatternsPath: *patternsPath,
		AccountsPath: *accountsPath,
		OutputDir:    *outputDir,
	})
	if err != nil {
		slog.Error("pipeline failed", "error", err)
		os.Exit(1)
	}

	// Persist the run if requested
	var repo domain.Repository
	if *store {
		repo, err = repository.New(cfg.Repository)
		if err != nil {
			slog.Error("failed to initialize repository", "error", err)
			os.Exit(1)
		}
		defer repo.Close()

		if err := repo.SaveDataset(ctx, result.RunID, result.Dataset, result.Reconciliation); err != nil {
			slog.Error("failed to persist run", "run_id", result.RunID, "error", err)
			os.Exit(1)
		}
		slog.Info("run persisted", "run_id", result.RunID, "driver", cfg.Repository.Driver)
	}

	printSummary(result, *outputDir)

	if !*serve {
		return
	}

	// Initialize Cache for the serving layer
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize Server
	srv := api.NewServer(cfg.Server, result, repo, cacheImpl, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("shrike is serving",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"run_id", result.RunID,
	)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("shrike shutdown complete")
}

func printSummary(result *pipeline.Result, outputDir string) {
	ds := result.Dataset
	rec := result.Reconciliation

	fmt.Println()
	fmt.Printf("  Run:          %s\n", result.RunID)
	fmt.Printf("  Output:       %s\n", outputDir)
	fmt.Printf("  Accounts:     %d (%d partners, %d clients, %d fraudulent)\n",
		result.Stats.Accounts, result.Stats.Partners, result.Stats.Clients, result.Stats.FraudulentAccounts)
	fmt.Printf("  Referrals:    %d\n", len(ds.Referrals))
	fmt.Printf("  Trades:       %d (%d opposite, %d bonus abuse)\n",
		len(ds.Trades), result.Stats.OppositeTrades, result.Stats.BonusAbuseTrades)
	fmt.Printf("  Commissions:  %d\n", len(ds.Commissions))
	fmt.Printf("  Withdrawals:  %d\n", len(ds.Withdrawals))
	fmt.Printf("  Fraud rings:  %d\n", len(ds.FraudRings))
	fmt.Printf("  Injection:    opposite %d/%d, bonus %d/%d\n",
		rec.OppositeActual, rec.OppositeTarget, rec.BonusActual, rec.BonusTarget)
	for _, g := range result.GateResults {
		mark := "PASS"
		if !g.Passed {
			mark = "FAIL"
		}
		fmt.Printf("  Gate %-24s %s\n", g.GateID+":", mark)
	}
	fmt.Println()
}
