package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mimir-aip/prognosis-go/pkg/api"
	"github.com/mimir-aip/prognosis-go/pkg/config"
	"github.com/mimir-aip/prognosis-go/pkg/logging"
	"github.com/mimir-aip/prognosis-go/pkg/metadatastore"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/builtin"
	"github.com/mimir-aip/prognosis-go/pkg/queue"
	"github.com/mimir-aip/prognosis-go/pkg/scheduler"
	"github.com/mimir-aip/prognosis-go/pkg/studies"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting prognosis orchestrator", zap.String("environment", cfg.Environment))

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.Workspace, 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	store, err := metadatastore.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize SQLite storage: %w", err)
	}
	defer store.Close()
	logger.Info("Initialized SQLite storage", zap.String("path", cfg.DatabasePath))

	// Initialize in-memory study queue
	q := queue.NewQueue(cfg.QueueCapacity)
	reg := builtin.NewRegistry()

	studyService := studies.NewService(store, reg, q, cfg.Workspace, logger)
	schedulerService := scheduler.NewService(store, studyService, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	studyService.Start(ctx, cfg.Workers)
	if n, err := studyService.Recover(); err != nil {
		logger.Warn("Failed to recover interrupted studies", zap.Error(err))
	} else if n > 0 {
		logger.Info("Resubmitted interrupted studies", zap.Int("count", n))
	}

	if cfg.EnableScheduler {
		if err := schedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		logger.Info("Started study scheduler")
	}

	server := api.NewServer(q, studyService, schedulerService, reg, cfg.Port, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("Orchestrator started successfully", zap.Int("workers", cfg.Workers))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("API server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down orchestrator")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown failed", zap.Error(err))
	}
	if cfg.EnableScheduler {
		schedulerService.Stop()
	}
	// Running studies stop at their next trial boundary and keep their checkpoints
	studyService.Stop()
	q.Close()
	return nil
}
