package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vidkeep/vidkeep/internal/api"
	"github.com/vidkeep/vidkeep/internal/api/handler"
	"github.com/vidkeep/vidkeep/internal/config"
	"github.com/vidkeep/vidkeep/internal/credpool"
	"github.com/vidkeep/vidkeep/internal/fetcher"
	"github.com/vidkeep/vidkeep/internal/logger"
	"github.com/vidkeep/vidkeep/internal/queue"
	"github.com/vidkeep/vidkeep/internal/remote"
	"github.com/vidkeep/vidkeep/internal/repository"
	"github.com/vidkeep/vidkeep/internal/scheduler"
	"github.com/vidkeep/vidkeep/internal/syncer"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(&logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "vidkeep",
		File:        cfg.Logging.File,
		FileOnly:    cfg.Logging.FileOnly,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
	logger.SetDefaultLogger(appLogger)

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// Initialize repositories
	kvRepo := repository.NewKVRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	credRepo := repository.NewCredentialRepository(db)
	mediaRepo := repository.NewMediaRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the job queue, re-applying any persisted capacity override
	q := queue.New(queue.Config{
		CredentialedCap: cfg.Queue.CredentialedCap,
		AnonymousCap:    cfg.Queue.AnonymousCap,
		PollInterval:    cfg.Queue.PollInterval,
	}, appLogger)
	var override handler.CapacityOverride
	if err := kvRepo.GetJSON(ctx, handler.CapacityKey, &override); err == nil {
		q.SetCapacity(override.Credentialed, override.Anonymous)
	}

	// Credential pool
	pool := credpool.New(credRepo, credpool.Config{
		FailureThreshold: cfg.Credentials.FailureThreshold,
		FailureWindow:    cfg.Credentials.FailureWindow,
		MinPinDuration:   cfg.Credentials.MinPinDuration,
	}, appLogger)

	// Fetch tool client
	fetchClient := fetcher.New(fetcher.Config{
		Path:        cfg.YTDLP.Path,
		Timeout:     cfg.YTDLP.Timeout,
		OutputDir:   cfg.YTDLP.OutputDir,
		RateLimitKB: cfg.YTDLP.RateLimitKB,
	}, subRepo, mediaRepo, appLogger)

	// Incremental sync service
	syncService := syncer.New(kvRepo, fetchClient, appLogger)

	// Metadata probe
	probeClient := remote.NewProbeClient(appLogger)

	// Failure records and backfill
	failureStore := scheduler.NewFailureStore(kvRepo)

	// Periodic loops
	coordinator := scheduler.NewCoordinator(
		q,
		syncService,
		subRepo,
		mediaRepo,
		fetchClient,
		failureStore,
		kvRepo,
		scheduler.CoordinatorConfig{
			Interval:           cfg.Scheduler.Interval,
			SubsPerCycle:       cfg.Scheduler.SubsPerCycle,
			PerSubQuota:        cfg.Scheduler.PerSubQuota,
			BackfillPerCycle:   cfg.Scheduler.BackfillPerCycle,
			EnqueueDelay:       cfg.Scheduler.EnqueueDelay,
			TimeBudget:         cfg.Scheduler.TimeBudget,
			LockStaleness:      cfg.Scheduler.LockStaleness,
			IncrementalDefault: cfg.Sync.IncrementalDefault,
		},
		appLogger,
	)

	runner := scheduler.NewRunner(
		q,
		fetchClient,
		syncService,
		probeClient,
		pool,
		mediaRepo,
		failureStore,
		scheduler.RunnerConfig{
			SnapshotCap: cfg.Sync.SnapshotCap,
		},
		appLogger,
	)

	reaper := scheduler.NewReaper(q, scheduler.ReaperConfig{
		Interval:   cfg.Reaper.Interval,
		Threshold:  cfg.Reaper.Threshold,
		TargetKind: queue.Kind(cfg.Reaper.TargetKind),
	}, appLogger)

	refresher := scheduler.NewRefresher(q, subRepo, cfg.Sync.RefreshInterval, appLogger)

	go coordinator.Run(ctx)
	go runner.Run(ctx)
	go reaper.Run(ctx)
	go refresher.Run(ctx)

	// Setup router
	router := api.SetupRouter(&cfg.Server, api.Deps{
		Queue:         q,
		KV:            kvRepo,
		Subscriptions: subRepo,
		Media:         mediaRepo,
		Credentials:   credRepo,
		Pool:          pool,
		Sync:          syncService,
		Logger:        appLogger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting API server on port %d (mode=%s)", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop the periodic loops first so no new jobs start mid-shutdown
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
