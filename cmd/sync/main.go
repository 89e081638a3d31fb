package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaehyuksim/catsync/internal/checkpoint"
	"github.com/jaehyuksim/catsync/internal/config"
	"github.com/jaehyuksim/catsync/internal/domain"
	"github.com/jaehyuksim/catsync/internal/logger"
	"github.com/jaehyuksim/catsync/internal/repository"
	"github.com/jaehyuksim/catsync/internal/service"
	"github.com/jaehyuksim/catsync/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "catsync-sync",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	batchSize := flag.Int("batch-size", 0, "Batch size for upserts (0 uses config)")
	resume := flag.Bool("resume", false, "Resume from an existing checkpoint")
	dryRun := flag.Bool("dry-run", false, "Resolve the change set without applying anything")
	retryFailed := flag.Int("retry-failed", 0, "Retry up to N ledgered failures instead of running a sync")
	resetFlags := flag.Bool("reset-flags", false, "Clear all conversion flags and exit")
	recreate := flag.Bool("recreate-collection", false, "Drop and recreate the vector collection before syncing")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	productRepo := repository.NewProductRepository(db, cfg.Database.CommandTimeout)
	failureRepo := repository.NewFailureRepository(db, cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, cfg.Database.CommandTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *resetFlags {
		n, err := productRepo.ResetConversionFlags(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to reset conversion flags")
		}
		appLogger.WithField("rows", n).Info("Conversion flags cleared, next sync re-indexes everything")
		return
	}

	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:               cfg.Qdrant.Host,
		Port:               cfg.Qdrant.Port,
		Collection:         cfg.Qdrant.Collection,
		APIKey:             cfg.Qdrant.APIKey,
		UseTLS:             cfg.Qdrant.UseTLS,
		VectorDimension:    cfg.Embedding.Dimensions,
		UpsertBatchSize:    cfg.Qdrant.UpsertBatchSize,
		MaxParallelBatches: cfg.Qdrant.MaxParallelBatches,
		OperationTimeout:   cfg.Sync.OperationTimeout,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
	}
	defer qdrantRepo.Close()

	if *recreate {
		if err := qdrantRepo.DropAndRecreate(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to recreate collection")
		}
		appLogger.WithField("collection", cfg.Qdrant.Collection).Info("Collection recreated")
	} else if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure collection")
	}

	limiter := service.NewRateLimiter(cfg.Embedding.RequestsPerMinute, cfg.Embedding.TokensPerMinute)
	embedder := service.NewEmbeddingService(&service.EmbeddingOptions{
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
		MaxRetries: cfg.Embedding.MaxRetries,
		BaseDelay:  cfg.Embedding.BaseDelay,
		MaxDelay:   cfg.Embedding.MaxDelay,
		Timeout:    cfg.Embedding.Timeout,
	}, limiter, appLogger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if *retryFailed > 0 {
		proc := service.NewRecordProcessor(productRepo, qdrantRepo, embedder, appLogger)
		retrier := service.NewFailureRetrier(failureRepo, proc, domain.RetryStrategy(cfg.Retry.Strategy), appLogger)

		go func() {
			<-sigChan
			appLogger.Info("Received shutdown signal, canceling...")
			cancel()
		}()

		report, err := retrier.Drain(ctx, *retryFailed)
		if err != nil {
			appLogger.WithError(err).Fatal("Retry pass failed")
		}
		appLogger.WithFields(logger.Fields{
			"attempted":     report.Attempted,
			"succeeded":     report.Succeeded,
			"failed":        report.Failed,
			"dead_lettered": report.DeadLettered,
		}).Info("Retry pass completed")
		return
	}

	var archive storage.ArchiveStorage
	if cfg.Archive.Enabled {
		s3, err := storage.NewS3Storage(&storage.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize archive storage")
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure archive bucket")
		}
		archive = s3
	}

	checkpoints := checkpoint.NewStore(cfg.Checkpoint.File, archive, appLogger)

	pipeline := service.NewSyncPipeline(productRepo, qdrantRepo, embedder, checkpoints, failureRepo, appLogger)

	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, finishing current batch...")
		pipeline.Stop()
	}()

	size := *batchSize
	if size <= 0 {
		size = cfg.Sync.BatchSize
	}

	appLogger.WithFields(logger.Fields{
		"batch_size": size,
		"resume":     *resume,
		"dry_run":    *dryRun,
	}).Info("Starting sync")

	report, err := pipeline.Run(ctx, service.SyncOptions{
		BatchSize:       size,
		DryRun:          *dryRun,
		Resume:          *resume,
		InterBatchDelay: cfg.Sync.InterBatchDelay,
		ProgressEvery:   cfg.Sync.ProgressEvery,
		OnProgress: func(p service.Progress) {
			appLogger.WithFields(logger.Fields{
				"processed": p.Processed,
				"total":     p.Total,
				"success":   p.Success,
				"errors":    p.Errors,
				"elapsed":   p.Elapsed.String(),
				"eta":       p.ETA.String(),
			}).Info("Sync progress")
		},
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Sync failed")
	}

	appLogger.WithFields(logger.Fields{
		"session_id":      report.SessionID,
		"planned_upserts": report.PlannedUpserts,
		"planned_deletes": report.PlannedDeletes,
		"processed":       report.Processed,
		"success":         report.Success,
		"errors":          report.Errors,
		"deleted":         report.Deleted,
		"stopped":         report.Stopped,
		"duration":        report.Duration.String(),
	}).Info("Sync finished")
}
