package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jaehyuksim/catsync/internal/config"
	"github.com/jaehyuksim/catsync/internal/domain"
	"github.com/jaehyuksim/catsync/internal/logger"
	"github.com/jaehyuksim/catsync/internal/queue"
	"github.com/jaehyuksim/catsync/internal/repository"
	"github.com/jaehyuksim/catsync/internal/service"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "catsync-worker",
	})
	logger.SetDefaultLogger(appLogger)

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
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

	proc := service.NewRecordProcessor(productRepo, qdrantRepo, embedder, appLogger)
	retrier := service.NewFailureRetrier(failureRepo, proc, domain.RetryStrategy(cfg.Retry.Strategy), appLogger)

	jobQueue := queue.New(&queue.Options{
		Addr:     cfg.Queue.Addr,
		Password: cfg.Queue.Password,
		DB:       cfg.Queue.DB,
		Name:     cfg.Queue.Name,
	})
	defer jobQueue.Close()

	if err := jobQueue.Ping(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to connect to job queue")
	}

	handler := func(ctx context.Context, job domain.Job) error {
		provider, externalID := job.Subject()

		var err error
		switch job.Kind() {
		case domain.JobKindDelete:
			err = proc.DeleteRecord(ctx, provider, externalID)
		default:
			err = proc.SyncRecord(ctx, provider, externalID)
		}
		if err == nil {
			return nil
		}

		// Failed jobs go to the ledger; the retrier picks them up on
		// its own schedule.
		op := operationOf(job.Kind())
		if _, recErr := failureRepo.Record(ctx, op, provider, externalID, err, repository.FailureContext{
			JobID: job.JobID(),
			Step:  "worker",
		}); recErr != nil {
			appLogger.WithError(recErr).Error("Failed to ledger job failure")
		}
		return err
	}

	poller := queue.NewPoller(jobQueue, handler, cfg.Queue.PollInterval, cfg.Queue.BatchSize, appLogger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	// Retry pass on a fixed schedule alongside the queue poller.
	go func() {
		ticker := time.NewTicker(cfg.Retry.BaseDelay)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := retrier.Drain(ctx, 100); err != nil && ctx.Err() == nil {
					appLogger.WithError(err).Error("Retry pass failed")
				}
			}
		}
	}()

	if err := poller.Run(ctx); err != nil && err != context.Canceled {
		appLogger.WithError(err).Fatal("Poller exited")
	}
	appLogger.Info("Worker exited")
}

func operationOf(kind domain.JobKind) domain.OperationType {
	switch kind {
	case domain.JobKindUpdate:
		return domain.OperationUpdate
	case domain.JobKindDelete:
		return domain.OperationDelete
	default:
		return domain.OperationSync
	}
}
