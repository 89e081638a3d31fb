package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jaehyuksim/catsync/internal/api"
	"github.com/jaehyuksim/catsync/internal/api/handler"
	"github.com/jaehyuksim/catsync/internal/api/middleware"
	"github.com/jaehyuksim/catsync/internal/checkpoint"
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
		ServiceName: "catsync-api",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Support CONFIG_PATH environment variable for production deployments
	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
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

	checkpoints := checkpoint.NewStore(cfg.Checkpoint.File, nil, appLogger)
	pipeline := service.NewSyncPipeline(productRepo, qdrantRepo, embedder, checkpoints, failureRepo, appLogger)

	jobQueue := queue.New(&queue.Options{
		Addr:     cfg.Queue.Addr,
		Password: cfg.Queue.Password,
		DB:       cfg.Queue.DB,
		Name:     cfg.Queue.Name,
	})
	defer jobQueue.Close()

	syncHandler := handler.NewSyncHandler(pipeline, checkpoints, jobQueue, productRepo, qdrantRepo)
	failureHandler := handler.NewFailureHandler(failureRepo, retrier, proc)

	router := api.SetupRouter(syncHandler, failureHandler, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
