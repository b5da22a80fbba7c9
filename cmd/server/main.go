// Package main provides the entry point for the full-text retrieval service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/fulltext-service/internal/batch"
	"github.com/helixir/fulltext-service/internal/config"
	"github.com/helixir/fulltext-service/internal/database"
	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/events"
	"github.com/helixir/fulltext-service/internal/observability"
	"github.com/helixir/fulltext-service/internal/performance"
	"github.com/helixir/fulltext-service/internal/repository"
	"github.com/helixir/fulltext-service/internal/retrieval"
	"github.com/helixir/fulltext-service/internal/retryqueue"
	httpserver "github.com/helixir/fulltext-service/internal/server/http"
	"github.com/helixir/fulltext-service/internal/sources"
	"github.com/helixir/fulltext-service/internal/sources/httpfetch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("fulltext-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Set up metrics on a dedicated registry.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics("fulltext", registry)

	// Create repositories.
	providerRepo := repository.NewPgProviderRepository(db)
	attemptRepo := repository.NewPgAttemptRepository(db)
	retryRepo := repository.NewPgRetryRepository(db)

	// Reconcile the catalog with static configuration. Upsert only refreshes
	// connection settings; admin-owned fields (enabled, priority) survive for
	// providers that already exist.
	if err := seedCatalog(ctx, providerRepo, cfg.Providers); err != nil {
		return fmt.Errorf("seed provider catalog: %w", err)
	}
	logger.Info().Int("providers", len(cfg.Providers)).Msg("provider catalog reconciled")

	// Register one HTTP fetcher per configured provider.
	fetcherRegistry := sources.NewRegistry()
	for name, pc := range cfg.Providers {
		fetcherRegistry.Register(httpfetch.New(httpfetch.Config{
			ProviderName:         name,
			BaseURL:              pc.BaseURL,
			APIKey:               pc.APIKey,
			MaxSize:              cfg.Retrieval.MaxDocumentSize,
			UserAgent:            cfg.Retrieval.UserAgent,
			RateLimit:            pc.RateLimit,
			AllowPrivateNetworks: cfg.Retrieval.AllowPrivateNetworks,
		}, logger))
	}

	// Performance aggregator and retry scheduler.
	aggregator := performance.NewAggregator(db, logger)
	scheduler := retryqueue.NewScheduler(retryRepo, retryqueue.Policy{
		MaxRetries:           cfg.Retry.MaxRetries,
		RateLimitBaseDelay:   cfg.Retry.RateLimitBaseDelay,
		NetworkBaseDelay:     cfg.Retry.NetworkBaseDelay,
		ServerErrorBaseDelay: cfg.Retry.ServerErrorBaseDelay,
	}, metrics, logger)

	// Kafka publisher for retrieval events, when enabled.
	var publisher retrieval.EventPublisher
	if cfg.Events.Enabled {
		kafkaPublisher := events.NewPublisher(events.Config{
			Brokers:      cfg.Events.Brokers,
			Topic:        cfg.Events.Topic,
			BatchTimeout: cfg.Events.BatchTimeout,
		}, logger)
		defer func() {
			if closeErr := kafkaPublisher.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close event publisher")
			}
		}()
		publisher = kafkaPublisher
		logger.Info().
			Strs("brokers", cfg.Events.Brokers).
			Str("topic", cfg.Events.Topic).
			Msg("event publisher enabled")
	}

	// Retrieval orchestrator.
	retriever := retrieval.NewService(
		retrieval.Config{},
		providerRepo,
		fetcherRegistry,
		aggregator,
		scheduler,
		publisher,
		metrics,
		logger,
	)

	// Per-request batch drivers share the orchestrator.
	batchFactory := func(concurrency int) httpserver.BatchRunner {
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}
		return batch.NewDriver(batch.Config{
			Concurrency:    concurrency,
			InterCallDelay: cfg.Batch.InterCallDelay,
		}, retriever, metrics, logger)
	}

	// HTTP REST API server.
	httpSrv := httpserver.NewServer(
		httpserver.Config{
			Address:             cfg.Server.HTTPAddress(),
			ReadTimeout:         cfg.Server.ReadTimeout,
			WriteTimeout:        cfg.Server.WriteTimeout,
			ShutdownTimeout:     cfg.Server.ShutdownTimeout,
			DefaultTargetDir:    cfg.Retrieval.TargetDir,
			MaxBatchIdentifiers: cfg.Batch.MaxIdentifiers,
			MaxBatchConcurrency: cfg.Batch.MaxConcurrency,
		},
		retriever,
		batchFactory,
		providerRepo,
		aggregator,
		scheduler,
		attemptRepo,
		db,
		nil,
		logger,
	)

	// Prometheus metrics on a separate port.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Retry worker drains due entries inside the server process unless it is
	// delegated to a standalone worker deployment.
	if cfg.Retry.WorkerEnabled {
		worker := retrieval.NewRetryWorker(retrieval.WorkerConfig{
			Interval:  cfg.Retry.WorkerInterval,
			BatchSize: cfg.Retry.WorkerBatchSize,
			TargetDir: cfg.Retrieval.TargetDir,
		}, scheduler, retriever, logger)
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("retry worker stopped unexpectedly")
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", cfg.Server.HTTPAddress())
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("fulltext-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down fulltext-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("fulltext-service shutdown complete")
	return nil
}

// seedCatalog upserts the statically configured providers so the catalog
// always knows every provider the registry can serve.
func seedCatalog(ctx context.Context, repo *repository.PgProviderRepository, providers map[string]config.ProviderConfig) error {
	for name, pc := range providers {
		provider := &domain.Provider{
			Name:         name,
			Enabled:      pc.Enabled,
			Priority:     pc.Priority,
			RequiresAuth: pc.RequiresAuth,
			Timeout:      pc.Timeout,
			BaseURL:      pc.BaseURL,
		}
		if err := repo.Upsert(ctx, provider); err != nil {
			return fmt.Errorf("upsert provider %q: %w", name, err)
		}
	}
	return nil
}
