// Package main provides a standalone retry worker for the full-text
// retrieval service. It drains due retry queue entries and re-runs their
// retrievals, for deployments that disable the in-server worker
// (FULLTEXT_RETRY_WORKER_ENABLED=false) and scale draining separately.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/helixir/fulltext-service/internal/config"
	"github.com/helixir/fulltext-service/internal/database"
	"github.com/helixir/fulltext-service/internal/events"
	"github.com/helixir/fulltext-service/internal/observability"
	"github.com/helixir/fulltext-service/internal/performance"
	"github.com/helixir/fulltext-service/internal/repository"
	"github.com/helixir/fulltext-service/internal/retrieval"
	"github.com/helixir/fulltext-service/internal/retryqueue"
	"github.com/helixir/fulltext-service/internal/sources"
	"github.com/helixir/fulltext-service/internal/sources/httpfetch"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("fulltext-service retry worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	metrics := observability.NewMetrics("fulltext_worker", prometheus.NewRegistry())

	providerRepo := repository.NewPgProviderRepository(db)
	retryRepo := repository.NewPgRetryRepository(db)

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

	aggregator := performance.NewAggregator(db, logger)
	scheduler := retryqueue.NewScheduler(retryRepo, retryqueue.Policy{
		MaxRetries:           cfg.Retry.MaxRetries,
		RateLimitBaseDelay:   cfg.Retry.RateLimitBaseDelay,
		NetworkBaseDelay:     cfg.Retry.NetworkBaseDelay,
		ServerErrorBaseDelay: cfg.Retry.ServerErrorBaseDelay,
	}, metrics, logger)

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
	}

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

	worker := retrieval.NewRetryWorker(retrieval.WorkerConfig{
		Interval:  cfg.Retry.WorkerInterval,
		BatchSize: cfg.Retry.WorkerBatchSize,
		TargetDir: cfg.Retrieval.TargetDir,
	}, scheduler, retriever, logger)

	return worker.Run(ctx)
}
