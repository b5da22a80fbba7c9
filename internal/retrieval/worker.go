package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/fulltext-service/internal/domain"
)

// DueQueue supplies retry entries whose backoff has elapsed.
// *retryqueue.Scheduler satisfies it.
type DueQueue interface {
	Due(ctx context.Context, limit int) ([]*domain.RetryEntry, error)
	Depth(ctx context.Context) (int64, error)
}

// RetryDownloader re-runs a retrieval for a due identifier. *Service
// satisfies it.
type RetryDownloader interface {
	DownloadForIdentifier(ctx context.Context, identifier, targetDir string) (*Result, error)
}

// WorkerConfig holds retry worker settings.
type WorkerConfig struct {
	// Interval is how often the worker drains due entries.
	Interval time.Duration

	// BatchSize caps how many due entries one drain processes.
	BatchSize int

	// TargetDir is where re-downloaded documents are written.
	TargetDir string
}

// RetryWorker periodically drains due retry entries and re-runs their
// retrievals. Outcomes flow through the orchestrator as usual: a success
// clears the entry, a transient failure advances its backoff, a permanent
// failure removes it.
type RetryWorker struct {
	queue      DueQueue
	downloader RetryDownloader
	cfg        WorkerConfig
	logger     zerolog.Logger
}

// NewRetryWorker creates a retry worker.
func NewRetryWorker(cfg WorkerConfig, queue DueQueue, downloader RetryDownloader, logger zerolog.Logger) *RetryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &RetryWorker{
		queue:      queue,
		downloader: downloader,
		cfg:        cfg,
		logger:     logger.With().Str("component", "retry-worker").Logger(),
	}
}

// Run drains the queue on every tick until the context is cancelled.
func (w *RetryWorker) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("interval", w.cfg.Interval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("retry worker started")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("retry worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// DrainOnce processes one batch of due entries. It is exported so operators
// can trigger a drain outside the ticker cadence.
func (w *RetryWorker) DrainOnce(ctx context.Context) {
	due, err := w.queue.Due(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list due retry entries")
		return
	}
	if len(due) == 0 {
		return
	}
	w.logger.Info().Int("due", len(due)).Msg("draining retry queue")

	for _, entry := range due {
		if ctx.Err() != nil {
			return
		}
		w.retryOne(ctx, entry)
	}

	// Refreshes the queue depth gauge as a side effect.
	if _, err := w.queue.Depth(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("failed to refresh retry queue depth")
	}
}

func (w *RetryWorker) retryOne(ctx context.Context, entry *domain.RetryEntry) {
	logger := w.logger.With().
		Str("identifier", entry.Identifier).
		Int("retry_count", entry.RetryCount).
		Str("category", string(entry.Category)).
		Logger()

	result, err := w.downloader.DownloadForIdentifier(ctx, entry.Identifier, w.cfg.TargetDir)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error().Err(err).Msg("retry run could not execute")
		return
	}

	switch result.Status {
	case StatusDownloaded:
		logger.Info().Str("provider", result.ProviderName).Msg("retry succeeded")
	case StatusAlreadyExists:
		logger.Info().Msg("retry satisfied by existing artifact")
	default:
		logger.Warn().
			Str("category", string(result.FailureCategory)).
			Bool("retry_scheduled", result.RetryScheduled).
			Msg("retry failed again")
	}
}
