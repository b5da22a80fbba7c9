// Package batch drives retrieval runs for many identifiers at once under a
// concurrency cap and an inter-call delay, so a bulk backfill cannot hammer
// the providers the way a naive loop would.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/observability"
	"github.com/helixir/fulltext-service/internal/retrieval"
)

// Downloader runs one retrieval. *retrieval.Service satisfies it.
type Downloader interface {
	DownloadForIdentifier(ctx context.Context, identifier, targetDir string) (*retrieval.Result, error)
}

// Config holds batch driver settings.
type Config struct {
	// Concurrency is the number of identifiers processed at once.
	Concurrency int

	// InterCallDelay is the minimum spacing between dispatches, spreading
	// provider traffic over the batch instead of front-loading it.
	InterCallDelay time.Duration
}

// Report summarizes one batch run.
type Report struct {
	BatchID    uuid.UUID            `json:"batch_id"`
	Total      int                  `json:"total"`
	Downloaded int                  `json:"downloaded"`
	Existing   int                  `json:"already_exists"`
	Failed     int                  `json:"failed"`
	Errored    int                  `json:"errored"`
	Skipped    int                  `json:"skipped"`
	Results    []*retrieval.Result  `json:"results"`
	Errors     map[string]string    `json:"errors,omitempty"`
	Elapsed    time.Duration        `json:"elapsed_ms"`
}

// Driver fans identifiers out to a bounded worker pool.
type Driver struct {
	downloader Downloader
	cfg        Config
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewDriver creates a batch driver. metrics may be nil.
func NewDriver(cfg Config, downloader Downloader, metrics *observability.Metrics, logger zerolog.Logger) *Driver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Driver{
		downloader: downloader,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With().Str("component", "batch").Logger(),
	}
}

// Run processes the identifiers and returns a per-batch report. Duplicate
// identifiers are processed once. Cancelling the context stops dispatching
// new identifiers but lets in-flight retrievals finish; identifiers never
// dispatched are counted as skipped in the report, and Run returns the
// report together with the context error.
func (d *Driver) Run(ctx context.Context, identifiers []string, targetDir string) (*Report, error) {
	if len(identifiers) == 0 {
		return nil, domain.NewValidationError("identifiers", "at least one identifier is required")
	}
	if targetDir == "" {
		return nil, domain.NewValidationError("target_dir", "target directory is required")
	}

	unique := dedupe(identifiers)
	batchID := uuid.New()
	started := time.Now()
	logger := d.logger.With().Str("batch_id", batchID.String()).Logger()
	logger.Info().
		Int("identifiers", len(unique)).
		Int("concurrency", d.cfg.Concurrency).
		Dur("inter_call_delay", d.cfg.InterCallDelay).
		Msg("batch started")
	if d.metrics != nil {
		d.metrics.BatchesStarted.Inc()
	}

	report := &Report{
		BatchID: batchID,
		Total:   len(unique),
		Errors:  make(map[string]string),
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var wg sync.WaitGroup

	// Cancellation stops dispatch only: an identifier that was already
	// handed to a worker runs to completion, so in-flight provider calls
	// are never cut off mid-download and never record spurious failures.
	runCtx := context.WithoutCancel(ctx)
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for identifier := range jobs {
				d.runOne(runCtx, identifier, targetDir, report, &mu)
			}
		}()
	}

	// The limiter spaces dispatches; burst 1 means every dispatch waits its
	// full interval.
	var limiter *rate.Limiter
	if d.cfg.InterCallDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(d.cfg.InterCallDelay), 1)
	}

	dispatched := 0
dispatch:
	for _, identifier := range unique {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break dispatch
			}
		} else if ctx.Err() != nil {
			break dispatch
		}
		select {
		case jobs <- identifier:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	report.Skipped = len(unique) - dispatched
	report.Elapsed = time.Since(started)
	if d.metrics != nil {
		d.metrics.BatchDuration.Observe(report.Elapsed.Seconds())
	}
	logger.Info().
		Int("downloaded", report.Downloaded).
		Int("already_exists", report.Existing).
		Int("failed", report.Failed).
		Int("errored", report.Errored).
		Int("skipped", report.Skipped).
		Dur("elapsed", report.Elapsed).
		Msg("batch finished")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// runOne downloads a single identifier and folds the outcome into the report.
func (d *Driver) runOne(ctx context.Context, identifier, targetDir string, report *Report, mu *sync.Mutex) {
	result, err := d.downloader.DownloadForIdentifier(ctx, identifier, targetDir)

	mu.Lock()
	defer mu.Unlock()

	if err != nil {
		report.Errored++
		report.Errors[identifier] = err.Error()
		if d.metrics != nil {
			d.metrics.BatchIdentifiers.WithLabelValues("errored").Inc()
		}
		return
	}

	report.Results = append(report.Results, result)
	var label string
	switch result.Status {
	case retrieval.StatusDownloaded:
		report.Downloaded++
		label = "downloaded"
	case retrieval.StatusAlreadyExists:
		report.Existing++
		label = "already_exists"
	default:
		report.Failed++
		label = "failed"
	}
	if d.metrics != nil {
		d.metrics.BatchIdentifiers.WithLabelValues(label).Inc()
	}
}

// dedupe returns the identifiers with duplicates removed, preserving order.
func dedupe(identifiers []string) []string {
	seen := make(map[string]struct{}, len(identifiers))
	unique := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
