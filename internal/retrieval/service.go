// Package retrieval implements the per-identifier download orchestration: it
// walks the candidate providers in learned order, records every attempt in
// the ledger, persists the artifact on success, and hands failures to the
// retry scheduler.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/events"
	"github.com/helixir/fulltext-service/internal/observability"
	"github.com/helixir/fulltext-service/internal/performance"
	"github.com/helixir/fulltext-service/internal/retryqueue"
	"github.com/helixir/fulltext-service/internal/sources"
)

// ErrLedgerWrite marks a run aborted because an attempt could not be recorded
// in the ledger. It is deliberately distinct from provider failure: the
// routing state is only trustworthy while every attempt lands in the ledger,
// so the orchestrator stops rather than continue unrecorded.
var ErrLedgerWrite = errors.New("attempt ledger write failed")

// Status describes how a retrieval run ended.
type Status string

const (
	// StatusDownloaded means a provider delivered the document this run.
	StatusDownloaded Status = "downloaded"

	// StatusAlreadyExists means the artifact was already on disk and no
	// provider was contacted.
	StatusAlreadyExists Status = "already_exists"

	// StatusFailed means every candidate provider failed.
	StatusFailed Status = "failed"
)

// Result is the outcome of one retrieval run for one identifier.
type Result struct {
	Identifier string `json:"identifier"`
	Status     Status `json:"status"`

	// ProviderName is the provider that delivered the document, when Status
	// is StatusDownloaded.
	ProviderName string `json:"provider_name,omitempty"`

	// Path is the artifact location on disk for downloaded or short-circuited
	// runs.
	Path string `json:"path,omitempty"`

	ByteSize int64 `json:"byte_size,omitempty"`

	// ProvidersTried is how many providers were contacted this run.
	ProvidersTried int `json:"providers_tried"`

	// FailureCategory classifies the run when Status is StatusFailed.
	FailureCategory domain.FailureCategory `json:"failure_category,omitempty"`

	// RetryScheduled reports whether a retry queue entry now exists for the
	// identifier.
	RetryScheduled bool `json:"retry_scheduled"`

	// NextRetryAt is when the scheduled retry becomes due, if any.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	Elapsed time.Duration `json:"elapsed_ms"`
}

// Catalog supplies the enabled provider set. repository.PgProviderRepository
// satisfies it.
type Catalog interface {
	ListEnabled(ctx context.Context) ([]*domain.Provider, error)
}

// Performance is the slice of the aggregator the orchestrator needs.
type Performance interface {
	RecordAttempt(ctx context.Context, attempt *domain.Attempt) error
	Rank(ctx context.Context, candidates []*domain.Provider) ([]performance.RankedProvider, error)
	BestProviderForPrefix(ctx context.Context, prefix string) (string, error)
}

// RetryReporter is the slice of the retry scheduler the orchestrator needs.
type RetryReporter interface {
	OnFailure(ctx context.Context, identifier string, category domain.FailureCategory) (retryqueue.Outcome, *domain.RetryEntry, error)
	OnSuccess(ctx context.Context, identifier string) error
}

// EventPublisher emits document.retrieved events. May be left nil.
type EventPublisher interface {
	PublishRetrieved(ctx context.Context, event events.DocumentRetrieved) error
}

// Config holds orchestrator settings.
type Config struct {
	// DefaultTimeout bounds a single provider fetch when the catalog entry
	// carries no timeout of its own.
	DefaultTimeout time.Duration
}

// Service orchestrates retrieval runs.
type Service struct {
	catalog   Catalog
	registry  *sources.Registry
	perf      Performance
	retries   RetryReporter
	publisher EventPublisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
	cfg       Config
	now       func() time.Time
}

// NewService creates a retrieval orchestrator. publisher and metrics may be nil.
func NewService(
	cfg Config,
	catalog Catalog,
	registry *sources.Registry,
	perf Performance,
	retries RetryReporter,
	publisher EventPublisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Service {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &Service{
		catalog:   catalog,
		registry:  registry,
		perf:      perf,
		retries:   retries,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "retrieval").Logger(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// DownloadForIdentifier runs the full candidate loop for one identifier.
//
// An existing non-empty artifact short-circuits the run without contacting
// any provider or recording any attempt, making repeated calls idempotent.
// Otherwise candidates are tried in learned order until one succeeds or all
// fail; every contact is recorded in the ledger before the run moves on. A
// fully failed run is a domain outcome, returned as a StatusFailed result
// with a nil error; the error return is reserved for runs that could not
// execute (validation, empty catalog, ledger write failure).
func (s *Service) DownloadForIdentifier(ctx context.Context, identifier, targetDir string) (*Result, error) {
	if identifier == "" {
		return nil, domain.NewValidationError("identifier", "identifier is required")
	}
	if targetDir == "" {
		return nil, domain.NewValidationError("target_dir", "target directory is required")
	}

	started := s.now()
	logger := s.logger.With().Str("identifier", identifier).Logger()

	path := ArtifactPath(targetDir, identifier)
	if artifactExists(path) {
		// The queue must not re-download something already on disk.
		if err := s.retries.OnSuccess(ctx, identifier); err != nil {
			logger.Warn().Err(err).Msg("failed to clear retry entry for existing artifact")
		}
		if s.metrics != nil {
			s.metrics.RetrievalsShortCircuited.Inc()
		}
		logger.Debug().Str("path", path).Msg("artifact already exists, skipping retrieval")
		return &Result{
			Identifier: identifier,
			Status:     StatusAlreadyExists,
			Path:       path,
			Elapsed:    s.now().Sub(started),
		}, nil
	}

	if s.metrics != nil {
		s.metrics.RetrievalsStarted.Inc()
	}

	candidates, err := s.candidateOrder(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoProviders
	}

	var observed []domain.FailureCategory
	tried := 0

	for _, provider := range candidates {
		fetcher := s.registry.Get(provider.Name)
		if fetcher == nil {
			logger.Warn().Str("provider", provider.Name).Msg("enabled provider has no registered fetcher")
			continue
		}

		tried++
		attempt, fetched := s.tryProvider(ctx, fetcher, provider, identifier)

		if err := s.perf.RecordAttempt(ctx, attempt); err != nil {
			// Without the ledger the routing state silently rots; abort.
			logger.Error().Err(err).Str("provider", provider.Name).Msg("attempt ledger write failed, aborting run")
			return nil, fmt.Errorf("%w: %w", ErrLedgerWrite, err)
		}
		s.observeAttempt(attempt)

		if attempt.Succeeded() {
			if err := writeArtifact(path, fetched.Content); err != nil {
				// The fetch worked; the local disk did not. Surface as a run
				// error rather than blaming the provider.
				return nil, fmt.Errorf("persist artifact: %w", err)
			}
			if err := s.retries.OnSuccess(ctx, identifier); err != nil {
				logger.Warn().Err(err).Msg("failed to clear retry entry after success")
			}
			s.publishRetrieved(ctx, identifier, provider.Name, path, fetched)
			if s.metrics != nil {
				s.metrics.RetrievalsSucceeded.WithLabelValues(provider.Name).Inc()
				s.metrics.ProvidersTried.Observe(float64(tried))
			}
			logger.Info().
				Str("provider", provider.Name).
				Int("providers_tried", tried).
				Int64("byte_size", fetched.SizeBytes).
				Msg("document retrieved")
			return &Result{
				Identifier:     identifier,
				Status:         StatusDownloaded,
				ProviderName:   provider.Name,
				Path:           path,
				ByteSize:       fetched.SizeBytes,
				ProvidersTried: tried,
				Elapsed:        s.now().Sub(started),
			}, nil
		}

		category, _ := attempt.Outcome.Category()
		observed = append(observed, category)
		logger.Debug().
			Str("provider", provider.Name).
			Str("category", string(category)).
			Msg("provider failed, trying next candidate")
	}

	if tried == 0 {
		return nil, domain.ErrNoProviders
	}

	category := domain.MostRetryable(observed)
	result := &Result{
		Identifier:      identifier,
		Status:          StatusFailed,
		ProvidersTried:  tried,
		FailureCategory: category,
		Elapsed:         s.now().Sub(started),
	}

	outcome, entry, err := s.retries.OnFailure(ctx, identifier, category)
	if err != nil {
		return nil, fmt.Errorf("report failure to retry scheduler: %w", err)
	}
	if outcome == retryqueue.OutcomeScheduled && entry != nil {
		result.RetryScheduled = true
		next := entry.NextRetryAt
		result.NextRetryAt = &next
	}

	if s.metrics != nil {
		s.metrics.RetrievalsExhausted.WithLabelValues(string(category)).Inc()
		s.metrics.ProvidersTried.Observe(float64(tried))
	}
	logger.Warn().
		Int("providers_tried", tried).
		Str("category", string(category)).
		Bool("retry_scheduled", result.RetryScheduled).
		Msg("all providers exhausted")
	return result, nil
}

// candidateOrder builds the provider order for one identifier: the ranked
// enabled catalog, with the publisher-affinity provider moved to the front
// when it is enabled.
func (s *Service) candidateOrder(ctx context.Context, identifier string) ([]*domain.Provider, error) {
	enabled, err := s.catalog.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled providers: %w", err)
	}
	if len(enabled) == 0 {
		return nil, nil
	}

	ranked, err := s.perf.Rank(ctx, enabled)
	if err != nil {
		return nil, fmt.Errorf("rank providers: %w", err)
	}

	order := make([]*domain.Provider, 0, len(ranked))
	for _, r := range ranked {
		order = append(order, r.Provider)
	}

	prefix := domain.PublisherPrefix(identifier)
	favorite, err := s.perf.BestProviderForPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("look up publisher affinity: %w", err)
	}
	if favorite != "" {
		for i, p := range order {
			if p.Name == favorite && i > 0 {
				copy(order[1:i+1], order[:i])
				order[0] = p
				break
			}
		}
	}

	return order, nil
}

// tryProvider runs one fetch under the provider's timeout and converts the
// outcome into a ledger attempt. A panicking fetcher is recovered and
// recorded as a network error so a misbehaving adapter cannot take down the
// run without leaving a trace.
func (s *Service) tryProvider(ctx context.Context, fetcher sources.Fetcher, provider *domain.Provider, identifier string) (*domain.Attempt, *sources.FetchResult) {
	timeout := provider.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.now()
	fetched, err := s.fetchRecovered(fetchCtx, fetcher, identifier)
	latency := s.now().Sub(start)

	attempt := &domain.Attempt{
		Identifier:   identifier,
		ProviderName: provider.Name,
		Latency:      latency,
		CreatedAt:    s.now(),
	}
	if err != nil {
		attempt.Outcome = domain.Outcome(domain.CategoryOf(err))
		return attempt, nil
	}

	attempt.Outcome = domain.OutcomeSuccess
	attempt.ByteSize = fetched.SizeBytes
	attempt.URLUsed = fetched.URLUsed
	return attempt, fetched
}

// fetchRecovered invokes the fetcher, converting panics into errors.
func (s *Service) fetchRecovered(ctx context.Context, fetcher sources.Fetcher, identifier string) (result *sources.FetchResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().
				Str("provider", fetcher.Name()).
				Str("identifier", identifier).
				Interface("panic", p).
				Msg("fetcher panicked")
			result = nil
			err = domain.NewFetchError(fetcher.Name(), domain.CategoryNetworkError, fmt.Errorf("fetcher panic: %v", p))
		}
	}()
	return fetcher.Fetch(ctx, identifier)
}

// publishRetrieved emits a document.retrieved event. Publishing is
// best-effort: a broker problem must not fail a retrieval that already has
// its artifact on disk.
func (s *Service) publishRetrieved(ctx context.Context, identifier, providerName, path string, fetched *sources.FetchResult) {
	if s.publisher == nil {
		return
	}
	event := events.DocumentRetrieved{
		Identifier:   identifier,
		ProviderName: providerName,
		Path:         path,
		ByteSize:     fetched.SizeBytes,
		ContentHash:  fetched.ContentHash,
		RetrievedAt:  s.now(),
	}
	if err := s.publisher.PublishRetrieved(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("identifier", identifier).Msg("failed to publish retrieval event")
	}
}

// observeAttempt updates per-attempt metrics.
func (s *Service) observeAttempt(attempt *domain.Attempt) {
	if s.metrics == nil {
		return
	}
	s.metrics.AttemptsTotal.WithLabelValues(attempt.ProviderName, string(attempt.Outcome)).Inc()
	s.metrics.FetchDuration.WithLabelValues(attempt.ProviderName).Observe(attempt.Latency.Seconds())
	if attempt.ByteSize > 0 {
		s.metrics.FetchBytes.WithLabelValues(attempt.ProviderName).Observe(float64(attempt.ByteSize))
	}
}
