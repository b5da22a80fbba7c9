// Package retryqueue schedules follow-up attempts for identifiers whose
// retrieval failed for a transient reason.
//
// Permanent failures (authentication, not_found, paywall, invalid_content)
// never enter the queue; retryable ones get an exponential backoff of
// base_delay * 2^retry_count with a per-category base delay. An identifier
// that exhausts its retry budget is removed from the queue and reported as
// needing manual intervention.
package retryqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/observability"
	"github.com/helixir/fulltext-service/internal/repository"
)

// Policy holds backoff and budget settings for the scheduler.
type Policy struct {
	// MaxRetries is the retry budget per identifier. An entry is dropped
	// once its retry_count reaches this.
	MaxRetries int

	// RateLimitBaseDelay is the backoff base for rate_limit failures.
	RateLimitBaseDelay time.Duration

	// NetworkBaseDelay is the backoff base for timeout and network_error
	// failures.
	NetworkBaseDelay time.Duration

	// ServerErrorBaseDelay is the backoff base for server_error failures.
	ServerErrorBaseDelay time.Duration
}

// DefaultPolicy returns the production defaults: three retries, with rate
// limits backing off the longest.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           3,
		RateLimitBaseDelay:   60 * time.Minute,
		NetworkBaseDelay:     5 * time.Minute,
		ServerErrorBaseDelay: 10 * time.Minute,
	}
}

// BaseDelay returns the backoff base for a failure category, or 0 for
// categories that are not retryable.
func (p Policy) BaseDelay(category domain.FailureCategory) time.Duration {
	switch category {
	case domain.CategoryRateLimit:
		return p.RateLimitBaseDelay
	case domain.CategoryTimeout, domain.CategoryNetworkError:
		return p.NetworkBaseDelay
	case domain.CategoryServerError:
		return p.ServerErrorBaseDelay
	default:
		return 0
	}
}

// Outcome describes what the scheduler did with a reported failure.
type Outcome string

const (
	// OutcomeScheduled means a retry was queued (or re-queued).
	OutcomeScheduled Outcome = "scheduled"

	// OutcomePermanent means the failure category is not retryable and no
	// entry was created. Any stale entry for the identifier is removed so the
	// queue never holds permanently failed identifiers.
	OutcomePermanent Outcome = "permanent"

	// OutcomeExhausted means the identifier ran out of retry budget; its
	// entry was removed and it needs manual intervention.
	OutcomeExhausted Outcome = "exhausted"
)

// Scheduler owns the retry queue lifecycle.
type Scheduler struct {
	repo    repository.RetryRepository
	policy  Policy
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScheduler creates a new retry scheduler. metrics may be nil.
func NewScheduler(repo repository.RetryRepository, policy Policy, metrics *observability.Metrics, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		repo:    repo,
		policy:  policy,
		metrics: metrics,
		logger:  logger.With().Str("component", "retryqueue").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnFailure reports an exhausted retrieval round for an identifier. Retryable
// categories are queued with exponential backoff; once retry_count reaches
// the budget the entry is dropped and the identifier reported as exhausted.
func (s *Scheduler) OnFailure(ctx context.Context, identifier string, category domain.FailureCategory) (Outcome, *domain.RetryEntry, error) {
	if identifier == "" {
		return "", nil, domain.NewValidationError("identifier", "identifier is required")
	}
	if !domain.IsValidFailureCategory(category) {
		return "", nil, domain.NewValidationError("category", fmt.Sprintf("unknown failure category %q", category))
	}

	if !category.Retryable() {
		// A permanently failed identifier must not linger in the queue from
		// an earlier transient failure.
		if _, err := s.repo.Delete(ctx, identifier); err != nil {
			return "", nil, fmt.Errorf("remove stale retry entry: %w", err)
		}
		s.logger.Info().
			Str("identifier", identifier).
			Str("category", string(category)).
			Msg("permanent failure, not retrying")
		return OutcomePermanent, nil, nil
	}

	entry, err := s.repo.ScheduleFailure(ctx, identifier, category, s.now(), s.policy.BaseDelay(category))
	if err != nil {
		return "", nil, fmt.Errorf("schedule retry: %w", err)
	}

	if entry.RetryCount >= s.policy.MaxRetries {
		if _, err := s.repo.Delete(ctx, identifier); err != nil {
			return "", nil, fmt.Errorf("remove exhausted retry entry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.RetriesExhausted.Inc()
		}
		s.logger.Warn().
			Str("identifier", identifier).
			Str("category", string(category)).
			Int("retry_count", entry.RetryCount).
			Int("max_retries", s.policy.MaxRetries).
			Msg("retry budget exhausted, manual intervention required")
		return OutcomeExhausted, nil, nil
	}

	if s.metrics != nil {
		s.metrics.RetriesScheduled.WithLabelValues(string(category)).Inc()
	}
	s.logger.Info().
		Str("identifier", identifier).
		Str("category", string(category)).
		Int("retry_count", entry.RetryCount).
		Time("next_retry_at", entry.NextRetryAt).
		Msg("retry scheduled")
	return OutcomeScheduled, entry, nil
}

// OnSuccess removes any queued entry for an identifier after a successful
// retrieval. Removing an absent entry is a no-op.
func (s *Scheduler) OnSuccess(ctx context.Context, identifier string) error {
	if identifier == "" {
		return domain.NewValidationError("identifier", "identifier is required")
	}
	removed, err := s.repo.Delete(ctx, identifier)
	if err != nil {
		return fmt.Errorf("clear retry entry: %w", err)
	}
	if removed {
		s.logger.Debug().Str("identifier", identifier).Msg("retry entry cleared after success")
	}
	return nil
}

// Due returns up to limit identifiers whose backoff has elapsed, oldest
// next_retry_at first.
func (s *Scheduler) Due(ctx context.Context, limit int) ([]*domain.RetryEntry, error) {
	return s.repo.Due(ctx, s.now(), limit)
}

// Depth returns the number of queued identifiers and, when metrics are wired,
// refreshes the queue depth gauge.
func (s *Scheduler) Depth(ctx context.Context) (int64, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count retry entries: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RetryQueueDepth.Set(float64(count))
	}
	return count, nil
}

// List returns queue entries ordered by next_retry_at, for the admin API.
func (s *Scheduler) List(ctx context.Context, limit, offset int) ([]*domain.RetryEntry, error) {
	return s.repo.List(ctx, limit, offset)
}
