// Package performance maintains and serves the learned routing state: the
// append-only attempt ledger, the per-provider stats rows derived from it,
// and the publisher-prefix affinity map.
package performance

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/fulltext-service/internal/database"
	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/repository"
)

// Store is the database handle the aggregator needs: direct queries for the
// read side and transactions for attempt recording. *database.DB satisfies it.
type Store interface {
	repository.DBTX
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Aggregator folds attempts into the performance collections and serves the
// ranking and affinity read paths.
type Aggregator struct {
	store  Store
	logger zerolog.Logger
}

// NewAggregator creates a new performance aggregator.
func NewAggregator(store Store, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.With().Str("component", "performance").Logger(),
	}
}

// RecordAttempt appends one attempt to the ledger and folds it into the
// provider's stats row (and, on success, the publisher affinity row) in a
// single transaction. A per-provider advisory lock serializes concurrent
// recordings for the same provider; on success a per-prefix lock does the
// same for the affinity row. Either everything commits or nothing does, so
// the ledger and the derived rows cannot drift apart.
func (a *Aggregator) RecordAttempt(ctx context.Context, attempt *domain.Attempt) error {
	if attempt == nil {
		return domain.NewValidationError("attempt", "attempt cannot be nil")
	}
	if attempt.Identifier == "" {
		return domain.NewValidationError("identifier", "identifier is required")
	}
	if attempt.ProviderName == "" {
		return domain.NewValidationError("provider_name", "provider name is required")
	}

	err := a.store.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.AcquireAdvisoryLockTx(ctx, tx, repository.ProviderLockKey(attempt.ProviderName)); err != nil {
			return fmt.Errorf("acquire provider lock: %w", err)
		}

		attempts := repository.NewPgAttemptRepository(tx)
		if err := attempts.Append(ctx, attempt); err != nil {
			return fmt.Errorf("append attempt: %w", err)
		}

		perf := repository.NewPgPerformanceRepository(tx)
		if err := perf.ApplyAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("apply attempt to stats: %w", err)
		}

		if attempt.Succeeded() {
			prefix := domain.PublisherPrefix(attempt.Identifier)
			if err := database.AcquireAdvisoryLockTx(ctx, tx, repository.PrefixLockKey(prefix)); err != nil {
				return fmt.Errorf("acquire prefix lock: %w", err)
			}
			if err := perf.UpsertAffinity(ctx, prefix, attempt.ProviderName, attempt.CreatedAt); err != nil {
				return fmt.Errorf("upsert affinity: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		a.logger.Error().
			Err(err).
			Str("identifier", attempt.Identifier).
			Str("provider", attempt.ProviderName).
			Msg("failed to record attempt")
		return err
	}

	a.logger.Debug().
		Str("identifier", attempt.Identifier).
		Str("provider", attempt.ProviderName).
		Str("outcome", string(attempt.Outcome)).
		Int64("latency_ms", attempt.Latency.Milliseconds()).
		Msg("attempt recorded")
	return nil
}

// Rank orders the given candidates using current stats. See the package-level
// Rank function for the ordering rules.
func (a *Aggregator) Rank(ctx context.Context, candidates []*domain.Provider) ([]RankedProvider, error) {
	perf := repository.NewPgPerformanceRepository(a.store)
	stats, err := perf.ListStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list provider stats: %w", err)
	}
	return Rank(candidates, stats), nil
}

// BestProviderForPrefix returns the provider that most recently succeeded for
// a publisher prefix, or "" when no success has been recorded for it.
func (a *Aggregator) BestProviderForPrefix(ctx context.Context, prefix string) (string, error) {
	perf := repository.NewPgPerformanceRepository(a.store)
	affinity, err := perf.GetAffinity(ctx, prefix)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("get affinity: %w", err)
	}
	return affinity.ProviderName, nil
}
