package repository

import (
	"context"
	"time"

	"github.com/helixir/fulltext-service/internal/domain"
)

// PerformanceRepository maintains the derived performance collections:
// per-provider stats and publisher-prefix affinity.
//
// The read-modify-write cycles here are expressed as single atomic SQL
// statements (ON CONFLICT DO UPDATE with arithmetic on the stored row), so a
// lost update cannot occur even without the advisory lock; callers that
// combine several statements in one transaction additionally serialize on
// database.AcquireAdvisoryLockTx.
type PerformanceRepository interface {
	// ApplyAttempt folds one attempt into the provider's stats row,
	// creating the row if absent.
	ApplyAttempt(ctx context.Context, attempt *domain.Attempt) error

	// GetStats returns the stats row for a provider.
	// Returns domain.ErrNotFound if the provider has no recorded attempts.
	GetStats(ctx context.Context, providerName string) (*domain.ProviderStats, error)

	// ListStats returns all stats rows keyed by provider name.
	ListStats(ctx context.Context) (map[string]*domain.ProviderStats, error)

	// RecomputeStats rebuilds a provider's stats row from the attempt
	// ledger. Used operationally after a ledger purge or to verify the
	// incremental path.
	RecomputeStats(ctx context.Context, providerName string) (*domain.ProviderStats, error)

	// UpsertAffinity records a successful retrieval for a publisher prefix.
	// Same provider increments success_count; a different provider takes
	// over the row with success_count reset to 1 (last-write-wins).
	UpsertAffinity(ctx context.Context, prefix, providerName string, at time.Time) error

	// GetAffinity returns the affinity row for a prefix.
	// Returns domain.ErrNotFound if no success has been recorded for it.
	GetAffinity(ctx context.Context, prefix string) (*domain.PublisherAffinity, error)

	// ListAffinities returns all affinity rows ordered by prefix.
	ListAffinities(ctx context.Context) ([]*domain.PublisherAffinity, error)
}
