package repository

import (
	"context"
	"time"

	"github.com/helixir/fulltext-service/internal/domain"
)

// RetryRepository manages the persisted retry queue. At most one entry exists
// per identifier; the queue is mutated only through the operations below.
type RetryRepository interface {
	// ScheduleFailure inserts or advances the entry for an identifier after a
	// retryable failure and returns the resulting row. On first failure the
	// entry starts at retry_count 0 with next_retry_at = now + baseDelay; on
	// conflict retry_count is incremented and next_retry_at becomes
	// now + baseDelay * 2^retry_count, with the category replaced by the one
	// just observed. The whole step is one atomic statement.
	ScheduleFailure(ctx context.Context, identifier string, category domain.FailureCategory, now time.Time, baseDelay time.Duration) (*domain.RetryEntry, error)

	// Get returns the entry for an identifier.
	// Returns domain.ErrNotFound if the identifier is not queued.
	Get(ctx context.Context, identifier string) (*domain.RetryEntry, error)

	// Delete removes the entry for an identifier. Deleting an absent entry is
	// not an error; the bool reports whether a row was removed.
	Delete(ctx context.Context, identifier string) (bool, error)

	// Due returns up to limit entries whose next_retry_at is at or before
	// now, oldest next_retry_at first.
	Due(ctx context.Context, now time.Time, limit int) ([]*domain.RetryEntry, error)

	// List returns queue entries ordered by next_retry_at.
	List(ctx context.Context, limit, offset int) ([]*domain.RetryEntry, error)

	// Count returns the number of queued identifiers.
	Count(ctx context.Context) (int64, error)
}
