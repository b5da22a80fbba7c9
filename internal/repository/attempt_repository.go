package repository

import (
	"context"
	"time"

	"github.com/helixir/fulltext-service/internal/domain"
)

// AttemptFilter narrows attempt listings and exports.
// Zero-valued fields are ignored.
type AttemptFilter struct {
	Identifier   string
	ProviderName string
	Outcome      domain.Outcome
	Since        time.Time
	Limit        int
	Offset       int
}

// AttemptRepository manages the append-only attempt ledger.
type AttemptRepository interface {
	// Append records one attempt. Ledger rows are never updated or deleted
	// individually; the only removal path is PurgeOlderThan.
	Append(ctx context.Context, attempt *domain.Attempt) error

	// List returns attempts matching the filter, newest first.
	List(ctx context.Context, filter AttemptFilter) ([]*domain.Attempt, error)

	// CountByIdentifier returns the number of ledger rows for an identifier.
	CountByIdentifier(ctx context.Context, identifier string) (int64, error)

	// PurgeOlderThan deletes attempts created before the cutoff and returns
	// the number of rows removed. Provider stats are not rewound; they remain
	// lifetime aggregates.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
