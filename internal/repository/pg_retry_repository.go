package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/fulltext-service/internal/domain"
)

// Compile-time interface verification.
var _ RetryRepository = (*PgRetryRepository)(nil)

// PgRetryRepository is a PostgreSQL implementation of RetryRepository.
type PgRetryRepository struct {
	db DBTX
}

// NewPgRetryRepository creates a new PostgreSQL retry repository.
func NewPgRetryRepository(db DBTX) *PgRetryRepository {
	return &PgRetryRepository{db: db}
}

const retryColumns = `identifier, failure_category, retry_count, next_retry_at, last_attempted_at, created_at`

// ScheduleFailure inserts or advances the retry entry for an identifier.
func (r *PgRetryRepository) ScheduleFailure(ctx context.Context, identifier string, category domain.FailureCategory, now time.Time, baseDelay time.Duration) (*domain.RetryEntry, error) {
	if identifier == "" {
		return nil, domain.NewValidationError("identifier", "identifier is required")
	}
	if !category.Retryable() {
		return nil, domain.NewValidationError("category", fmt.Sprintf("category %q is not retryable", category))
	}
	if baseDelay <= 0 {
		return nil, domain.NewValidationError("base_delay", "base delay must be positive")
	}

	// The backoff arithmetic runs inside the statement so concurrent
	// schedulers cannot double-advance the same entry.
	query := `
		INSERT INTO retry_queue (identifier, failure_category, retry_count, next_retry_at, last_attempted_at, created_at)
		VALUES ($1, $2, 0, $3 + make_interval(secs => $4), $3, $3)
		ON CONFLICT (identifier) DO UPDATE SET
			failure_category = EXCLUDED.failure_category,
			retry_count = retry_queue.retry_count + 1,
			next_retry_at = $3 + make_interval(secs => $4 * power(2, retry_queue.retry_count + 1)),
			last_attempted_at = $3
		RETURNING ` + retryColumns

	entry, err := scanRetryEntry(r.db.QueryRow(ctx, query,
		identifier,
		string(category),
		now,
		baseDelay.Seconds(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to schedule retry: %w", err)
	}
	return entry, nil
}

// Get returns the retry entry for an identifier.
func (r *PgRetryRepository) Get(ctx context.Context, identifier string) (*domain.RetryEntry, error) {
	if identifier == "" {
		return nil, domain.NewValidationError("identifier", "identifier is required")
	}

	query := `SELECT ` + retryColumns + ` FROM retry_queue WHERE identifier = $1`

	entry, err := scanRetryEntry(r.db.QueryRow(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("retry_entry", identifier)
		}
		return nil, fmt.Errorf("failed to get retry entry: %w", err)
	}
	return entry, nil
}

// Delete removes the retry entry for an identifier.
func (r *PgRetryRepository) Delete(ctx context.Context, identifier string) (bool, error) {
	if identifier == "" {
		return false, domain.NewValidationError("identifier", "identifier is required")
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM retry_queue WHERE identifier = $1`, identifier)
	if err != nil {
		return false, fmt.Errorf("failed to delete retry entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Due returns queued entries that are ready to retry, oldest first.
func (r *PgRetryRepository) Due(ctx context.Context, now time.Time, limit int) ([]*domain.RetryEntry, error) {
	limit, _ = applyPaginationDefaults(limit, 0)

	query := `
		SELECT ` + retryColumns + `
		FROM retry_queue
		WHERE next_retry_at <= $1
		ORDER BY next_retry_at, created_at
		LIMIT $2`

	return r.queryRetryEntries(ctx, query, now, limit)
}

// List returns queue entries ordered by next_retry_at.
func (r *PgRetryRepository) List(ctx context.Context, limit, offset int) ([]*domain.RetryEntry, error) {
	limit, offset = applyPaginationDefaults(limit, offset)

	query := `
		SELECT ` + retryColumns + `
		FROM retry_queue
		ORDER BY next_retry_at, created_at
		LIMIT $1 OFFSET $2`

	return r.queryRetryEntries(ctx, query, limit, offset)
}

// Count returns the number of queued identifiers.
func (r *PgRetryRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM retry_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count retry entries: %w", err)
	}
	return count, nil
}

func (r *PgRetryRepository) queryRetryEntries(ctx context.Context, query string, args ...interface{}) ([]*domain.RetryEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.RetryEntry
	for rows.Next() {
		entry, err := scanRetryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate retry entries: %w", err)
	}
	return entries, nil
}

// scanRetryEntry scans a retry queue row.
func scanRetryEntry(row pgx.Row) (*domain.RetryEntry, error) {
	var e domain.RetryEntry
	var category string
	if err := row.Scan(
		&e.Identifier,
		&category,
		&e.RetryCount,
		&e.NextRetryAt,
		&e.LastAttemptedAt,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Category = domain.FailureCategory(category)
	return &e, nil
}
