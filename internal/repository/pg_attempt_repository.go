package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/fulltext-service/internal/domain"
)

// Compile-time interface verification.
var _ AttemptRepository = (*PgAttemptRepository)(nil)

// PgAttemptRepository is a PostgreSQL implementation of AttemptRepository.
type PgAttemptRepository struct {
	db DBTX
}

// NewPgAttemptRepository creates a new PostgreSQL attempt repository.
func NewPgAttemptRepository(db DBTX) *PgAttemptRepository {
	return &PgAttemptRepository{db: db}
}

// Append records one attempt in the ledger.
func (r *PgAttemptRepository) Append(ctx context.Context, attempt *domain.Attempt) error {
	if attempt == nil {
		return domain.NewValidationError("attempt", "attempt cannot be nil")
	}
	if attempt.Identifier == "" {
		return domain.NewValidationError("identifier", "identifier is required")
	}
	if attempt.ProviderName == "" {
		return domain.NewValidationError("provider_name", "provider name is required")
	}
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO attempts (id, identifier, provider_name, outcome, latency_ms, byte_size, url_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		attempt.ID,
		attempt.Identifier,
		attempt.ProviderName,
		string(attempt.Outcome),
		attempt.Latency.Milliseconds(),
		attempt.ByteSize,
		attempt.URLUsed,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}
	return nil
}

// List returns attempts matching the filter, newest first.
func (r *PgAttemptRepository) List(ctx context.Context, filter AttemptFilter) ([]*domain.Attempt, error) {
	query := `
		SELECT id, identifier, provider_name, outcome, latency_ms, byte_size, url_used, created_at
		FROM attempts
		WHERE 1=1`

	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Identifier != "" {
		query += ` AND identifier = ` + arg(filter.Identifier)
	}
	if filter.ProviderName != "" {
		query += ` AND provider_name = ` + arg(filter.ProviderName)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ` + arg(string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ` + arg(filter.Since)
	}

	limit, offset := applyPaginationDefaults(filter.Limit, filter.Offset)
	query += ` ORDER BY created_at DESC, id LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var outcome string
		var latencyMS int64
		if err := rows.Scan(
			&a.ID,
			&a.Identifier,
			&a.ProviderName,
			&outcome,
			&latencyMS,
			&a.ByteSize,
			&a.URLUsed,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Outcome = domain.Outcome(outcome)
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}
	return attempts, nil
}

// CountByIdentifier returns the number of ledger rows for an identifier.
func (r *PgAttemptRepository) CountByIdentifier(ctx context.Context, identifier string) (int64, error) {
	if identifier == "" {
		return 0, domain.NewValidationError("identifier", "identifier is required")
	}

	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE identifier = $1`,
		identifier,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

// PurgeOlderThan deletes attempts created before the cutoff.
func (r *PgAttemptRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, domain.NewValidationError("cutoff", "cutoff is required")
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
