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
var _ PerformanceRepository = (*PgPerformanceRepository)(nil)

// PgPerformanceRepository is a PostgreSQL implementation of PerformanceRepository.
type PgPerformanceRepository struct {
	db DBTX
}

// NewPgPerformanceRepository creates a new PostgreSQL performance repository.
func NewPgPerformanceRepository(db DBTX) *PgPerformanceRepository {
	return &PgPerformanceRepository{db: db}
}

const statsColumns = `provider_name, total, successes, failures, total_latency_ms, last_success_at, last_failure_at, updated_at`

// ApplyAttempt folds one attempt into the provider's stats row.
func (r *PgPerformanceRepository) ApplyAttempt(ctx context.Context, attempt *domain.Attempt) error {
	if attempt == nil {
		return domain.NewValidationError("attempt", "attempt cannot be nil")
	}
	if attempt.ProviderName == "" {
		return domain.NewValidationError("provider_name", "provider name is required")
	}

	success := attempt.Succeeded()
	var succ, fail int64
	var lastSuccess, lastFailure *time.Time
	if success {
		succ = 1
		lastSuccess = &attempt.CreatedAt
	} else {
		fail = 1
		lastFailure = &attempt.CreatedAt
	}

	query := `
		INSERT INTO provider_stats (provider_name, total, successes, failures, total_latency_ms, last_success_at, last_failure_at, updated_at)
		VALUES ($1, 1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (provider_name) DO UPDATE SET
			total = provider_stats.total + 1,
			successes = provider_stats.successes + EXCLUDED.successes,
			failures = provider_stats.failures + EXCLUDED.failures,
			total_latency_ms = provider_stats.total_latency_ms + EXCLUDED.total_latency_ms,
			last_success_at = COALESCE(EXCLUDED.last_success_at, provider_stats.last_success_at),
			last_failure_at = COALESCE(EXCLUDED.last_failure_at, provider_stats.last_failure_at),
			updated_at = NOW()`

	_, err := r.db.Exec(ctx, query,
		attempt.ProviderName,
		succ,
		fail,
		attempt.Latency.Milliseconds(),
		lastSuccess,
		lastFailure,
	)
	if err != nil {
		return fmt.Errorf("failed to apply attempt to provider stats: %w", err)
	}
	return nil
}

// GetStats returns the stats row for a provider.
func (r *PgPerformanceRepository) GetStats(ctx context.Context, providerName string) (*domain.ProviderStats, error) {
	if providerName == "" {
		return nil, domain.NewValidationError("provider_name", "provider name is required")
	}

	query := `SELECT ` + statsColumns + ` FROM provider_stats WHERE provider_name = $1`

	stats, err := scanStats(r.db.QueryRow(ctx, query, providerName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("provider_stats", providerName)
		}
		return nil, fmt.Errorf("failed to get provider stats: %w", err)
	}
	return stats, nil
}

// ListStats returns all stats rows keyed by provider name.
func (r *PgPerformanceRepository) ListStats(ctx context.Context) (map[string]*domain.ProviderStats, error) {
	query := `SELECT ` + statsColumns + ` FROM provider_stats`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]*domain.ProviderStats)
	for rows.Next() {
		s, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider stats: %w", err)
		}
		stats[s.ProviderName] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provider stats: %w", err)
	}
	return stats, nil
}

// RecomputeStats rebuilds a provider's stats row from the attempt ledger.
func (r *PgPerformanceRepository) RecomputeStats(ctx context.Context, providerName string) (*domain.ProviderStats, error) {
	if providerName == "" {
		return nil, domain.NewValidationError("provider_name", "provider name is required")
	}

	query := `
		INSERT INTO provider_stats (provider_name, total, successes, failures, total_latency_ms, last_success_at, last_failure_at, updated_at)
		SELECT
			$1,
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'success'),
			COUNT(*) FILTER (WHERE outcome <> 'success'),
			COALESCE(SUM(latency_ms), 0),
			MAX(created_at) FILTER (WHERE outcome = 'success'),
			MAX(created_at) FILTER (WHERE outcome <> 'success'),
			NOW()
		FROM attempts WHERE provider_name = $1
		ON CONFLICT (provider_name) DO UPDATE SET
			total = EXCLUDED.total,
			successes = EXCLUDED.successes,
			failures = EXCLUDED.failures,
			total_latency_ms = EXCLUDED.total_latency_ms,
			last_success_at = EXCLUDED.last_success_at,
			last_failure_at = EXCLUDED.last_failure_at,
			updated_at = NOW()
		RETURNING ` + statsColumns

	stats, err := scanStats(r.db.QueryRow(ctx, query, providerName))
	if err != nil {
		return nil, fmt.Errorf("failed to recompute provider stats: %w", err)
	}
	return stats, nil
}

// UpsertAffinity records a successful retrieval for a publisher prefix.
func (r *PgPerformanceRepository) UpsertAffinity(ctx context.Context, prefix, providerName string, at time.Time) error {
	if prefix == "" {
		return domain.NewValidationError("prefix", "publisher prefix is required")
	}
	if providerName == "" {
		return domain.NewValidationError("provider_name", "provider name is required")
	}

	query := `
		INSERT INTO publisher_affinity (prefix, provider_name, success_count, last_success_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (prefix) DO UPDATE SET
			success_count = CASE
				WHEN publisher_affinity.provider_name = EXCLUDED.provider_name
				THEN publisher_affinity.success_count + 1
				ELSE 1
			END,
			provider_name = EXCLUDED.provider_name,
			last_success_at = EXCLUDED.last_success_at`

	_, err := r.db.Exec(ctx, query, prefix, providerName, at)
	if err != nil {
		return fmt.Errorf("failed to upsert publisher affinity: %w", err)
	}
	return nil
}

// GetAffinity returns the affinity row for a prefix.
func (r *PgPerformanceRepository) GetAffinity(ctx context.Context, prefix string) (*domain.PublisherAffinity, error) {
	if prefix == "" {
		return nil, domain.NewValidationError("prefix", "publisher prefix is required")
	}

	query := `SELECT prefix, provider_name, success_count, last_success_at FROM publisher_affinity WHERE prefix = $1`

	var a domain.PublisherAffinity
	err := r.db.QueryRow(ctx, query, prefix).Scan(
		&a.Prefix,
		&a.ProviderName,
		&a.SuccessCount,
		&a.LastSuccessAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("publisher_affinity", prefix)
		}
		return nil, fmt.Errorf("failed to get publisher affinity: %w", err)
	}
	return &a, nil
}

// ListAffinities returns all affinity rows ordered by prefix.
func (r *PgPerformanceRepository) ListAffinities(ctx context.Context) ([]*domain.PublisherAffinity, error) {
	query := `SELECT prefix, provider_name, success_count, last_success_at FROM publisher_affinity ORDER BY prefix`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list publisher affinities: %w", err)
	}
	defer rows.Close()

	var affinities []*domain.PublisherAffinity
	for rows.Next() {
		var a domain.PublisherAffinity
		if err := rows.Scan(&a.Prefix, &a.ProviderName, &a.SuccessCount, &a.LastSuccessAt); err != nil {
			return nil, fmt.Errorf("failed to scan publisher affinity: %w", err)
		}
		affinities = append(affinities, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate publisher affinities: %w", err)
	}
	return affinities, nil
}

// scanStats scans a provider stats row.
func scanStats(row pgx.Row) (*domain.ProviderStats, error) {
	var s domain.ProviderStats
	if err := row.Scan(
		&s.ProviderName,
		&s.Total,
		&s.Successes,
		&s.Failures,
		&s.TotalLatencyMS,
		&s.LastSuccessAt,
		&s.LastFailureAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
