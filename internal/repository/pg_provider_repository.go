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
var _ ProviderRepository = (*PgProviderRepository)(nil)

// PgProviderRepository is a PostgreSQL implementation of ProviderRepository.
type PgProviderRepository struct {
	db DBTX
}

// NewPgProviderRepository creates a new PostgreSQL provider repository.
func NewPgProviderRepository(db DBTX) *PgProviderRepository {
	return &PgProviderRepository{db: db}
}

const providerColumns = `name, enabled, priority, requires_auth, timeout_ms, base_url, created_at, updated_at`

// Upsert inserts a provider or refreshes its configuration-owned fields.
func (r *PgProviderRepository) Upsert(ctx context.Context, provider *domain.Provider) error {
	if provider == nil {
		return domain.NewValidationError("provider", "provider cannot be nil")
	}
	if provider.Name == "" {
		return domain.NewValidationError("name", "provider name is required")
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO providers (name, enabled, priority, requires_auth, timeout_ms, base_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (name) DO UPDATE SET
			requires_auth = EXCLUDED.requires_auth,
			timeout_ms = EXCLUDED.timeout_ms,
			base_url = EXCLUDED.base_url,
			updated_at = NOW()`

	_, err := r.db.Exec(ctx, query,
		provider.Name,
		provider.Enabled,
		provider.Priority,
		provider.RequiresAuth,
		provider.Timeout.Milliseconds(),
		provider.BaseURL,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider: %w", err)
	}
	return nil
}

// Get returns a provider by name.
func (r *PgProviderRepository) Get(ctx context.Context, name string) (*domain.Provider, error) {
	if name == "" {
		return nil, domain.NewValidationError("name", "provider name is required")
	}

	query := `SELECT ` + providerColumns + ` FROM providers WHERE name = $1`

	provider, err := scanProvider(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("provider", name)
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return provider, nil
}

// List returns all providers ordered by (priority asc, name asc).
func (r *PgProviderRepository) List(ctx context.Context) ([]*domain.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers ORDER BY priority, name`
	return r.queryProviders(ctx, query)
}

// ListEnabled returns enabled providers ordered by (priority asc, name asc).
func (r *PgProviderRepository) ListEnabled(ctx context.Context) ([]*domain.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE enabled ORDER BY priority, name`
	return r.queryProviders(ctx, query)
}

// SetEnabled enables or disables a provider.
func (r *PgProviderRepository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	if name == "" {
		return domain.NewValidationError("name", "provider name is required")
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE providers SET enabled = $2, updated_at = NOW() WHERE name = $1`,
		name, enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to set provider enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("provider", name)
	}
	return nil
}

// SetPriority updates a provider's priority.
func (r *PgProviderRepository) SetPriority(ctx context.Context, name string, priority int) error {
	if name == "" {
		return domain.NewValidationError("name", "provider name is required")
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE providers SET priority = $2, updated_at = NOW() WHERE name = $1`,
		name, priority,
	)
	if err != nil {
		return fmt.Errorf("failed to set provider priority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("provider", name)
	}
	return nil
}

func (r *PgProviderRepository) queryProviders(ctx context.Context, query string, args ...interface{}) ([]*domain.Provider, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []*domain.Provider
	for rows.Next() {
		provider, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, provider)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate providers: %w", err)
	}
	return providers, nil
}

// scanProvider scans a provider from a row.
func scanProvider(row pgx.Row) (*domain.Provider, error) {
	var p domain.Provider
	var timeoutMS int64
	if err := row.Scan(
		&p.Name,
		&p.Enabled,
		&p.Priority,
		&p.RequiresAuth,
		&timeoutMS,
		&p.BaseURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return &p, nil
}
