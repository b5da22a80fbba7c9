package repository

import (
	"context"

	"github.com/helixir/fulltext-service/internal/domain"
)

// ProviderRepository manages the provider catalog.
//
// Providers are seeded from static configuration at startup and mutated by
// admin action. They are never deleted, only disabled.
type ProviderRepository interface {
	// Upsert inserts a provider or refreshes its configuration-owned fields
	// (requires_auth, timeout, base_url). The admin-owned fields (enabled,
	// priority) are only written on first insert so a restart does not undo
	// admin changes.
	Upsert(ctx context.Context, provider *domain.Provider) error

	// Get returns a provider by name.
	// Returns domain.ErrNotFound if the provider does not exist.
	Get(ctx context.Context, name string) (*domain.Provider, error)

	// List returns all providers ordered by (priority asc, name asc).
	List(ctx context.Context) ([]*domain.Provider, error)

	// ListEnabled returns enabled providers ordered by (priority asc, name asc).
	ListEnabled(ctx context.Context) ([]*domain.Provider, error)

	// SetEnabled enables or disables a provider.
	// Returns domain.ErrNotFound if the provider does not exist.
	SetEnabled(ctx context.Context, name string, enabled bool) error

	// SetPriority updates a provider's priority.
	// Returns domain.ErrNotFound if the provider does not exist.
	SetPriority(ctx context.Context, name string, priority int) error
}
