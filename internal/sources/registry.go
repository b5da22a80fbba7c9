package sources

import (
	"sync"
)

// Registry maps catalog provider names to their Fetcher implementations.
// Registration happens once at startup; lookups happen on every retrieval,
// so the registry is guarded for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewRegistry creates a new fetcher registry with an empty map.
func NewRegistry() *Registry {
	return &Registry{
		fetchers: make(map[string]Fetcher),
	}
}

// Register adds a fetcher to the registry keyed by its provider name.
// If a fetcher with the same name already exists, it is replaced.
func (r *Registry) Register(fetcher Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[fetcher.Name()] = fetcher
}

// Get returns the fetcher for a provider name, or nil if none is registered.
func (r *Registry) Get(name string) Fetcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchers[name]
}

// Names returns the names of all registered fetchers.
// The returned slice is a snapshot and is safe to iterate even if fetchers
// are registered concurrently.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	return names
}
