// Package sources provides the provider abstraction for full-text retrieval.
//
// Each external full-text provider (Unpaywall, Europe PMC, CORE, Crossref, ...)
// is represented by a Fetcher. The catalog state (enabled, priority) lives in
// the providers table; a Fetcher only knows how to retrieve a document. The
// generic HTTP implementation lives in the httpfetch subpackage.
//
// Example usage:
//
//	fetcher := httpfetch.New(cfg, logger)
//	result, err := fetcher.Fetch(ctx, "10.1371/journal.pone.0000001")
package sources

import (
	"context"
)

// FetchResult holds a successfully retrieved document.
type FetchResult struct {
	// Content is the document bytes.
	Content []byte

	// ContentHash is the SHA-256 hex digest of the content.
	ContentHash string

	// SizeBytes is the size of the content in bytes.
	SizeBytes int64

	// ContentType is the Content-Type header reported by the provider.
	ContentType string

	// URLUsed is the fully resolved URL the document was fetched from.
	URLUsed string
}

// Fetcher is implemented by every provider adapter. A Fetcher attempts to
// retrieve the full-text document for one identifier.
type Fetcher interface {
	// Fetch retrieves the document for the given identifier.
	//
	// Implementations must:
	//   - Respect context cancellation and deadlines (the orchestrator sets
	//     the per-provider timeout on the context)
	//   - Apply their own rate limiting before issuing requests
	//   - Return a *domain.FetchError carrying a FailureCategory for every
	//     failure, so callers never have to inspect provider-specific causes
	Fetch(ctx context.Context, identifier string) (*FetchResult, error)

	// Name returns the catalog name of the provider this fetcher serves.
	Name() string
}
