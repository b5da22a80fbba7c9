// Package repository provides data access interfaces and implementations
// for the Full-Text Retrieval Service.
//
// # Overview
//
// This package defines repository interfaces and their PostgreSQL implementations
// following the repository pattern to abstract data persistence from business logic.
//
// # Repository Interfaces
//
// The package provides the following repository interfaces:
//
//   - ProviderRepository: Manages the provider catalog (enable/disable, priority)
//   - AttemptRepository: Manages the append-only attempt ledger
//   - PerformanceRepository: Manages provider stats and publisher affinity
//   - RetryRepository: Manages the persisted retry queue
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple goroutines.
// The underlying pgxpool handles connection pooling and synchronization. The
// provider_stats and publisher_affinity rows are read-modify-write state; their
// updates run inside a transaction holding a per-key advisory lock (see
// database.AcquireAdvisoryLockTx) and use atomic SQL increments, so no update
// is lost under concurrent recording for the same key.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Wrap database errors with context using fmt.Errorf with %w verb.
// Common errors include:
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrInvalidInput: Invalid parameters provided
//
// # Transactions
//
// Use the DBTX interface to support both pool and transaction contexts.
// Pass a transaction from database.DB.WithTransaction for atomic operations:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    txAttempts := repository.NewPgAttemptRepository(tx)
//	    txPerf := repository.NewPgPerformanceRepository(tx)
//	    if err := txAttempts.Append(ctx, attempt); err != nil {
//	        return err
//	    }
//	    return txPerf.ApplyAttempt(ctx, attempt)
//	})
package repository

import (
	"hash/fnv"

	"github.com/helixir/fulltext-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
// This allows repositories to work with both direct pool connections and transactions.
type DBTX = database.DBTX

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// applyPaginationDefaults normalizes limit and offset values for filter queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultFilterLimit
	}
	if limit > maxFilterLimit {
		limit = maxFilterLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Advisory lock key spaces. Provider and prefix keys hash into disjoint
// classes so a provider name never contends with an identical prefix string.
const (
	lockClassProvider int64 = 1 << 32
	lockClassPrefix   int64 = 2 << 32
)

// ProviderLockKey derives the advisory lock key guarding a provider's
// stats row.
func ProviderLockKey(name string) int64 {
	return lockClassProvider | hashKey(name)
}

// PrefixLockKey derives the advisory lock key guarding a publisher prefix's
// affinity row.
func PrefixLockKey(prefix string) int64 {
	return lockClassPrefix | hashKey(prefix)
}

func hashKey(s string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum32())
}
