//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/performance"
	"github.com/helixir/fulltext-service/internal/repository"
	"github.com/helixir/fulltext-service/internal/retryqueue"
)

// testStore adapts the shared pool to the aggregator's transactional store.
type testStore struct {
	*pgxpool.Pool
}

func newTestStore() testStore {
	return testStore{testPool}
}

func (s testStore) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func TestPgProviderRepository_Integration(t *testing.T) {
	cleanTable(t, "providers")
	repo := repository.NewPgProviderRepository(testPool)
	ctx := context.Background()

	t.Run("Upsert and Get roundtrip", func(t *testing.T) {
		provider := &domain.Provider{
			Name:     "unpaywall",
			Enabled:  true,
			Priority: 1,
			Timeout:  30 * time.Second,
			BaseURL:  "https://api.unpaywall.org/v2/{identifier}",
		}
		require.NoError(t, repo.Upsert(ctx, provider))

		got, err := repo.Get(ctx, "unpaywall")
		require.NoError(t, err)
		assert.True(t, got.Enabled)
		assert.Equal(t, 1, got.Priority)
		assert.Equal(t, 30*time.Second, got.Timeout)
	})

	t.Run("Upsert preserves admin-owned fields", func(t *testing.T) {
		require.NoError(t, repo.SetEnabled(ctx, "unpaywall", false))
		require.NoError(t, repo.SetPriority(ctx, "unpaywall", 9))

		// Re-seeding from config must not undo the admin changes.
		require.NoError(t, repo.Upsert(ctx, &domain.Provider{
			Name:     "unpaywall",
			Enabled:  true,
			Priority: 1,
			Timeout:  45 * time.Second,
			BaseURL:  "https://api.unpaywall.org/v2/{identifier}",
		}))

		got, err := repo.Get(ctx, "unpaywall")
		require.NoError(t, err)
		assert.False(t, got.Enabled)
		assert.Equal(t, 9, got.Priority)
		assert.Equal(t, 45*time.Second, got.Timeout)
	})

	t.Run("ListEnabled orders by priority then name", func(t *testing.T) {
		for _, p := range []*domain.Provider{
			{Name: "core", Enabled: true, Priority: 3, Timeout: time.Minute, BaseURL: "https://api.core.ac.uk/{identifier}"},
			{Name: "europepmc", Enabled: true, Priority: 2, Timeout: time.Minute, BaseURL: "https://www.ebi.ac.uk/{identifier}"},
			{Name: "crossref", Enabled: true, Priority: 2, Timeout: time.Minute, BaseURL: "https://api.crossref.org/{identifier}"},
		} {
			require.NoError(t, repo.Upsert(ctx, p))
		}

		enabled, err := repo.ListEnabled(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(enabled))
		for _, p := range enabled {
			names = append(names, p.Name)
		}
		// unpaywall is disabled from the previous subtest.
		assert.Equal(t, []string{"crossref", "europepmc", "core"}, names)
	})

	t.Run("SetEnabled on unknown provider", func(t *testing.T) {
		err := repo.SetEnabled(ctx, "nope", true)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestAttemptLedgerAndStats_Integration(t *testing.T) {
	cleanTable(t, "providers", "attempts", "provider_stats", "publisher_affinity")
	ctx := context.Background()

	db := newTestStore()
	aggregator := performance.NewAggregator(db, zerolog.Nop())
	attemptRepo := repository.NewPgAttemptRepository(testPool)

	record := func(provider string, outcome domain.Outcome, latency time.Duration) {
		t.Helper()
		err := aggregator.RecordAttempt(ctx, &domain.Attempt{
			Identifier:   "10.1371/journal.pone.0000001",
			ProviderName: provider,
			Outcome:      outcome,
			Latency:      latency,
			ByteSize:     1024,
		})
		require.NoError(t, err)
	}

	record("unpaywall", domain.OutcomeSuccess, 400*time.Millisecond)
	record("unpaywall", domain.OutcomeTimeout, 30*time.Second)
	record("core", domain.OutcomeSuccess, 900*time.Millisecond)

	t.Run("ledger rows are appended", func(t *testing.T) {
		attempts, err := attemptRepo.List(ctx, repository.AttemptFilter{Identifier: "10.1371/journal.pone.0000001"})
		require.NoError(t, err)
		assert.Len(t, attempts, 3)
	})

	t.Run("stats aggregate per provider", func(t *testing.T) {
		perfRepo := repository.NewPgPerformanceRepository(testPool)
		stats, err := perfRepo.GetStats(ctx, "unpaywall")
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Total)
		assert.Equal(t, int64(1), stats.Successes)
		assert.Equal(t, int64(1), stats.Failures)
		assert.InDelta(t, 0.5, stats.SuccessRate(), 1e-9)
	})

	t.Run("success updates publisher affinity", func(t *testing.T) {
		perfRepo := repository.NewPgPerformanceRepository(testPool)
		affinity, err := perfRepo.GetAffinity(ctx, "10.1371")
		require.NoError(t, err)
		// The last successful provider for the prefix wins.
		assert.Equal(t, "core", affinity.ProviderName)
	})

	t.Run("rank reflects observed performance", func(t *testing.T) {
		ranked, err := aggregator.Rank(ctx, []*domain.Provider{
			{Name: "unpaywall", Priority: 1},
			{Name: "core", Priority: 3},
		})
		require.NoError(t, err)
		require.Len(t, ranked, 2)
		// core has a perfect success rate and outranks unpaywall despite priority.
		assert.Equal(t, "core", ranked[0].Provider.Name)
	})

	t.Run("recompute from the ledger matches incremental stats", func(t *testing.T) {
		perfRepo := repository.NewPgPerformanceRepository(testPool)
		incremental, err := perfRepo.GetStats(ctx, "unpaywall")
		require.NoError(t, err)

		recomputed, err := perfRepo.RecomputeStats(ctx, "unpaywall")
		require.NoError(t, err)
		assert.Equal(t, incremental.Total, recomputed.Total)
		assert.Equal(t, incremental.Successes, recomputed.Successes)
		assert.Equal(t, incremental.Failures, recomputed.Failures)
		assert.Equal(t, incremental.TotalLatencyMS, recomputed.TotalLatencyMS)
	})

	t.Run("purge removes old ledger rows without rewinding stats", func(t *testing.T) {
		removed, err := attemptRepo.PurgeOlderThan(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(3), removed)

		perfRepo := repository.NewPgPerformanceRepository(testPool)
		stats, err := perfRepo.GetStats(ctx, "unpaywall")
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Total)
	})
}

func TestRetryQueue_Integration(t *testing.T) {
	cleanTable(t, "retry_queue")
	ctx := context.Background()

	repo := repository.NewPgRetryRepository(testPool)
	scheduler := retryqueue.NewScheduler(repo, retryqueue.Policy{
		MaxRetries:           3,
		RateLimitBaseDelay:   time.Hour,
		NetworkBaseDelay:     5 * time.Minute,
		ServerErrorBaseDelay: 10 * time.Minute,
	}, nil, zerolog.Nop())

	t.Run("backoff doubles across failures", func(t *testing.T) {
		outcome, first, err := scheduler.OnFailure(ctx, "10.1/backoff", domain.CategoryNetworkError)
		require.NoError(t, err)
		require.Equal(t, retryqueue.OutcomeScheduled, outcome)
		firstDelay := first.NextRetryAt.Sub(first.LastAttemptedAt)

		_, second, err := scheduler.OnFailure(ctx, "10.1/backoff", domain.CategoryNetworkError)
		require.NoError(t, err)
		secondDelay := second.NextRetryAt.Sub(second.LastAttemptedAt)

		assert.Equal(t, 1, second.RetryCount)
		assert.Greater(t, secondDelay, firstDelay)
	})

	t.Run("exhaustion removes the entry", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			outcome, _, err := scheduler.OnFailure(ctx, "10.1/exhaust", domain.CategoryServerError)
			require.NoError(t, err)
			require.Equal(t, retryqueue.OutcomeScheduled, outcome)
		}
		outcome, _, err := scheduler.OnFailure(ctx, "10.1/exhaust", domain.CategoryServerError)
		require.NoError(t, err)
		assert.Equal(t, retryqueue.OutcomeExhausted, outcome)

		_, err = repo.Get(ctx, "10.1/exhaust")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Due returns only elapsed entries", func(t *testing.T) {
		_, _, err := scheduler.OnFailure(ctx, "10.1/due", domain.CategoryTimeout)
		require.NoError(t, err)

		due, err := repo.Due(ctx, time.Now().UTC(), 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = repo.Due(ctx, time.Now().UTC().Add(24*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "10.1/due", due[0].Identifier)
	})

	t.Run("OnSuccess clears the entry", func(t *testing.T) {
		require.NoError(t, scheduler.OnSuccess(ctx, "10.1/due"))
		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count) // 10.1/backoff remains
	})
}
