package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/fulltext-service/internal/domain"
)

func provider(name string, priority int) *domain.Provider {
	return &domain.Provider{
		Name:     name,
		Enabled:  true,
		Priority: priority,
		Timeout:  30 * time.Second,
	}
}

func stats(name string, total, successes, totalLatencyMS int64) *domain.ProviderStats {
	return &domain.ProviderStats{
		ProviderName:   name,
		Total:          total,
		Successes:      successes,
		Failures:       total - successes,
		TotalLatencyMS: totalLatencyMS,
	}
}

func rankedNames(ranked []RankedProvider) []string {
	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.Provider.Name
	}
	return names
}

func TestRank_OrdersBySuccessRateThenLatency(t *testing.T) {
	candidates := []*domain.Provider{
		provider("slow-good", 1),
		provider("fast-good", 2),
		provider("bad", 3),
	}
	s := map[string]*domain.ProviderStats{
		"slow-good": stats("slow-good", 10, 9, 30000), // 0.9, 3000ms
		"fast-good": stats("fast-good", 10, 9, 5000),  // 0.9, 500ms
		"bad":       stats("bad", 10, 2, 1000),        // 0.2, 100ms
	}

	ranked := Rank(candidates, s)
	assert.Equal(t, []string{"fast-good", "slow-good", "bad"}, rankedNames(ranked))
}

func TestRank_TieBreaksOnPriorityThenName(t *testing.T) {
	candidates := []*domain.Provider{
		provider("zeta", 2),
		provider("alpha", 2),
		provider("beta", 1),
	}
	// Identical performance for all three.
	s := map[string]*domain.ProviderStats{
		"zeta":  stats("zeta", 4, 2, 4000),
		"alpha": stats("alpha", 4, 2, 4000),
		"beta":  stats("beta", 4, 2, 4000),
	}

	ranked := Rank(candidates, s)
	assert.Equal(t, []string{"beta", "alpha", "zeta"}, rankedNames(ranked))
}

func TestRank_IsDeterministic(t *testing.T) {
	candidates := []*domain.Provider{
		provider("a", 1), provider("b", 2), provider("c", 3), provider("d", 4),
	}
	s := map[string]*domain.ProviderStats{
		"a": stats("a", 20, 10, 20000),
		"c": stats("c", 5, 5, 1000),
	}

	first := rankedNames(Rank(candidates, s))
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, rankedNames(Rank(candidates, s)))
	}
}

func TestRank_InterleavesUnsampledProviders(t *testing.T) {
	candidates := []*domain.Provider{
		provider("proven-good", 3),
		provider("fresh", 2),
		provider("proven-bad", 1),
	}
	s := map[string]*domain.ProviderStats{
		"proven-good": stats("proven-good", 10, 9, 10000), // 0.9
		"proven-bad":  stats("proven-bad", 10, 1, 10000),  // 0.1
	}

	ranked := Rank(candidates, s)
	require.Equal(t, []string{"proven-good", "fresh", "proven-bad"}, rankedNames(ranked))
	assert.False(t, ranked[1].Sampled())
	assert.InDelta(t, 0.5, ranked[1].SuccessRate, 0.0001)
	// Median of the two observed average latencies.
	assert.InDelta(t, 1000, ranked[1].AvgLatencyMS, 0.0001)
}

func TestRank_AllUnsampledFallsBackToPriority(t *testing.T) {
	candidates := []*domain.Provider{
		provider("crossref", 4),
		provider("unpaywall", 1),
		provider("europepmc", 2),
	}

	ranked := Rank(candidates, nil)
	assert.Equal(t, []string{"unpaywall", "europepmc", "crossref"}, rankedNames(ranked))
}

func TestRank_IgnoresStatsForAbsentCandidates(t *testing.T) {
	candidates := []*domain.Provider{provider("unpaywall", 1)}
	s := map[string]*domain.ProviderStats{
		"unpaywall": stats("unpaywall", 2, 1, 1000),
		"disabled":  stats("disabled", 100, 100, 100),
	}

	ranked := Rank(candidates, s)
	require.Len(t, ranked, 1)
	assert.Equal(t, "unpaywall", ranked[0].Provider.Name)
}

func TestRank_EmptyCandidates(t *testing.T) {
	assert.Empty(t, Rank(nil, nil))
}

func TestMedianOf(t *testing.T) {
	assert.Equal(t, float64(0), medianOf(nil))
	assert.Equal(t, float64(5), medianOf([]float64{5}))
	assert.Equal(t, float64(3), medianOf([]float64{1, 3, 7}))
	assert.Equal(t, float64(2.5), medianOf([]float64{1, 2, 3, 4}))
}
