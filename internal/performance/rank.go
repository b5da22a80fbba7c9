package performance

import (
	"sort"

	"github.com/helixir/fulltext-service/internal/domain"
)

// neutralSuccessRate is the success rate assumed for providers with no
// recorded attempts, placing them between proven-good and proven-bad
// providers rather than at either extreme.
const neutralSuccessRate = 0.5

// RankedProvider is one catalog provider with its effective ranking keys.
type RankedProvider struct {
	Provider *domain.Provider

	// Stats is nil when the provider has no recorded attempts.
	Stats *domain.ProviderStats

	// SuccessRate and AvgLatencyMS are the effective values used for
	// ordering. For unsampled providers these are the neutral assumptions,
	// not observations.
	SuccessRate  float64
	AvgLatencyMS float64
}

// Sampled reports whether the ranking keys come from recorded attempts.
func (r *RankedProvider) Sampled() bool {
	return r.Stats != nil && r.Stats.Total > 0
}

// Rank orders candidates by observed performance: success rate descending,
// then average latency ascending, then configured priority, then name. The
// ordering is fully deterministic: equal inputs always produce equal output.
//
// Providers without recorded attempts are assigned a neutral 0.5 success rate
// and the median of the observed average latencies, so they interleave into
// the middle of the order instead of clustering at the top or bottom. When no
// provider has attempts the order degrades to (priority, name).
func Rank(candidates []*domain.Provider, stats map[string]*domain.ProviderStats) []RankedProvider {
	ranked := make([]RankedProvider, 0, len(candidates))

	var observedLatencies []float64
	for _, p := range candidates {
		if s, ok := stats[p.Name]; ok && s.Total > 0 {
			observedLatencies = append(observedLatencies, s.AvgLatencyMS())
		}
	}
	neutralLatency := medianOf(observedLatencies)

	for _, p := range candidates {
		rp := RankedProvider{Provider: p}
		if s, ok := stats[p.Name]; ok && s.Total > 0 {
			rp.Stats = s
			rp.SuccessRate = s.SuccessRate()
			rp.AvgLatencyMS = s.AvgLatencyMS()
		} else {
			rp.SuccessRate = neutralSuccessRate
			rp.AvgLatencyMS = neutralLatency
		}
		ranked = append(ranked, rp)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.AvgLatencyMS != b.AvgLatencyMS {
			return a.AvgLatencyMS < b.AvgLatencyMS
		}
		if a.Provider.Priority != b.Provider.Priority {
			return a.Provider.Priority < b.Provider.Priority
		}
		return a.Provider.Name < b.Provider.Name
	})

	return ranked
}

// medianOf returns the median of vs, or 0 for an empty slice.
func medianOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := make([]float64, len(vs))
	copy(sorted, vs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
