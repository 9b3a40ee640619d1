package latency

import (
	"math"
	"sort"
	"time"
)

// Percentile computes the p-th percentile of sorted durations using the
// nearest-rank method: rank = ceil(p/100 × n), 1-based. Chosen over linear
// interpolation so reported values are always actually-observed samples and
// re-runs over the same sample set reproduce byte-identical reports.
// Percentile({1.2s, 3.4s}, 50) = 1.2s.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

// sortedElapsed extracts the elapsed values of resolved samples in ascending
// order.
func sortedElapsed(samples []Sample) []time.Duration {
	var out []time.Duration
	for _, s := range samples {
		if s.Resolved {
			out = append(out, s.Elapsed)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
