package latency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentile_NearestRankExample(t *testing.T) {
	sorted := []time.Duration{1200 * time.Millisecond, 3400 * time.Millisecond}
	assert.Equal(t, 1200*time.Millisecond, Percentile(sorted, 50))
	assert.Equal(t, 3400*time.Millisecond, Percentile(sorted, 95))
	assert.Equal(t, 3400*time.Millisecond, Percentile(sorted, 99))
}

func TestPercentile_Monotonic(t *testing.T) {
	sorted := []time.Duration{
		100 * time.Millisecond,
		250 * time.Millisecond,
		300 * time.Millisecond,
		900 * time.Millisecond,
		4 * time.Second,
		7 * time.Second,
		12 * time.Second,
	}
	p50 := Percentile(sorted, 50)
	p95 := Percentile(sorted, 95)
	p99 := Percentile(sorted, 99)
	assert.LessOrEqual(t, p50, p95)
	assert.LessOrEqual(t, p95, p99)
}

func TestPercentile_Edges(t *testing.T) {
	assert.Equal(t, time.Duration(0), Percentile(nil, 95))
	one := []time.Duration{42 * time.Millisecond}
	assert.Equal(t, 42*time.Millisecond, Percentile(one, 1))
	assert.Equal(t, 42*time.Millisecond, Percentile(one, 99))
}

func TestSortedElapsed_SkipsUnresolved(t *testing.T) {
	samples := []Sample{
		{Resolved: true, Elapsed: 3 * time.Second},
		{Resolved: false},
		{Resolved: true, Elapsed: time.Second},
		{Error: "write failed"},
	}
	got := sortedElapsed(samples)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, got)
}
