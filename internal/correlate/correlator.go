// Package correlate tracks when a source write first becomes visible
// downstream. The latency measurer feeds it probe observations; the
// reconciliation engine uses it to tell "not yet replicated" apart from
// "lost".
package correlate

import (
	"sync"
	"time"

	"github.com/sells-group/replcheck/internal/row"
)

// Correlator records the first observed downstream appearance per key.
// Safe for concurrent use by many probes.
type Correlator struct {
	mu        sync.Mutex
	firstSeen map[string]time.Time
}

// New returns an empty correlator.
func New() *Correlator {
	return &Correlator{firstSeen: make(map[string]time.Time)}
}

// Observe records that key was visible downstream at the given time. Only
// the first observation sticks; later polls of the same key are ignored.
// Returns the recorded first-seen time.
func (c *Correlator) Observe(key row.Key, at time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := key.String()
	if first, ok := c.firstSeen[id]; ok {
		return first
	}
	c.firstSeen[id] = at
	return at
}

// FirstSeen returns when key was first observed downstream, if ever.
func (c *Correlator) FirstSeen(key row.Key) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.firstSeen[key.String()]
	return at, ok
}

// Forget drops the tracking state for key. Used after probe cleanup.
func (c *Correlator) Forget(key row.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.firstSeen, key.String())
}

// InFlight reports whether a row with the given source commit marker is
// still within the grace period at now, i.e. its absence downstream is
// expected in-flight replication rather than loss. A zero marker cannot be
// aged and is never considered in flight.
func InFlight(marker row.Marker, now time.Time, grace time.Duration) bool {
	if marker.At.IsZero() || grace <= 0 {
		return false
	}
	return now.Sub(marker.At) < grace
}
