// Package reconcile drives repeated sampling windows over a replicated table
// and decides pass/fail against the tolerance policy.
package reconcile

import (
	"time"

	"github.com/sells-group/replcheck/internal/diff"
)

// State is the engine's position inside one window.
type State string

const (
	StateIdle        State = "idle"
	StateSampling    State = "sampling"
	StateDiffing     State = "diffing"
	StateAggregating State = "aggregating"
)

// Status is the terminal outcome of one run. Failed means the data is wrong;
// Errored means the tooling could not tell.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusErrored Status = "errored"
)

// Run is the immutable result of one sampling window.
type Run struct {
	ID          string    `json:"id"`
	Table       string    `json:"table"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	// SampledKeys is the number of distinct keys across both stores.
	SampledKeys int `json:"sampled_keys"`
	Matched     int `json:"matched"`

	// InFlight counts missing-in-target keys younger than the grace period.
	// They are reported but excluded from the pass/fail decision.
	InFlight int `json:"in_flight"`

	Counts        map[diff.Kind]int `json:"counts"`
	MismatchRatio float64           `json:"mismatch_ratio"`
	Records       []diff.Record     `json:"records,omitempty"`

	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}
