// Package report serializes completed runs to a structured sink. Pure
// serialization: ordering and content are whatever the engines produced.
package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/replcheck/internal/latency"
	"github.com/sells-group/replcheck/internal/reconcile"
)

// ReconciliationReport is the envelope for one reconciliation invocation.
type ReconciliationReport struct {
	Kind      string           `json:"kind"`
	EmittedAt time.Time        `json:"emitted_at"`
	Runs      []*reconcile.Run `json:"runs"`
	Summary   ReconcileSummary `json:"summary"`
}

// ReconcileSummary tallies run outcomes so operators can tell tooling
// failure (errored) from data-integrity failure (failed) at a glance.
type ReconcileSummary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// LatencyReport is the envelope for one latency invocation.
type LatencyReport struct {
	Kind      string          `json:"kind"`
	EmittedAt time.Time       `json:"emitted_at"`
	Report    *latency.Report `json:"report"`
}

// Emitter writes reports as indented JSON documents to a sink.
type Emitter struct {
	w   io.Writer
	now func() time.Time
}

// New creates an emitter writing to w.
func New(w io.Writer) *Emitter {
	return &Emitter{w: w, now: time.Now}
}

// EmitReconciliation serializes the runs in the order they completed.
func (e *Emitter) EmitReconciliation(runs []*reconcile.Run) error {
	rep := ReconciliationReport{
		Kind:      "reconciliation",
		EmittedAt: e.now().UTC(),
		Runs:      runs,
	}
	for _, r := range runs {
		switch r.Status {
		case reconcile.StatusPassed:
			rep.Summary.Passed++
		case reconcile.StatusFailed:
			rep.Summary.Failed++
		case reconcile.StatusErrored:
			rep.Summary.Errored++
		}
	}
	return e.write(rep)
}

// EmitLatency serializes a latency report.
func (e *Emitter) EmitLatency(rep *latency.Report) error {
	return e.write(LatencyReport{
		Kind:      "latency",
		EmittedAt: e.now().UTC(),
		Report:    rep,
	})
}

func (e *Emitter) write(v any) error {
	enc := json.NewEncoder(e.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "report: encode")
	}
	return nil
}
