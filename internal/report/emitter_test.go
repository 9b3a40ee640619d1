package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/replcheck/internal/diff"
	"github.com/sells-group/replcheck/internal/latency"
	"github.com/sells-group/replcheck/internal/reconcile"
	"github.com/sells-group/replcheck/internal/row"
)

func TestEmitReconciliation_PreservesOrderAndTalliesOutcomes(t *testing.T) {
	runs := []*reconcile.Run{
		{ID: "r1", Table: "t1", Status: reconcile.StatusPassed},
		{ID: "r2", Table: "t2", Status: reconcile.StatusFailed, Records: []diff.Record{
			{Key: row.KeyOf(3), Kind: diff.MissingInTarget},
		}},
		{ID: "r3", Table: "t3", Status: reconcile.StatusErrored, Error: "read source: connection refused"},
	}

	var buf bytes.Buffer
	e := New(&buf)
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, e.EmitReconciliation(runs))

	var got ReconciliationReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, "reconciliation", got.Kind)
	require.Len(t, got.Runs, 3)
	assert.Equal(t, "r1", got.Runs[0].ID)
	assert.Equal(t, "r2", got.Runs[1].ID)
	assert.Equal(t, "r3", got.Runs[2].ID)

	assert.Equal(t, 1, got.Summary.Passed)
	assert.Equal(t, 1, got.Summary.Failed)
	assert.Equal(t, 1, got.Summary.Errored)

	// Errored runs stay distinguishable from integrity failures.
	assert.NotEmpty(t, got.Runs[2].Error)
	assert.Empty(t, got.Runs[1].Error)
}

func TestEmitLatency(t *testing.T) {
	rep := &latency.Report{
		Samples: []latency.Sample{
			{OpID: "a", Resolved: true, Elapsed: 1200 * time.Millisecond},
			{OpID: "b", Resolved: false},
		},
		Resolved:       1,
		Unresolved:     1,
		P50:            1200 * time.Millisecond,
		P95:            1200 * time.Millisecond,
		MaxLag:         5 * time.Minute,
		MaxLagExceeded: true,
	}

	var buf bytes.Buffer
	require.NoError(t, New(&buf).EmitLatency(rep))

	var got LatencyReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "latency", got.Kind)
	require.NotNil(t, got.Report)
	assert.Equal(t, "a", got.Report.Samples[0].OpID)
	assert.True(t, got.Report.MaxLagExceeded)
}
