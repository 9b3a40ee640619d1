package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/replcheck/internal/reader"
	"github.com/sells-group/replcheck/internal/row"
)

func TestNewScheduler_RejectsBadExpression(t *testing.T) {
	_, err := NewScheduler("not a cron expr", nil, func(*Run) {}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cron schedule")
}

func TestScheduler_SweepRunsEveryEngine(t *testing.T) {
	committed := windowTime.Add(-time.Hour)
	rows := []row.Snapshot{mkRow(1, "a", committed)}

	e1 := newTestEngine(&fakeReader{rows: rows}, &fakeReader{rows: rows}, Config{})
	e2 := newTestEngine(&fakeReader{rows: rows}, &fakeReader{rows: rows}, Config{})

	var runs []*Run
	s, err := NewScheduler("@every 1h", []*Engine{e1, e2}, func(r *Run) { runs = append(runs, r) }, false)
	require.NoError(t, err)

	s.sweep(context.Background())
	require.Len(t, runs, 2)
	assert.Equal(t, StatusPassed, runs[0].Status)
	assert.Equal(t, StatusPassed, runs[1].Status)
}

// blockingReader blocks every read until the caller's context is canceled,
// imitating a stuck store.
type blockingReader struct {
	blocked chan struct{}
}

func (b *blockingReader) Read(ctx context.Context, kr reader.KeyRange, asOf time.Time) ([]row.Snapshot, error) {
	select {
	case b.blocked <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestScheduler_CanceledContextStopsSweepEarly(t *testing.T) {
	committed := windowTime.Add(-time.Hour)
	rows := []row.Snapshot{mkRow(1, "a", committed)}
	e := newTestEngine(&fakeReader{rows: rows}, &fakeReader{rows: rows}, Config{})

	emitted := 0
	s, err := NewScheduler("@every 1h", []*Engine{e}, func(*Run) { emitted++ }, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.sweep(ctx)
	assert.Zero(t, emitted)
}

func TestScheduler_CancelUnblocksInFlightSweep(t *testing.T) {
	stuck := &blockingReader{blocked: make(chan struct{}, 1)}
	e := newTestEngine(stuck, stuck, Config{})

	var runs []*Run
	var mu sync.Mutex
	s, err := NewScheduler("@every 1h", []*Engine{e},
		func(r *Run) { mu.Lock(); runs = append(runs, r); mu.Unlock() }, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	done := make(chan struct{})
	go func() {
		// The same path the cron closure takes: a sweep under the
		// caller's context.
		s.sweep(s.ctx)
		close(done)
	}()

	select {
	case <-stuck.blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep never reached the store")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("canceling the scheduler context did not unblock the sweep")
	}
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, runs, 1)
	assert.Equal(t, StatusErrored, runs[0].Status)
}

func TestScheduler_SkipsOverlappingSweep(t *testing.T) {
	committed := windowTime.Add(-time.Hour)
	rows := []row.Snapshot{mkRow(1, "a", committed)}
	e := newTestEngine(&fakeReader{rows: rows}, &fakeReader{rows: rows}, Config{})

	emitted := 0
	s, err := NewScheduler("@every 1h", []*Engine{e}, func(*Run) { emitted++ }, false)
	require.NoError(t, err)

	// Simulate a sweep already in progress.
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.sweep(context.Background())
	assert.Zero(t, emitted)
}
