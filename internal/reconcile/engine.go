package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/replcheck/internal/correlate"
	"github.com/sells-group/replcheck/internal/diff"
	"github.com/sells-group/replcheck/internal/reader"
	"github.com/sells-group/replcheck/internal/row"
)

// Config is the immutable policy for one engine instance. Passed in
// explicitly so concurrent engines can run with different policies.
type Config struct {
	// GracePeriod is the maximum allowed replication delay before a
	// missing-in-target row counts as a genuine discrepancy.
	GracePeriod time.Duration

	// MaxMismatchRatio is the tolerated fraction of mismatched keys over
	// sampled keys. Zero tolerates none.
	MaxMismatchRatio float64

	// Interval is the pause between consecutive windows in Loop. Zero starts
	// the next window immediately.
	Interval time.Duration

	// Windows bounds how many windows Loop executes. Zero runs until the
	// context is canceled.
	Windows int

	// KeyRange optionally restricts sampling to a key range.
	KeyRange reader.KeyRange
}

// Engine reconciles one table between a source and a target reader.
type Engine struct {
	table  string
	source reader.RowReader
	target reader.RowReader
	policy row.Policy
	cfg    Config

	now func() time.Time

	mu    sync.Mutex
	state State
}

// New creates an engine for one table.
func New(table string, source, target reader.RowReader, policy row.Policy, cfg Config) *Engine {
	return &Engine{
		table:  table,
		source: source,
		target: target,
		policy: policy,
		cfg:    cfg,
		now:    time.Now,
		state:  StateIdle,
	}
}

// Table returns the table this engine reconciles.
func (e *Engine) Table() string { return e.table }

// State returns the engine's current position inside a window.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	zap.L().Debug("engine state", zap.String("table", e.table), zap.String("state", string(s)))
}

// RunWindow executes one sampling window: Sampling → Diffing → Aggregating.
// Infrastructure trouble yields an Errored run rather than an error so the
// caller's loop keeps going with subsequent windows.
func (e *Engine) RunWindow(ctx context.Context) *Run {
	start := e.now().UTC()
	run := &Run{
		ID:          uuid.NewString(),
		Table:       e.table,
		WindowStart: start,
		Counts:      make(map[diff.Kind]int),
	}
	defer e.setState(StateIdle)

	e.setState(StateSampling)
	source, target, err := e.sample(ctx, start)
	if err != nil {
		return e.errored(run, eris.Wrap(err, "reconcile: sample window"))
	}

	e.setState(StateDiffing)
	res, err := diff.Diff(source, target, e.policy)
	if err != nil {
		return e.errored(run, err)
	}

	e.setState(StateAggregating)
	e.aggregate(run, res)

	zap.L().Info("window reconciled",
		zap.String("table", e.table),
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("sampled", run.SampledKeys),
		zap.Int("discrepancies", len(run.Records)),
		zap.Int("in_flight", run.InFlight),
	)
	return run
}

// sample reads both stores at the same watermark. The reads run
// concurrently; each reader retries transient failures internally, so a
// failure here means retries were exhausted.
func (e *Engine) sample(ctx context.Context, asOf time.Time) ([]row.Snapshot, []row.Snapshot, error) {
	var source, target []row.Snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := e.source.Read(gctx, e.cfg.KeyRange, asOf)
		if err != nil {
			return eris.Wrap(err, "read source")
		}
		source = rows
		return nil
	})
	g.Go(func() error {
		rows, err := e.target.Read(gctx, e.cfg.KeyRange, asOf)
		if err != nil {
			return eris.Wrap(err, "read target")
		}
		target = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return source, target, nil
}

// aggregate applies the grace period and the tolerance policy to the diff
// result and fixes the run's terminal status.
func (e *Engine) aggregate(run *Run, res *diff.Result) {
	end := e.now().UTC()
	run.WindowEnd = end
	run.SampledKeys = res.Sampled
	run.Matched = res.Matched

	for _, rec := range res.Records {
		if rec.Kind == diff.MissingInTarget && correlate.InFlight(rec.Marker, end, e.cfg.GracePeriod) {
			run.InFlight++
			continue
		}
		run.Counts[rec.Kind]++
		run.Records = append(run.Records, rec)
	}

	if run.SampledKeys > 0 {
		run.MismatchRatio = float64(run.Counts[diff.ValueMismatch]) / float64(run.SampledKeys)
	}

	missing := run.Counts[diff.MissingInTarget] + run.Counts[diff.MissingInSource]
	if missing > 0 || run.MismatchRatio > e.cfg.MaxMismatchRatio {
		run.Status = StatusFailed
		return
	}
	run.Status = StatusPassed
}

func (e *Engine) errored(run *Run, err error) *Run {
	run.WindowEnd = e.now().UTC()
	run.Status = StatusErrored
	run.Error = eris.ToString(err, false)
	zap.L().Error("window errored",
		zap.String("table", e.table),
		zap.String("run_id", run.ID),
		zap.Error(err),
	)
	return run
}

// Loop runs windows back to back, emitting each completed run. Windows are
// serialized; cancellation between windows stops the loop without touching
// an in-progress run. Returns ctx.Err when canceled early.
func (e *Engine) Loop(ctx context.Context, emit func(*Run)) error {
	for i := 0; e.cfg.Windows == 0 || i < e.cfg.Windows; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(e.RunWindow(ctx))

		if e.cfg.Windows > 0 && i == e.cfg.Windows-1 {
			break
		}
		if e.cfg.Interval > 0 {
			timer := time.NewTimer(e.cfg.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}
