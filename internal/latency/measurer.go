// Package latency measures end-to-end replication lag with synthetic probes:
// write a uniquely tagged row to the source, poll the target until it shows
// up or the deadline expires, aggregate percentiles over the resolved
// samples.
package latency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/replcheck/internal/broker"
	"github.com/sells-group/replcheck/internal/correlate"
	"github.com/sells-group/replcheck/internal/reader"
	"github.com/sells-group/replcheck/internal/row"
)

// Sample is the outcome of one probe. Terminal once the target observation
// is recorded or the deadline expires.
type Sample struct {
	OpID       string        `json:"op_id"`
	CommitAt   time.Time     `json:"commit_at"`
	ObservedAt time.Time     `json:"observed_at,omitzero"`
	Elapsed    time.Duration `json:"elapsed_ns"`

	// Resolved is false when the probe never appeared before the deadline.
	Resolved bool `json:"resolved"`

	// Error is set when the probe itself failed (write retries exhausted),
	// as opposed to timing out. Errored samples are neither percentile
	// inputs nor SLA violations.
	Error string `json:"error,omitempty"`
}

// Report aggregates one measurement run. Samples keep launch order.
type Report struct {
	Samples    []Sample      `json:"samples"`
	Resolved   int           `json:"resolved"`
	Unresolved int           `json:"unresolved"`
	Errored    int           `json:"errored"`
	P50        time.Duration `json:"p50_ns"`
	P95        time.Duration `json:"p95_ns"`
	P99        time.Duration `json:"p99_ns"`

	// MaxLag is the SLA bound the run was judged against.
	MaxLag time.Duration `json:"max_lag_ns"`

	// MaxLagExceeded is true when p95 breached MaxLag or any probe went
	// unresolved.
	MaxLagExceeded bool `json:"max_lag_exceeded"`

	CleanedUp int64            `json:"cleaned_up"`
	BrokerLag *broker.TopicLag `json:"broker_lag,omitempty"`
}

// Config is the immutable policy for one measurement run.
type Config struct {
	// Probes is the number of synthetic write/observe cycles.
	Probes int

	// Concurrency bounds how many probes run at once.
	Concurrency int

	// PollInterval is the pause between target polls for one probe.
	PollInterval time.Duration

	// Deadline bounds how long a probe waits for its row to appear.
	Deadline time.Duration

	// Rate paces probe launches (writes per second). Zero leaves launches
	// unpaced.
	Rate float64

	// MaxLag is the SLA bound compared against p95. Default 5 minutes.
	MaxLag time.Duration

	// Cleanup deletes probe rows from the source after the run so they never
	// pollute reconciliation. On by default in the CLI.
	Cleanup bool
}

// Measurer drives probe cycles against one source/target pair.
type Measurer struct {
	source     reader.RowWriter
	target     reader.RowReader
	spec       reader.Spec
	corr       *correlate.Correlator
	cfg        Config
	checkpoint *broker.Checkpoint
	topic      string
	now        func() time.Time

	// readMu serializes polls of the shared target reader. Its asOf
	// watermark must never regress, and taking the timestamp and the read
	// under one lock is what makes the watermarks arrive in issue order
	// when many probes poll concurrently.
	readMu sync.Mutex
}

// Option tunes a Measurer.
type Option func(*Measurer)

// WithCheckpoint attaches a broker checkpoint so the report carries the
// topic's consumer lag alongside the end-to-end numbers.
func WithCheckpoint(cp *broker.Checkpoint, topic string) Option {
	return func(m *Measurer) {
		m.checkpoint = cp
		m.topic = topic
	}
}

// New creates a measurer writing probes through source (described by spec)
// and observing them through target.
func New(source reader.RowWriter, target reader.RowReader, spec reader.Spec, cfg Config, opts ...Option) *Measurer {
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = time.Minute
	}
	if cfg.MaxLag <= 0 {
		cfg.MaxLag = 5 * time.Minute
	}
	m := &Measurer{
		source: source,
		target: target,
		spec:   spec,
		corr:   correlate.New(),
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes the configured number of probes and aggregates the report.
// Individual probe failures never abort the run.
func (m *Measurer) Run(ctx context.Context) (*Report, error) {
	samples := make([]Sample, m.cfg.Probes)

	limit := rate.Inf
	if m.cfg.Rate > 0 {
		limit = rate.Limit(m.cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i := range samples {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				samples[i] = Sample{Error: "canceled before launch"}
				return nil
			}
			samples[i] = m.runProbe(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "latency: probe group")
	}

	report := m.aggregate(samples)

	if m.cfg.Cleanup {
		report.CleanedUp = m.cleanup(ctx, samples)
	}
	if m.checkpoint != nil {
		lag, err := m.checkpoint.Lag(ctx, m.topic)
		if err != nil {
			zap.L().Warn("broker lag unavailable", zap.String("topic", m.topic), zap.Error(err))
		} else {
			report.BrokerLag = &lag
		}
	}

	zap.L().Info("latency run complete",
		zap.Int("probes", len(report.Samples)),
		zap.Int("resolved", report.Resolved),
		zap.Int("unresolved", report.Unresolved),
		zap.Duration("p95", report.P95),
		zap.Bool("max_lag_exceeded", report.MaxLagExceeded),
	)
	return report, nil
}

// runProbe writes one tagged row and polls the target until it appears or
// the deadline expires. The poll loop is a shared-timer wait, not a busy
// thread, so many probes can be in flight at once.
func (m *Measurer) runProbe(ctx context.Context) Sample {
	opID := uuid.NewString()
	key := row.KeyOf(opID)

	marker, err := m.source.Write(ctx, m.probeRow(opID))
	if err != nil {
		zap.L().Warn("probe write failed", zap.String("op_id", opID), zap.Error(err))
		return Sample{OpID: opID, Error: eris.ToString(err, false)}
	}

	sample := Sample{OpID: opID, CommitAt: marker.At}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.Deadline)
	defer cancel()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pctx.Done():
			// Deadline expiry is a recorded outcome, not an error.
			return sample
		case <-ticker.C:
			snaps, err := m.pollTarget(pctx, key)
			if err != nil {
				if pctx.Err() != nil {
					return sample
				}
				zap.L().Warn("probe poll failed", zap.String("op_id", opID), zap.Error(err))
				sample.Error = eris.ToString(err, false)
				return sample
			}
			if len(snaps) == 0 {
				continue
			}

			observed := m.corr.Observe(key, m.now().UTC())
			elapsed := observed.Sub(marker.At)
			if elapsed < 0 {
				// Clock skew between the store and the harness host.
				elapsed = 0
			}
			sample.ObservedAt = observed
			sample.Elapsed = elapsed
			sample.Resolved = true
			return sample
		}
	}
}

func (m *Measurer) pollTarget(ctx context.Context, key row.Key) ([]row.Snapshot, error) {
	m.readMu.Lock()
	defer m.readMu.Unlock()
	return m.target.Read(ctx, reader.Exact(key), m.now().UTC())
}

func (m *Measurer) probeRow(opID string) row.Snapshot {
	cols := make(map[string]row.Value, 1+len(m.spec.Columns))
	cols[m.spec.KeyColumns[0]] = opID
	for _, c := range m.spec.Columns {
		cols[c] = fmt.Sprintf("replcheck probe %s", opID)
	}
	return row.Snapshot{Key: row.KeyOf(opID), Columns: cols}
}

func (m *Measurer) aggregate(samples []Sample) *Report {
	report := &Report{
		Samples: samples,
		MaxLag:  m.cfg.MaxLag,
	}
	for _, s := range samples {
		switch {
		case s.Resolved:
			report.Resolved++
		case s.Error != "":
			report.Errored++
		default:
			report.Unresolved++
		}
	}

	sorted := sortedElapsed(samples)
	report.P50 = Percentile(sorted, 50)
	report.P95 = Percentile(sorted, 95)
	report.P99 = Percentile(sorted, 99)
	report.MaxLagExceeded = report.Unresolved > 0 ||
		(report.Resolved > 0 && report.P95 >= m.cfg.MaxLag)
	return report
}

// cleanup deletes probe rows from the source; the delete replicates to the
// target like any other change.
func (m *Measurer) cleanup(ctx context.Context, samples []Sample) int64 {
	keys := make([]row.Key, 0, len(samples))
	for _, s := range samples {
		if s.OpID == "" {
			continue
		}
		k := row.KeyOf(s.OpID)
		keys = append(keys, k)
		m.corr.Forget(k)
	}
	n, err := m.source.Delete(ctx, keys)
	if err != nil {
		zap.L().Warn("probe cleanup incomplete", zap.Int64("deleted", n), zap.Error(err))
	}
	return n
}
