package reconcile

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Scheduler triggers reconciliation windows on a cron schedule instead of
// the fixed-interval Loop. By default a tick that fires while a sweep is
// still running is skipped, so in-flight replication lag is never counted
// twice; AllowOverlap opts into concurrent sweeps.
type Scheduler struct {
	cron         *cron.Cron
	engines      []*Engine
	emit         func(*Run)
	allowOverlap bool

	// ctx is the caller's context, set by Start. Sweeps read through it so
	// canceling the caller cancels in-flight store reads; otherwise a stuck
	// store would pin Stop forever.
	ctx context.Context

	mu      sync.Mutex
	running bool
}

// NewScheduler wires the engines to a cron expression. emit receives every
// completed run.
func NewScheduler(schedule string, engines []*Engine, emit func(*Run), allowOverlap bool) (*Scheduler, error) {
	s := &Scheduler{
		cron:         cron.New(),
		engines:      engines,
		emit:         emit,
		allowOverlap: allowOverlap,
		ctx:          context.Background(),
	}

	_, err := s.cron.AddFunc(schedule, func() { s.sweep(s.ctx) })
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: cron schedule %q", schedule)
	}
	return s, nil
}

// Start begins firing scheduled sweeps under ctx. Canceling ctx aborts the
// reads of any in-flight sweep.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	zap.L().Info("reconciliation scheduler started", zap.Int("engines", len(s.engines)))
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.L().Info("reconciliation scheduler stopped")
}

// sweep runs one window on every engine in order, stopping early once ctx
// is canceled.
func (s *Scheduler) sweep(ctx context.Context) {
	if !s.allowOverlap {
		s.mu.Lock()
		if s.running {
			s.mu.Unlock()
			zap.L().Warn("skipping scheduled sweep, previous sweep still running")
			return
		}
		s.running = true
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
	}

	for _, e := range s.engines {
		if ctx.Err() != nil {
			return
		}
		s.emit(e.RunWindow(ctx))
	}
}
