package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/replcheck/internal/alert"
	"github.com/sells-group/replcheck/internal/reconcile"
	"github.com/sells-group/replcheck/internal/report"
	"github.com/sells-group/replcheck/internal/row"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Diff configured tables between source and target",
	Long: `Samples each configured table at a shared watermark on both stores, diffs
the snapshots row by row, and reports discrepancies. Missing-in-target rows
younger than the grace period count as in-flight, not as failures.

Exit codes: 0 all tables passed, 2 at least one table failed the integrity
check, 3 at least one run hit infrastructure trouble, 1 usage errors.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyReconcileFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}

		p, err := initPools(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		table, _ := cmd.Flags().GetString("table")
		keyStart, _ := cmd.Flags().GetStringSlice("key-start")
		keyEnd, _ := cmd.Flags().GetStringSlice("key-end")
		serial, _ := cmd.Flags().GetBool("serial")

		engines, err := buildEngines(p, table, keyStart, keyEnd)
		if err != nil {
			return err
		}

		schedule, _ := cmd.Flags().GetString("schedule")
		if schedule != "" {
			return runScheduled(ctx, schedule, engines)
		}

		var mu sync.Mutex
		var runs []*reconcile.Run
		emit := func(r *reconcile.Run) {
			mu.Lock()
			runs = append(runs, r)
			mu.Unlock()
		}

		g, gctx := errgroup.WithContext(ctx)
		if serial {
			g.SetLimit(1)
		}
		for _, e := range engines {
			g.Go(func() error {
				if err := e.Loop(gctx, emit); err != nil {
					zap.L().Warn("loop stopped early", zap.String("table", e.Table()), zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := report.New(os.Stdout).EmitReconciliation(runs); err != nil {
			return err
		}

		al := alert.New(cfg.Alert.WebhookURL)
		al.Send(ctx, al.EvaluateRuns(runs))

		return outcomeError(runs)
	},
}

// buildEngines creates one engine per configured table, optionally filtered
// to a single table and bounded to a key range.
func buildEngines(p *pools, table string, keyStart, keyEnd []string) ([]*reconcile.Engine, error) {
	ecfg := cfg.Reconcile.EngineConfig()
	if len(keyStart) > 0 {
		ecfg.KeyRange.Start = row.KeyOf(toAny(keyStart)...)
	}
	if len(keyEnd) > 0 {
		ecfg.KeyRange.End = row.KeyOf(toAny(keyEnd)...)
	}

	var engines []*reconcile.Engine
	for _, spec := range cfg.Tables {
		if table != "" && spec.Table != table {
			continue
		}
		engines = append(engines, reconcile.New(
			spec.Table,
			p.sourceReader(spec),
			p.targetReader(spec),
			cfg.Policy.RowPolicy(),
			ecfg,
		))
	}
	if len(engines) == 0 {
		return nil, eris.Errorf("no configured table matches %q", table)
	}
	return engines, nil
}

// runScheduled fires sweeps on a cron schedule until interrupted, emitting
// each completed run as its own report document. The exit code on shutdown
// reflects the worst outcome seen across all sweeps.
func runScheduled(ctx context.Context, schedule string, engines []*reconcile.Engine) error {
	emitter := report.New(os.Stdout)
	var mu sync.Mutex
	var failed, errored int
	emit := func(r *reconcile.Run) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Status {
		case reconcile.StatusFailed:
			failed++
		case reconcile.StatusErrored:
			errored++
		}
		if err := emitter.EmitReconciliation([]*reconcile.Run{r}); err != nil {
			zap.L().Error("emit run", zap.Error(err))
		}
	}

	s, err := reconcile.NewScheduler(schedule, engines, emit, cfg.Reconcile.AllowOverlap)
	if err != nil {
		return err
	}
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	return outcomeFromCounts(failed, errored)
}

// applyReconcileFlags folds explicit flag overrides into the loaded config.
func applyReconcileFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("windows") {
		cfg.Reconcile.Windows, _ = cmd.Flags().GetInt("windows")
	}
	if cmd.Flags().Changed("interval") {
		cfg.Reconcile.IntervalSecs, _ = cmd.Flags().GetInt("interval")
	}
	if cmd.Flags().Changed("grace") {
		cfg.Reconcile.GracePeriodSecs, _ = cmd.Flags().GetInt("grace")
	}
	if cmd.Flags().Changed("max-mismatch-ratio") {
		cfg.Reconcile.MaxMismatchRatio, _ = cmd.Flags().GetFloat64("max-mismatch-ratio")
	}
}

func toAny(parts []string) []any {
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}

func init() {
	reconcileCmd.Flags().String("table", "", "reconcile only this table")
	reconcileCmd.Flags().Int("windows", 0, "number of windows per table (0 = config value)")
	reconcileCmd.Flags().Int("interval", 0, "seconds between windows")
	reconcileCmd.Flags().Int("grace", 0, "grace period in seconds for in-flight rows")
	reconcileCmd.Flags().Float64("max-mismatch-ratio", 0, "tolerated fraction of mismatched keys")
	reconcileCmd.Flags().StringSlice("key-start", nil, "inclusive lower key bound (one value per key column)")
	reconcileCmd.Flags().StringSlice("key-end", nil, "inclusive upper key bound (one value per key column)")
	reconcileCmd.Flags().String("schedule", "", "cron expression; run sweeps on a schedule instead of exiting")
	reconcileCmd.Flags().Bool("serial", false, "reconcile tables one at a time")

	rootCmd.AddCommand(reconcileCmd)
}
