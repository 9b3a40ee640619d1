package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/replcheck/internal/alert"
	"github.com/sells-group/replcheck/internal/broker"
	"github.com/sells-group/replcheck/internal/latency"
	"github.com/sells-group/replcheck/internal/report"
)

var latencyCmd = &cobra.Command{
	Use:   "latency",
	Short: "Measure end-to-end replication lag with synthetic probes",
	Long: `Writes uniquely tagged probe rows to the source, polls the target until
each one shows up, and reports p50/p95/p99 over the resolved samples.
A probe that never appears before its deadline counts as an SLA violation.

Exit codes: 0 within the lag bound, 2 bound exceeded or probes unresolved,
3 the measurement itself failed, 1 usage errors.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Source.URL == "" || cfg.Target.URL == "" {
			return eris.New("source.url and target.url are required")
		}
		applyLatencyFlags(cmd)

		p, err := initPools(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		spec := cfg.Latency.ProbeSpec()
		var opts []latency.Option
		if len(cfg.Broker.Brokers) > 0 && cfg.Broker.Topic != "" {
			cp := broker.New(cfg.Broker.Brokers, cfg.Broker.GroupID, brokerTimeout())
			opts = append(opts, latency.WithCheckpoint(cp, cfg.Broker.Topic))
		}

		m := latency.New(
			p.sourceReader(spec),
			p.targetReader(spec),
			spec,
			cfg.Latency.MeasurerConfig(),
			opts...,
		)

		rep, err := m.Run(ctx)
		if err != nil {
			return &statusError{code: exitInfra, msg: eris.ToString(err, false)}
		}

		if err := report.New(os.Stdout).EmitLatency(rep); err != nil {
			return err
		}

		al := alert.New(cfg.Alert.WebhookURL)
		al.Send(ctx, al.EvaluateLatency(rep))

		return latencyOutcome(rep)
	},
}

// applyLatencyFlags folds explicit flag overrides into the loaded config.
func applyLatencyFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("probes") {
		cfg.Latency.Probes, _ = cmd.Flags().GetInt("probes")
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Latency.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("rate") {
		cfg.Latency.Rate, _ = cmd.Flags().GetFloat64("rate")
	}
	if cmd.Flags().Changed("max-lag") {
		cfg.Latency.MaxLagSecs, _ = cmd.Flags().GetInt("max-lag")
	}
	if cmd.Flags().Changed("deadline") {
		cfg.Latency.DeadlineSecs, _ = cmd.Flags().GetInt("deadline")
	}
	if cmd.Flags().Changed("cleanup") {
		cfg.Latency.Cleanup, _ = cmd.Flags().GetBool("cleanup")
	}
}

func init() {
	latencyCmd.Flags().Int("probes", 0, "number of probe rows to write")
	latencyCmd.Flags().Int("concurrency", 0, "probes in flight at once")
	latencyCmd.Flags().Float64("rate", 0, "probe writes per second (0 = unpaced)")
	latencyCmd.Flags().Int("max-lag", 0, "SLA bound in seconds compared against p95")
	latencyCmd.Flags().Int("deadline", 0, "per-probe wait deadline in seconds")
	latencyCmd.Flags().Bool("cleanup", true, "delete probe rows from the source afterwards")

	rootCmd.AddCommand(latencyCmd)
}
