package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/replcheck/internal/broker"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect pipeline state",
}

var inspectLagCmd = &cobra.Command{
	Use:   "lag [topic...]",
	Short: "Show broker consumption lag for CDC topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if len(cfg.Broker.Brokers) == 0 {
			return eris.New("broker.brokers is required")
		}
		topics := args
		if len(topics) == 0 {
			if cfg.Broker.Topic == "" {
				return eris.New("no topic given and broker.topic unset")
			}
			topics = []string{cfg.Broker.Topic}
		}

		cp := broker.New(cfg.Broker.Brokers, cfg.Broker.GroupID, brokerTimeout())

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "TOPIC\tPARTITIONS\tPRODUCED\tCOMMITTED\tLAG")
		for _, topic := range topics {
			lag, err := cp.Lag(ctx, topic)
			if err != nil {
				return &statusError{code: exitInfra, msg: eris.ToString(err, false)}
			}
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
				lag.Topic, lag.Partitions, lag.Produced, lag.Committed, lag.Lag)
		}
		return w.Flush()
	},
}

var inspectHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show connector and task states from Kafka Connect",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Broker.ConnectURL == "" {
			return eris.New("broker.connect_url is required")
		}

		states, err := broker.NewConnect(cfg.Broker.ConnectURL, brokerTimeout()).Health(ctx)
		if err != nil {
			return &statusError{code: exitInfra, msg: eris.ToString(err, false)}
		}

		unhealthy := 0
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "CONNECTOR\tSTATE\tTASKS\tFAILED_TASKS")
		for _, s := range states {
			failed := 0
			for _, t := range s.Tasks {
				if t.State != "RUNNING" {
					failed++
				}
			}
			if !s.Healthy() {
				unhealthy++
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.Name, s.State, len(s.Tasks), failed)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if unhealthy > 0 {
			return &statusError{code: exitInfra, msg: fmt.Sprintf("%d connector(s) unhealthy", unhealthy)}
		}
		return nil
	},
}

func brokerTimeout() time.Duration {
	return time.Duration(cfg.Broker.TimeoutSecs) * time.Second
}

func init() {
	inspectCmd.AddCommand(inspectLagCmd)
	inspectCmd.AddCommand(inspectHealthCmd)
	rootCmd.AddCommand(inspectCmd)
}
