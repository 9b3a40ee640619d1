package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/replcheck/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "replcheck",
	Short: "CDC replication reconciliation and latency checks",
	Long:  "Samples replicated tables on both sides of a Debezium/Kafka pipeline, diffs them row by row, and measures end-to-end replication lag with synthetic probes.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
