package cli

import (
	"github.com/spf13/cobra"

	"fx-price-feeder/internal/app"
)

var (
	runOnce      bool
	runDryRun    bool
	runSymbols   []string
	runTimestamp int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RunOptions{
			Once:      runOnce,
			DryRun:    runDryRun,
			Symbols:   runSymbols,
			Timestamp: runTimestamp,
		}
		return getApp().Run(cmd.Context(), opts)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Execute a single cycle and exit")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Disable on-chain commits regardless of config")
	runCmd.Flags().StringSliceVar(&runSymbols, "symbols", nil, "Restrict polling to these symbols")
	runCmd.Flags().Int64Var(&runTimestamp, "timestamp", 0, "Override the commit timestamp (unix seconds)")
}
