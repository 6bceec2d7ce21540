package cli

import (
	"github.com/spf13/cobra"

	"fx-price-feeder/internal/app"
)

var (
	feedSymbols   []string
	feedCommit    bool
	feedTimestamp int64
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Execute one feeder cycle and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.FeedOptions{
			Symbols:   feedSymbols,
			Commit:    feedCommit,
			Timestamp: feedTimestamp,
		}
		return getApp().Feed(cmd.Context(), opts)
	},
}

func init() {
	feedCmd.Flags().StringSliceVar(&feedSymbols, "symbols", nil, "Restrict the cycle to these symbols")
	feedCmd.Flags().BoolVar(&feedCommit, "commit", false, "Commit harvested prices on-chain")
	feedCmd.Flags().Int64Var(&feedTimestamp, "timestamp", 0, "Override the commit timestamp (unix seconds)")
}
