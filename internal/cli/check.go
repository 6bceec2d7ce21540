package cli

import (
	"github.com/spf13/cobra"

	"fx-price-feeder/internal/app"
)

var checkSymbols []string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Cross-check provider prices against the reference source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context(), app.CheckOptions{Symbols: checkSymbols})
	},
}

func init() {
	checkCmd.Flags().StringSliceVar(&checkSymbols, "symbols", nil, "Symbols to check (defaults to the watch list)")
}
