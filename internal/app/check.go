package app

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"fx-price-feeder/internal/feeder"
)

// Check fetches current provider prices and scores them against the
// independent reference, without touching the chain or the reports.
func (a *App) Check(ctx context.Context, opts CheckOptions) error {
	fd, err := a.newFeeder(nil)
	if err != nil {
		return err
	}

	symbols := opts.Symbols
	if len(symbols) == 0 {
		for _, asset := range fd.Assets() {
			if asset.Watch {
				symbols = append(symbols, asset.Symbol)
			}
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to check; pass --symbols or mark assets with watch: true")
	}

	summary, err := fd.Run(ctx, feeder.RunInput{Symbols: symbols})
	if err != nil {
		return err
	}

	checker := a.newChecker()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tProvider\tPrice\tReference\tDiff%\tThreshold%\tPath\tVerdict")

	for _, result := range summary.Results {
		if result.Skipped {
			fmt.Fprintf(writer, "%s\t-\t-\t-\t-\t-\t-\tskipped\n", result.Symbol)
			continue
		}

		price := normalizedToFloat(result.Quote.Value, result.Quote.Decimals)
		outcome := checker.Check(ctx, result.Symbol, price)

		verdict := "ok"
		if outcome.Error != "" {
			verdict = "error: " + outcome.Error
		} else if !outcome.OK {
			verdict = "ALERT"
		}

		reference := "-"
		if outcome.ReferencePrice != nil {
			reference = fmt.Sprintf("%.6f", *outcome.ReferencePrice)
		}
		diff := "-"
		if outcome.DiffPct != nil {
			diff = fmt.Sprintf("%.4f", *outcome.DiffPct)
		}

		fmt.Fprintf(
			writer,
			"%s\t%s\t%.6f\t%s\t%s\t%.2f\t%s\t%s\n",
			result.Symbol,
			result.Provider,
			price,
			reference,
			diff,
			checker.Threshold(result.Symbol),
			outcome.Path,
			verdict,
		)
	}

	return writer.Flush()
}

func normalizedToFloat(value *big.Int, decimals int) float64 {
	if value == nil {
		return 0
	}
	price, _ := decimal.NewFromBigInt(value, -int32(decimals)).Float64()
	return price
}
