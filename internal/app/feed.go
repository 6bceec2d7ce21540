package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"fx-price-feeder/internal/feeder"
)

// Feed executes one manual feeder cycle and prints the summary as JSON.
// A commit failure still prints the harvest summary before returning the
// error.
func (a *App) Feed(ctx context.Context, opts FeedOptions) error {
	committer, err := a.newOracle()
	if err != nil {
		return err
	}
	fd, err := a.newFeeder(committer)
	if err != nil {
		return err
	}

	summary, runErr := fd.Run(ctx, feeder.RunInput{
		Symbols:           opts.Symbols,
		Commit:            opts.Commit,
		TimestampOverride: opts.Timestamp,
	})

	var commitErr *feeder.CommitError
	if runErr != nil && !errors.As(runErr, &commitErr) {
		return runErr
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summaryView(summary)); err != nil {
		return err
	}
	return runErr
}

type feedResultView struct {
	Symbol   string `json:"symbol"`
	Provider string `json:"provider,omitempty"`
	Price    string `json:"price,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

type feedSummaryView struct {
	Total    int              `json:"total"`
	Updated  int              `json:"updated"`
	Degraded int              `json:"degraded"`
	Skipped  int              `json:"skipped"`
	DryRun   bool             `json:"dryRun"`
	TxHashes []string         `json:"txHashes,omitempty"`
	Results  []feedResultView `json:"results"`
}

func summaryView(summary *feeder.Summary) feedSummaryView {
	view := feedSummaryView{
		Total:    summary.Total,
		Updated:  summary.Updated,
		Degraded: summary.Degraded,
		Skipped:  summary.Skipped,
		DryRun:   summary.DryRun,
		TxHashes: summary.TxHashes,
	}
	for _, result := range summary.Results {
		rv := feedResultView{
			Symbol:   result.Symbol,
			Provider: result.Provider,
			Skipped:  result.Skipped,
			Degraded: result.Degraded,
		}
		if result.Quote != nil && result.Quote.Value != nil {
			rv.Price = result.Quote.Value.String()
		}
		view.Results = append(view.Results, rv)
	}
	return view
}
