package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent cycle summaries from the database.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show cycles")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cycles, err := store.ListRecentCycles(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintln(os.Stdout, "no cycles recorded")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tUpdated\tSkipped\tDegraded\tFallbacks\tAlerts\tMs\tMode\tTx")

	for _, cycle := range cycles {
		mode := "commit"
		if cycle.DryRun {
			mode = "dry-run"
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			cycle.TS.UTC().Format(time.RFC3339),
			cycle.Updated,
			cycle.Skipped,
			cycle.Degraded,
			cycle.FallbackUsed,
			cycle.CheckerAlerts,
			cycle.CycleMs,
			mode,
			truncateList(cycle.TxHashes, 1),
		)
	}

	writer.Flush()
	return nil
}

func truncateList(values []string, max int) string {
	if len(values) == 0 {
		return ""
	}
	if len(values) <= max {
		return strings.Join(values, ",")
	}
	return fmt.Sprintf("%s (+%d)", strings.Join(values[:max], ","), len(values)-max)
}
