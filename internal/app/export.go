package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"fx-price-feeder/internal/storage"
)

// Export renders breach history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Monitor.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	breaches, err := store.ListBreachesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(breaches) == 0 {
		a.Logger.Info().Msg("no breaches found for export window")
		return nil
	}

	downsampled := downsampleBreaches(breaches, opts.MaxPoints)
	a.Logger.Info().Int("total", len(breaches)).Int("exported", len(downsampled)).Msg("exporting breaches")

	if opts.CSVPath != "" {
		if err := writeBreachesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeBreachesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleBreaches(breaches []storage.BreachRecord, max int) []storage.BreachRecord {
	if max <= 0 || len(breaches) <= max {
		return breaches
	}

	result := make([]storage.BreachRecord, 0, max)
	step := float64(len(breaches)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(breaches) {
			idx = len(breaches) - 1
		}
		result = append(result, breaches[idx])
	}
	return result
}

func writeBreachesCSV(path string, breaches []storage.BreachRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"cycle_ts", "symbol", "provider", "provider_price", "reference_price", "diff_pct", "threshold_pct", "path"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, breach := range breaches {
		record := []string{
			breach.CycleTS.Format(time.RFC3339),
			breach.Symbol,
			breach.Provider,
			breach.ProviderPrice.String(),
			breach.ReferencePrice.String(),
			breach.DiffPct.String(),
			breach.ThresholdPct.String(),
			breach.Path,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeBreachesPNG(path string, breaches []storage.BreachRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(breaches))
	diffs := make([]float64, len(breaches))
	thresholds := make([]float64, len(breaches))

	for i, breach := range breaches {
		x[i] = breach.CycleTS
		diffs[i] = breach.DiffPct.InexactFloat64()
		thresholds[i] = breach.ThresholdPct.InexactFloat64()
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Deviation (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Deviation %",
				XValues: x,
				YValues: diffs,
			},
			chart.TimeSeries{
				Name:    "Threshold %",
				XValues: x,
				YValues: thresholds,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
