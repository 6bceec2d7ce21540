package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"fx-price-feeder/internal/alerting"
	"fx-price-feeder/internal/crosscheck"
	"fx-price-feeder/internal/feeder"
	"fx-price-feeder/internal/pricing"
	"fx-price-feeder/internal/report"
	"fx-price-feeder/internal/storage"
)

// persist writes the cycle's reports, audit rows, and webhook notification.
// All sinks are best effort: a failing sink is logged and never fails the
// cycle.
func (m *Monitor) persist(ctx context.Context, summary *feeder.Summary, outcomes map[string]crosscheck.Outcome, alerts int, cycleMs int64, verification *alerting.VerificationStatus) {
	ts := m.now()
	run := m.buildRunReport(ts, summary, outcomes, alerts, cycleMs)
	inverse := buildInverseReport(ts, summary, outcomes)

	if m.reports != nil {
		if err := m.reports.Write(run, inverse); err != nil {
			m.logger.Error().Err(err).Msg("failed to write cycle reports")
		}
	}

	if m.store != nil {
		m.storeCycle(ctx, ts, summary, outcomes, alerts, cycleMs)
	}

	if m.notifier != nil {
		payload := alerting.Payload{
			TS:            ts.Unix(),
			Updated:       summary.Updated,
			Skipped:       summary.Skipped,
			Degraded:      summary.Degraded,
			CheckerAlerts: alerts,
			CommitEnabled: m.CommitEnabled(),
			ProviderRates: summary.Stats.Successes,
			Verification:  verification,
		}
		if err := m.notifier.Notify(ctx, payload); err != nil {
			m.logger.Warn().Err(err).Msg("webhook delivery failed")
		}
	}
}

func (m *Monitor) buildRunReport(ts time.Time, summary *feeder.Summary, outcomes map[string]crosscheck.Outcome, alerts int, cycleMs int64) report.RunReport {
	symbols := make(map[string]report.SymbolEntry, len(summary.Results))
	var fxDiffs, xauDiffs []float64

	for _, result := range summary.Results {
		if result.Skipped {
			continue
		}
		entry := report.SymbolEntry{
			Provider: result.Provider,
			Price:    quoteToFloat(result.Quote),
			OK:       true,
		}
		if outcome, checked := outcomes[result.Symbol]; checked {
			entry.GooglePrice = outcome.ReferencePrice
			entry.DiffPct = outcome.DiffPct
			entry.Path = string(outcome.Path)
			entry.OK = outcome.OK
			if outcome.DiffPct != nil {
				diff := *outcome.DiffPct
				if diff < 0 {
					diff = -diff
				}
				if pricing.ClassOf(result.Symbol) == pricing.ClassBullion {
					xauDiffs = append(xauDiffs, diff)
				} else {
					fxDiffs = append(fxDiffs, diff)
				}
			}
		}
		symbols[result.Symbol] = entry
	}

	var providerOrder []string
	if assets := m.feeder.Assets(); len(assets) > 0 {
		providerOrder = m.feeder.ChainOrder(assets[0].Symbol)
	}

	var fallbackRatio float64
	if summary.Updated > 0 {
		fallbackRatio = float64(summary.Stats.Fallbacks) / float64(summary.Updated)
	}

	return report.RunReport{
		TS:            ts.Unix(),
		Updated:       summary.Updated,
		Skipped:       summary.Skipped,
		FallbackUsed:  summary.Stats.Fallbacks,
		CheckerAlerts: alerts,
		Symbols:       symbols,
		ProviderOrder: providerOrder,
		ByProvider:    summary.Stats.Successes,
		CycleMs:       cycleMs,
		FallbackRatio: fallbackRatio,
		AvgDiffFx:     mean(fxDiffs),
		AvgDiffXAU:    mean(xauDiffs),
	}
}

func buildInverseReport(ts time.Time, summary *feeder.Summary, outcomes map[string]crosscheck.Outcome) report.InverseReport {
	providerBySymbol := make(map[string]string, len(summary.Results))
	for _, result := range summary.Results {
		providerBySymbol[result.Symbol] = result.Provider
	}

	inverse := report.InverseReport{
		TS:     ts.Unix(),
		Tested: len(outcomes),
		Alerts: []string{},
	}

	tested := make([]string, 0, len(outcomes))
	for symbol := range outcomes {
		tested = append(tested, symbol)
	}
	sort.Strings(tested)

	for _, symbol := range tested {
		outcome := outcomes[symbol]
		inverse.Items = append(inverse.Items, report.InverseItem{
			Outcome:  outcome,
			Provider: providerBySymbol[symbol],
		})
		if outcome.Error == "" && !outcome.OK {
			inverse.Alerts = append(inverse.Alerts, symbol)
		}
	}
	return inverse
}

func (m *Monitor) storeCycle(ctx context.Context, ts time.Time, summary *feeder.Summary, outcomes map[string]crosscheck.Outcome, alerts int, cycleMs int64) {
	rec := storage.CycleRecord{
		TS:            ts,
		Updated:       summary.Updated,
		Skipped:       summary.Skipped,
		Degraded:      summary.Degraded,
		FallbackUsed:  summary.Stats.Fallbacks,
		CheckerAlerts: alerts,
		CycleMs:       cycleMs,
		DryRun:        summary.DryRun,
		CommitEnabled: m.CommitEnabled(),
		TxHashes:      summary.TxHashes,
	}
	if err := m.store.UpsertCycle(ctx, rec); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist cycle record")
	}

	providerBySymbol := make(map[string]string, len(summary.Results))
	for _, result := range summary.Results {
		providerBySymbol[result.Symbol] = result.Provider
	}

	var breaches []storage.BreachRecord
	for symbol, outcome := range outcomes {
		if outcome.Error != "" || outcome.OK {
			continue
		}
		breach := storage.BreachRecord{
			CycleTS:      ts,
			Symbol:       symbol,
			Provider:     providerBySymbol[symbol],
			ThresholdPct: decimal.NewFromFloat(outcome.Threshold),
			Path:         string(outcome.Path),
		}
		breach.ProviderPrice = decimal.NewFromFloat(outcome.ProviderPrice)
		if outcome.ReferencePrice != nil {
			breach.ReferencePrice = decimal.NewFromFloat(*outcome.ReferencePrice)
		}
		if outcome.DiffPct != nil {
			breach.DiffPct = decimal.NewFromFloat(*outcome.DiffPct)
		}
		breaches = append(breaches, breach)
	}
	if len(breaches) > 0 {
		if err := m.store.InsertBreaches(ctx, breaches); err != nil {
			m.logger.Error().Err(err).Msg("failed to persist breach records")
		}
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
