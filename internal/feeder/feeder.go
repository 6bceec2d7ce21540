package feeder

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"fx-price-feeder/internal/oracle"
	"fx-price-feeder/internal/pricing"
	"fx-price-feeder/internal/provider"
)

// Result is the per-asset outcome of one feeder run.
type Result struct {
	Symbol   string
	Provider string
	Quote    *pricing.NormalizedQuote
	Skipped  bool
	Degraded bool
}

// Summary aggregates one feeder invocation. Never mutated after return;
// Updated + Skipped always equals Total.
type Summary struct {
	Total    int
	Updated  int
	Degraded int
	Skipped  int
	DryRun   bool
	Results  []Result
	TxHashes []string
	Stats    *provider.Stats
}

// CommitError reports an on-chain commit failure together with the asset
// keys it affects. The summary computed before the commit stays valid.
type CommitError struct {
	Assets []string
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed for [%s]: %v", strings.Join(e.Assets, ","), e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// RunInput parameterises a single feeder cycle.
type RunInput struct {
	// Symbols restricts the run to an explicit list; empty means the full
	// configured universe.
	Symbols []string
	// Commit enables the on-chain step when a committer is configured.
	Commit bool
	// AllowStale marks assets whose chain may serve a cached read.
	AllowStale map[string]bool
	// TimestampOverride forces a commit timestamp instead of sample time.
	TimestampOverride int64
	// Stats receives per-provider counters; allocated when nil.
	Stats *provider.Stats
}

// Feeder resolves the asset universe through fallback chains, normalizes
// samples to 18 decimals, and optionally commits the batch on-chain.
type Feeder struct {
	assets    []pricing.Asset
	chains    map[string]*provider.Chain
	committer oracle.Client
	logger    zerolog.Logger
}

// New precomputes one fallback chain per configured asset. committer may be
// nil, which makes every run a dry run.
func New(assets []pricing.Asset, registry *provider.Registry, cache *provider.Cache, committer oracle.Client, logger zerolog.Logger) (*Feeder, error) {
	chains := make(map[string]*provider.Chain, len(assets))
	for _, asset := range assets {
		kinds := make([]provider.Kind, 0, len(asset.Providers))
		for _, name := range asset.Providers {
			kind, err := provider.ParseKind(name)
			if err != nil {
				return nil, fmt.Errorf("asset %s: %w", asset.Symbol, err)
			}
			kinds = append(kinds, kind)
		}
		resolved, err := registry.Resolve(kinds)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", asset.Symbol, err)
		}
		chains[asset.Symbol] = provider.NewChain(resolved, cache, logger)
	}

	return &Feeder{
		assets:    assets,
		chains:    chains,
		committer: committer,
		logger:    logger.With().Str("component", "feeder").Logger(),
	}, nil
}

// Assets returns the configured universe.
func (f *Feeder) Assets() []pricing.Asset { return f.assets }

// ChainOrder returns the provider priority order for symbol, for reporting.
func (f *Feeder) ChainOrder(symbol string) []string {
	chain, ok := f.chains[symbol]
	if !ok {
		return nil
	}
	return chain.Names()
}

// Run executes one feeder cycle. It returns an error only for cycle-fatal
// conditions (no resolvable symbols) or commit failures; individual asset
// misses are recorded as skips.
func (f *Feeder) Run(ctx context.Context, input RunInput) (*Summary, error) {
	targets, err := f.selectAssets(input.Symbols)
	if err != nil {
		return nil, err
	}

	stats := input.Stats
	if stats == nil {
		stats = provider.NewStats()
	}

	summary := &Summary{
		Total:  len(targets),
		DryRun: !input.Commit || f.committer == nil,
		Stats:  stats,
	}

	var updates []oracle.Update
	for _, asset := range targets {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		chain := f.chains[asset.Symbol]
		sample, fetchErr := chain.Fetch(ctx, asset.Symbol, input.AllowStale[asset.Symbol], stats)
		if fetchErr != nil {
			f.logger.Warn().Err(fetchErr).Str("symbol", asset.Symbol).Msg("[SKIPPED] chain fetch failed")
			summary.Skipped++
			summary.Results = append(summary.Results, Result{Symbol: asset.Symbol, Skipped: true})
			continue
		}
		if sample == nil {
			summary.Skipped++
			summary.Results = append(summary.Results, Result{Symbol: asset.Symbol, Skipped: true})
			continue
		}

		quote, normErr := pricing.Normalize(*sample)
		if normErr != nil {
			f.logger.Warn().Err(normErr).Str("symbol", asset.Symbol).Msg("[SKIPPED] sample failed normalization")
			summary.Skipped++
			summary.Results = append(summary.Results, Result{Symbol: asset.Symbol, Skipped: true})
			continue
		}

		summary.Updated++
		if quote.Degraded {
			summary.Degraded++
		}
		summary.Results = append(summary.Results, Result{
			Symbol:   asset.Symbol,
			Provider: quote.Source,
			Quote:    &quote,
			Degraded: quote.Degraded,
		})

		ts := quote.Timestamp
		if input.TimestampOverride > 0 {
			ts = input.TimestampOverride
		}
		updates = append(updates, oracle.Update{
			AssetID:   pricing.AssetID(asset.Symbol),
			Symbol:    asset.Symbol,
			Price:     quote.Value,
			Timestamp: ts,
			Decimals:  uint8(quote.Decimals),
			Source:    quote.Source,
			Degraded:  quote.Degraded,
		})
	}

	if summary.DryRun || len(updates) == 0 {
		return summary, nil
	}

	if commitErr := f.commit(ctx, summary, updates); commitErr != nil {
		return summary, commitErr
	}
	return summary, nil
}

func (f *Feeder) selectAssets(symbols []string) ([]pricing.Asset, error) {
	if len(symbols) == 0 {
		if len(f.assets) == 0 {
			return nil, fmt.Errorf("feeder: no assets configured")
		}
		return f.assets, nil
	}

	bySymbol := make(map[string]pricing.Asset, len(f.assets))
	for _, asset := range f.assets {
		bySymbol[asset.Symbol] = asset
	}

	targets := make([]pricing.Asset, 0, len(symbols))
	for _, symbol := range symbols {
		asset, ok := bySymbol[strings.ToUpper(symbol)]
		if !ok {
			f.logger.Warn().Str("symbol", symbol).Msg("requested symbol not in configured universe")
			continue
		}
		targets = append(targets, asset)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("feeder: none of the requested symbols are resolvable")
	}
	return targets, nil
}

func (f *Feeder) commit(ctx context.Context, summary *Summary, updates []oracle.Update) error {
	if f.committer.SupportsBatch() {
		hash, err := f.committer.UpdatePriceBatch(ctx, updates)
		if err != nil {
			return &CommitError{Assets: updateSymbols(updates), Err: err}
		}
		summary.TxHashes = append(summary.TxHashes, hash)
		f.logger.Info().Str("tx", hash).Int("assets", len(updates)).Msg("batch committed")
		return nil
	}

	var failed []string
	var lastErr error
	for _, update := range updates {
		hash, err := f.committer.UpdatePrice(ctx, update)
		if err != nil {
			failed = append(failed, update.Symbol)
			lastErr = err
			f.logger.Error().Err(err).Str("symbol", update.Symbol).Msg("single commit failed")
			continue
		}
		summary.TxHashes = append(summary.TxHashes, hash)
	}
	if len(failed) > 0 {
		return &CommitError{Assets: failed, Err: lastErr}
	}
	return nil
}

func updateSymbols(updates []oracle.Update) []string {
	symbols := make([]string, 0, len(updates))
	for _, u := range updates {
		symbols = append(symbols, u.Symbol)
	}
	return symbols
}
