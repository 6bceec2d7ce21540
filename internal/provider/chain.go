package provider

import (
	"context"

	"github.com/rs/zerolog"

	"fx-price-feeder/internal/pricing"
)

// Stats aggregates per-cycle provider activity. One instance is created per
// feeder cycle and read back when the run report is built; there is no
// process-wide event bus.
type Stats struct {
	Requests  map[string]int
	Successes map[string]int
	Fallbacks int
	Skips     int
}

// NewStats returns an empty per-cycle aggregate.
func NewStats() *Stats {
	return &Stats{
		Requests:  make(map[string]int),
		Successes: make(map[string]int),
	}
}

func (s *Stats) recordRequest(provider string) {
	if s == nil {
		return
	}
	s.Requests[provider]++
}

func (s *Stats) recordSuccess(provider string) {
	if s == nil {
		return
	}
	s.Successes[provider]++
}

func (s *Stats) recordFallback() {
	if s != nil {
		s.Fallbacks++
	}
}

func (s *Stats) recordSkip() {
	if s != nil {
		s.Skips++
	}
}

// Chain tries providers in priority order until one yields a sample.
type Chain struct {
	providers []Provider
	cache     *Cache
	logger    zerolog.Logger
}

// NewChain builds a fallback chain. cache may be nil when last-known-good
// recording is disabled.
func NewChain(providers []Provider, cache *Cache, logger zerolog.Logger) *Chain {
	return &Chain{
		providers: providers,
		cache:     cache,
		logger:    logger.With().Str("component", "fallback_chain").Logger(),
	}
}

// Names returns the provider priority order for reporting.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Fetch resolves symbol through the chain. A nil sample with nil error means
// every provider had no data: the asset is skipped, never errored. The cache
// provider is only consulted when allowStale is set.
func (c *Chain) Fetch(ctx context.Context, symbol string, allowStale bool, stats *Stats) (*pricing.PriceSample, error) {
	for i, p := range c.providers {
		if p.Name() == KindCache.String() && !allowStale {
			continue
		}

		stats.recordRequest(p.Name())
		sample, err := p.Get(ctx, symbol)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Str("provider", p.Name()).Msg("provider failed, trying next")
			continue
		}
		if sample == nil {
			continue
		}

		stats.recordSuccess(p.Name())
		if i > 0 {
			sample.Degraded = true
			stats.recordFallback()
			c.logger.Info().Str("symbol", symbol).Str("provider", p.Name()).Msg("[FALLBACK] non-primary provider served sample")
		}

		if c.cache != nil && p.Name() != KindCache.String() {
			c.cache.Put(p.Name(), symbol, *sample)
		}
		return sample, nil
	}

	stats.recordSkip()
	c.logger.Warn().Str("symbol", symbol).Msg("[SKIPPED] no provider returned data")
	return nil, nil
}
