package provider

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fx-price-feeder/internal/pricing"
)

// Cache keeps last-known-good samples per (provider, symbol) with a short
// TTL, optionally mirrored to a JSON file so restarts keep history.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	path    string
	entries map[string]cacheEntry
	logger  zerolog.Logger
	now     func() time.Time
}

type cacheEntry struct {
	Sample   pricing.PriceSample
	StoredAt time.Time
}

type diskEntry struct {
	Symbol    string `json:"symbol"`
	Value     string `json:"value"`
	Decimals  int    `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
	StoredAt  int64  `json:"storedAt"`
}

// NewCache builds a cache. An empty path disables the on-disk mirror.
func NewCache(ttl time.Duration, path string, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &Cache{
		ttl:     ttl,
		path:    path,
		entries: make(map[string]cacheEntry),
		logger:  logger.With().Str("component", "price_cache").Logger(),
		now:     time.Now,
	}
	c.load()
	return c
}

func cacheKey(provider, symbol string) string { return provider + "/" + symbol }

// Put records a sample for (provider, symbol). Last writer wins.
func (c *Cache) Put(provider, symbol string, sample pricing.PriceSample) {
	c.mu.Lock()
	c.entries[cacheKey(provider, symbol)] = cacheEntry{Sample: sample, StoredAt: c.now()}
	c.mu.Unlock()
	c.persist()
}

// Get returns the cached sample if it is within TTL, nil otherwise.
func (c *Cache) Get(provider, symbol string) *pricing.PriceSample {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey(provider, symbol)]
	if !ok || c.now().Sub(entry.StoredAt) > c.ttl {
		return nil
	}
	sample := entry.Sample
	return &sample
}

// Stale returns the most recently stored sample for symbol across all
// providers, ignoring TTL. Used by the cache provider when the monitor has
// forced a last-known read.
func (c *Cache) Stale(symbol string) *pricing.PriceSample {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *cacheEntry
	for key, entry := range c.entries {
		if !strings.HasSuffix(key, "/"+symbol) {
			continue
		}
		if best == nil || entry.StoredAt.After(best.StoredAt) {
			e := entry
			best = &e
		}
	}
	if best == nil {
		return nil
	}
	sample := best.Sample
	return &sample
}

func (c *Cache) persist() {
	if c.path == "" {
		return
	}

	c.mu.Lock()
	snapshot := make(map[string]diskEntry, len(c.entries))
	for key, entry := range c.entries {
		snapshot[key] = diskEntry{
			Symbol:    entry.Sample.Symbol,
			Value:     entry.Sample.Value.String(),
			Decimals:  entry.Sample.Decimals,
			Timestamp: entry.Sample.Timestamp,
			Source:    entry.Sample.Source,
			StoredAt:  entry.StoredAt.Unix(),
		}
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode cache snapshot")
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.logger.Warn().Err(err).Msg("failed to create cache directory")
		return
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		c.logger.Warn().Err(err).Str("path", c.path).Msg("failed to write cache snapshot")
	}
}

func (c *Cache) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}

	var snapshot map[string]diskEntry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.logger.Warn().Err(err).Str("path", c.path).Msg("ignoring malformed cache snapshot")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range snapshot {
		value, ok := new(big.Int).SetString(entry.Value, 10)
		if !ok || value.Sign() < 0 {
			continue
		}
		c.entries[key] = cacheEntry{
			Sample: pricing.PriceSample{
				Symbol:    entry.Symbol,
				Value:     value,
				Decimals:  entry.Decimals,
				Timestamp: entry.Timestamp,
				Source:    entry.Source,
			},
			StoredAt: time.Unix(entry.StoredAt, 0),
		}
	}
}

// CacheProvider replays last-known-good samples. It is only consulted when
// the chain is told stale reads are acceptable, and its samples are always
// degraded.
type CacheProvider struct {
	cache  *Cache
	logger zerolog.Logger
}

// NewCacheProvider wraps a cache as a replay provider.
func NewCacheProvider(cache *Cache, logger zerolog.Logger) *CacheProvider {
	return &CacheProvider{cache: cache, logger: logger.With().Str("component", "cache_provider").Logger()}
}

// Name implements Provider.
func (p *CacheProvider) Name() string { return KindCache.String() }

// Get replays the newest stored sample for symbol, regardless of age.
func (p *CacheProvider) Get(_ context.Context, symbol string) (*pricing.PriceSample, error) {
	sample := p.cache.Stale(symbol)
	if sample == nil {
		return nil, nil
	}
	sample.Source = p.Name()
	sample.Degraded = true
	p.logger.Warn().Str("symbol", symbol).Int64("ts", sample.Timestamp).Msg("[FALLBACK] serving stale cached price")
	return sample, nil
}

var _ Provider = (*CacheProvider)(nil)
