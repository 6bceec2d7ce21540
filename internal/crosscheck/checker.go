package crosscheck

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-price-feeder/internal/pricing"
	"fx-price-feeder/internal/provider"
)

// Path identifies which resolution scheme produced the reference price.
type Path string

const (
	PathStraight Path = "straight"
	PathDashed   Path = "dashed"
	PathInverse  Path = "inverse"
)

// OverridePath tags an outcome resolved through an alternate instrument.
func OverridePath(tag string) Path { return Path("override-" + tag) }

// Outcome is the cross-check verdict for one symbol in one cycle.
type Outcome struct {
	Symbol         string   `json:"symbol"`
	OK             bool     `json:"ok"`
	ProviderPrice  float64  `json:"providerPrice"`
	ReferencePrice *float64 `json:"googlePrice,omitempty"`
	DiffPct        *float64 `json:"diffPct,omitempty"`
	Threshold      float64  `json:"threshold,omitempty"`
	Path           Path     `json:"path,omitempty"`
	InverseUsed    bool     `json:"inverseUsed,omitempty"`
	InverseSymbol  string   `json:"inverseSymbol,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Options tune the checker.
type Options struct {
	BaseURL             string
	Timeout             time.Duration
	FXThresholdPct      float64
	BullionThresholdPct float64
	// Overrides maps a symbol to an alternate instrument tag tried before
	// inverse resolution (e.g. XAUUSD -> a futures ticker).
	Overrides map[string]string
}

// Checker resolves an independent reference quote for a pair and scores the
// provider price against it. Outcomes are cached per (symbol, price) within
// a cycle to bound outbound requests.
type Checker struct {
	opts    Options
	client  *provider.RetryClient
	logger  zerolog.Logger
	baseURL string
	cycle   map[string]Outcome
}

// New constructs a Checker.
func New(opts Options, logger zerolog.Logger) *Checker {
	if opts.FXThresholdPct <= 0 {
		opts.FXThresholdPct = 0.5
	}
	if opts.BullionThresholdPct <= 0 {
		opts.BullionThresholdPct = 1.5
	}
	return &Checker{
		opts:    opts,
		client:  provider.NewRetryClient(opts.Timeout, logger),
		logger:  logger.With().Str("component", "crosscheck").Logger(),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		cycle:   make(map[string]Outcome),
	}
}

// Reset clears the per-cycle outcome cache. Call once per monitor cycle.
func (c *Checker) Reset() {
	c.cycle = make(map[string]Outcome)
}

// Threshold returns the deviation bound for a symbol's asset class.
func (c *Checker) Threshold(symbol string) float64 {
	if pricing.ClassOf(symbol) == pricing.ClassBullion {
		return c.opts.BullionThresholdPct
	}
	return c.opts.FXThresholdPct
}

// Check resolves a reference price for symbol and compares providerPrice
// against it.
func (c *Checker) Check(ctx context.Context, symbol string, providerPrice float64) Outcome {
	key := fmt.Sprintf("%s|%.12f", symbol, providerPrice)
	if cached, ok := c.cycle[key]; ok {
		return cached
	}

	outcome := c.resolve(ctx, symbol, providerPrice)
	c.cycle[key] = outcome
	return outcome
}

func (c *Checker) resolve(ctx context.Context, symbol string, providerPrice float64) Outcome {
	outcome := Outcome{Symbol: symbol, ProviderPrice: providerPrice, Threshold: c.Threshold(symbol)}

	base, quote, err := pricing.SplitPair(symbol)
	if err != nil {
		outcome.Error = "unsupported symbol"
		return outcome
	}

	var markups []string

	// Straight: literal concatenated pair.
	straight, fetchErr := c.fetchMarkup(ctx, base+quote)
	if fetchErr == nil {
		markups = append(markups, straight)
		if price, ok := ExtractQuotePrice(straight); ok {
			return c.score(outcome, price, PathStraight)
		}
	}

	// Dashed: BASE-QUOTE.
	dashed, fetchErr := c.fetchMarkup(ctx, base+"-"+quote)
	if fetchErr == nil {
		markups = append(markups, dashed)
		if price, ok := ExtractQuotePrice(dashed); ok {
			return c.score(outcome, price, PathDashed)
		}
	}

	// Override: dedicated extraction pattern against the markup already
	// fetched, for symbols with a known alternate instrument.
	if tag, ok := c.opts.Overrides[symbol]; ok {
		for _, markup := range markups {
			if price, found := ExtractOverridePrice(markup, tag); found {
				return c.score(outcome, price, OverridePath(tag))
			}
		}
	}

	// Inverse: QUOTEBASE, then QUOTE-BASE; the reference is the reciprocal.
	for _, inverse := range []string{quote + base, quote + "-" + base} {
		markup, fetchErr := c.fetchMarkup(ctx, inverse)
		if fetchErr != nil {
			continue
		}
		if price, ok := ExtractQuotePrice(markup); ok && price > 0 {
			scored := c.score(outcome, 1/price, PathInverse)
			scored.InverseUsed = true
			scored.InverseSymbol = strings.ReplaceAll(inverse, "-", "")
			return scored
		}
	}

	outcome.Error = "price not found"
	c.logger.Warn().Str("symbol", symbol).Msg("cross-check reference price not found")
	return outcome
}

func (c *Checker) score(outcome Outcome, reference float64, path Path) Outcome {
	outcome.Path = path
	outcome.ReferencePrice = &reference

	prov := decimal.NewFromFloat(outcome.ProviderPrice)
	ref := decimal.NewFromFloat(reference)
	if ref.IsZero() {
		outcome.Error = "reference price is zero"
		return outcome
	}

	diff, _ := prov.Sub(ref).Abs().Div(ref).Mul(decimal.NewFromInt(100)).Float64()
	outcome.DiffPct = &diff
	outcome.OK = diff <= outcome.Threshold

	if !outcome.OK {
		c.logger.Warn().
			Str("symbol", outcome.Symbol).
			Float64("provider_price", outcome.ProviderPrice).
			Float64("reference_price", reference).
			Float64("diff_pct", diff).
			Float64("threshold_pct", outcome.Threshold).
			Msg("[ALERT] deviation threshold breached")
	}
	return outcome
}

func (c *Checker) fetchMarkup(ctx context.Context, query string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("crosscheck base url not configured")
	}
	endpoint := fmt.Sprintf("%s/quote/%s", c.baseURL, url.PathEscape(query))
	body, err := c.client.Get(ctx, endpoint, map[string]string{"Accept": "text/html"})
	if err != nil {
		return "", err
	}
	return string(body), nil
}
