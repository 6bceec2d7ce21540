package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-price-feeder/internal/pricing"
)

// GoldOptions parameterise the bullion-specific feed.
type GoldOptions struct {
	BaseURL  string
	APIKey   string
	Decimals int
	Timeout  time.Duration
}

// Gold wraps a bullion price API. It only answers for metal symbols
// (XAUUSD, XAGUSD); anything else is no-data.
type Gold struct {
	opts    GoldOptions
	client  *RetryClient
	logger  zerolog.Logger
	baseURL string
}

// NewGold constructs the bullion feed provider.
func NewGold(opts GoldOptions, logger zerolog.Logger) *Gold {
	if opts.Decimals <= 0 {
		opts.Decimals = 4
	}
	return &Gold{
		opts:    opts,
		client:  NewRetryClient(opts.Timeout, logger),
		logger:  logger.With().Str("component", "gold_provider").Logger(),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Name implements Provider.
func (g *Gold) Name() string { return KindGold.String() }

type goldQuote struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// Get fetches the metal spot price. FX symbols are no-data for this feed.
func (g *Gold) Get(ctx context.Context, symbol string) (*pricing.PriceSample, error) {
	if pricing.ClassOf(symbol) != pricing.ClassBullion {
		return nil, nil
	}
	if g.baseURL == "" {
		return nil, fmt.Errorf("gold provider base url not configured")
	}

	base, quote, err := pricing.SplitPair(symbol)
	if err != nil {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/api/%s/%s", g.baseURL, base, quote)
	headers := map[string]string{}
	if g.opts.APIKey != "" {
		headers["X-Access-Token"] = g.opts.APIKey
	}

	body, err := g.client.Get(ctx, endpoint, headers)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var parsed goldQuote
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode gold quote: %w", err)
	}
	if parsed.Price <= 0 {
		return nil, nil
	}

	value := decimal.NewFromFloat(parsed.Price).Shift(int32(g.opts.Decimals)).Truncate(0).BigInt()

	ts := parsed.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	return &pricing.PriceSample{
		Symbol:    symbol,
		Value:     value,
		Decimals:  g.opts.Decimals,
		Timestamp: ts,
		Source:    g.Name(),
	}, nil
}

var _ Provider = (*Gold)(nil)
