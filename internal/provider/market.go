package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-price-feeder/internal/pricing"
)

// MarketOptions parameterise the primary market-data feed.
type MarketOptions struct {
	BaseURL  string
	APIKey   string
	Decimals int
	Timeout  time.Duration
}

// Market is the primary provider: a REST market-data feed quoting live mids
// for FX pairs and bullion.
type Market struct {
	opts    MarketOptions
	client  *RetryClient
	logger  zerolog.Logger
	baseURL string
}

// NewMarket constructs the primary feed provider.
func NewMarket(opts MarketOptions, logger zerolog.Logger) *Market {
	if opts.Decimals <= 0 {
		opts.Decimals = 8
	}
	return &Market{
		opts:    opts,
		client:  NewRetryClient(opts.Timeout, logger),
		logger:  logger.With().Str("component", "market_provider").Logger(),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Name implements Provider.
func (m *Market) Name() string { return KindMarket.String() }

type marketQuote struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
	Live      bool   `json:"live"`
}

// Get fetches a live quote. An unknown symbol yields (nil, nil); a quote
// flagged non-live is returned degraded.
func (m *Market) Get(ctx context.Context, symbol string) (*pricing.PriceSample, error) {
	if m.baseURL == "" {
		return nil, fmt.Errorf("market provider base url not configured")
	}

	endpoint := fmt.Sprintf("%s/v1/rates?symbol=%s", m.baseURL, url.QueryEscape(symbol))
	headers := map[string]string{}
	if m.opts.APIKey != "" {
		headers["X-Api-Key"] = m.opts.APIKey
	}

	body, err := m.client.Get(ctx, endpoint, headers)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var quote marketQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("decode market quote: %w", err)
	}
	if quote.Price == "" {
		return nil, nil
	}

	value, err := toFixed(quote.Price, m.opts.Decimals)
	if err != nil {
		return nil, fmt.Errorf("parse market price for %s: %w", symbol, err)
	}

	ts := quote.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	return &pricing.PriceSample{
		Symbol:    symbol,
		Value:     value,
		Decimals:  m.opts.Decimals,
		Timestamp: ts,
		Source:    m.Name(),
		Degraded:  !quote.Live,
	}, nil
}

// toFixed converts a decimal price string into an integer scaled by
// 10^decimals, truncating excess precision.
func toFixed(price string, decimals int) (*big.Int, error) {
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return nil, err
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("negative price %s", price)
	}
	return parsed.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

var _ Provider = (*Market)(nil)
