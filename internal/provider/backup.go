package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fx-price-feeder/internal/pricing"
)

// BackupOptions parameterise the secondary feed.
type BackupOptions struct {
	BaseURL  string
	APIKey   string
	Decimals int
	Timeout  time.Duration
}

// Backup is the secondary feed. It quotes a live mid when one exists and
// otherwise substitutes the session close, which is returned degraded.
type Backup struct {
	opts    BackupOptions
	client  *RetryClient
	logger  zerolog.Logger
	baseURL string
}

// NewBackup constructs the secondary feed provider.
func NewBackup(opts BackupOptions, logger zerolog.Logger) *Backup {
	if opts.Decimals <= 0 {
		opts.Decimals = 6
	}
	return &Backup{
		opts:    opts,
		client:  NewRetryClient(opts.Timeout, logger),
		logger:  logger.With().Str("component", "backup_provider").Logger(),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Name implements Provider.
func (b *Backup) Name() string { return KindBackup.String() }

type backupQuote struct {
	Mid       string `json:"mid"`
	Close     string `json:"close"`
	Timestamp int64  `json:"ts"`
}

// Get fetches the secondary quote for symbol.
func (b *Backup) Get(ctx context.Context, symbol string) (*pricing.PriceSample, error) {
	if b.baseURL == "" {
		return nil, fmt.Errorf("backup provider base url not configured")
	}

	endpoint := fmt.Sprintf("%s/quotes/%s", b.baseURL, url.PathEscape(symbol))
	headers := map[string]string{}
	if b.opts.APIKey != "" {
		headers["Authorization"] = "Bearer " + b.opts.APIKey
	}

	body, err := b.client.Get(ctx, endpoint, headers)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var quote backupQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("decode backup quote: %w", err)
	}

	raw := quote.Mid
	degraded := false
	if raw == "" {
		raw = quote.Close
		degraded = true
	}
	if raw == "" {
		return nil, nil
	}

	value, err := toFixed(raw, b.opts.Decimals)
	if err != nil {
		return nil, fmt.Errorf("parse backup price for %s: %w", symbol, err)
	}

	if degraded {
		b.logger.Debug().Str("symbol", symbol).Msg("live mid unavailable, substituting close")
	}

	ts := quote.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	return &pricing.PriceSample{
		Symbol:    symbol,
		Value:     value,
		Decimals:  b.opts.Decimals,
		Timestamp: ts,
		Source:    b.Name(),
		Degraded:  degraded,
	}, nil
}

var _ Provider = (*Backup)(nil)
