package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SchemaWebhook versions the outbound webhook payload.
const SchemaWebhook = "webhook.v1"

// VerificationStatus reports the downstream end-to-end verification run.
type VerificationStatus struct {
	Status   string `json:"status"`
	ExitCode int    `json:"exitCode"`
}

// Payload carries one cycle's statistics to the operator webhook.
type Payload struct {
	Schema        string              `json:"schema"`
	TS            int64               `json:"ts"`
	Updated       int                 `json:"updated"`
	Skipped       int                 `json:"skipped"`
	Degraded      int                 `json:"degraded"`
	CheckerAlerts int                 `json:"checkerAlerts"`
	CommitEnabled bool                `json:"commitEnabled"`
	ProviderRates map[string]int      `json:"providerRates"`
	Verification  *VerificationStatus `json:"verification,omitempty"`
}

// Notifier delivers cycle statistics to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, payload Payload) error
}

// WebhookNotifier POSTs payloads to a configured HTTP endpoint. Delivery is
// best effort; callers log failures and move on.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

// Notify posts the payload as JSON.
func (n *WebhookNotifier) Notify(ctx context.Context, payload Payload) error {
	payload.Schema = SchemaWebhook

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}

	n.logger.Debug().Int64("ts", payload.TS).Int("updated", payload.Updated).Msg("webhook delivered")
	return nil
}

var _ Notifier = (*WebhookNotifier)(nil)
