package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// defaultBackoff is the wait schedule between transient-error retries.
var defaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// HTTPError carries a non-2xx response for callers that care about status.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// IsNotFound reports whether an error is an HTTP 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

// RetryClient wraps http.Client with a fixed retry schedule for transient
// failures (429, 503, timeouts, connection resets). Non-retryable errors
// propagate immediately.
type RetryClient struct {
	client  *http.Client
	backoff []time.Duration
	logger  zerolog.Logger
}

// NewRetryClient builds a client with the default 1s/2s/4s schedule.
func NewRetryClient(timeout time.Duration, logger zerolog.Logger) *RetryClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RetryClient{
		client:  &http.Client{Timeout: timeout},
		backoff: defaultBackoff,
		logger:  logger.With().Str("component", "http_client").Logger(),
	}
}

// Get fetches url, retrying transient failures per the backoff schedule.
func (c *RetryClient) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= len(c.backoff); attempt++ {
		if attempt > 0 {
			delay := c.backoff[attempt-1]
			c.logger.Debug().Str("url", url).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying request")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		body, err := c.do(ctx, url, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (c *RetryClient) do(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == http.StatusTooManyRequests || httpErr.Status == http.StatusServiceUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "EOF")
}
