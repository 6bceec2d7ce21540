package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestWebhookNotifierSuccess(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("expected json content type, got %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, testLogger())
	payload := Payload{
		TS:            1700000000,
		Updated:       6,
		Skipped:       1,
		CheckerAlerts: 2,
		ProviderRates: map[string]int{"market": 7},
		Verification:  &VerificationStatus{Status: "passed", ExitCode: 0},
	}

	if err := n.Notify(context.Background(), payload); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received.Schema != SchemaWebhook {
		t.Fatalf("schema should be stamped, got %q", received.Schema)
	}
	if received.Updated != 6 || received.ProviderRates["market"] != 7 {
		t.Fatalf("payload mismatch: %+v", received)
	}
	if received.Verification == nil || received.Verification.Status != "passed" {
		t.Fatalf("verification status should be carried: %+v", received.Verification)
	}
}

func TestWebhookNotifierServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, testLogger())
	if err := n.Notify(context.Background(), Payload{TS: 1}); err == nil {
		t.Fatal("5xx should surface as error")
	}
}
