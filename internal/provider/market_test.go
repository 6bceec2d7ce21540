package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMarketGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "EURUSD" {
			t.Fatalf("unexpected symbol query: %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Fatal("api key header missing")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"symbol": "EURUSD", "price": "1.2345", "timestamp": 1700000000, "live": true,
		})
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL, APIKey: "secret", Decimals: 6, Timeout: time.Second}, noopLogger())
	sample, err := m.Get(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sample == nil {
		t.Fatal("expected sample")
	}
	if sample.Value.Int64() != 1234500 {
		t.Fatalf("expected 1234500 at 6 decimals, got %s", sample.Value)
	}
	if sample.Degraded {
		t.Fatal("live quote should not be degraded")
	}
}

func TestMarketGetNonLiveIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"symbol": "JPYUSD", "price": "0.0066", "live": false})
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL, Decimals: 8, Timeout: time.Second}, noopLogger())
	sample, err := m.Get(context.Background(), "JPYUSD")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sample == nil || !sample.Degraded {
		t.Fatalf("non-live quote should be degraded: %+v", sample)
	}
}

func TestMarketGetUnknownSymbolIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	sample, err := m.Get(context.Background(), "ZZZZZZ")
	if err != nil || sample != nil {
		t.Fatalf("404 should be no-data: sample=%+v err=%v", sample, err)
	}
}

func TestBackupSubstitutesClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"mid": "", "close": "1.2340", "ts": 1700000000})
	}))
	defer srv.Close()

	b := NewBackup(BackupOptions{BaseURL: srv.URL, Decimals: 6, Timeout: time.Second}, noopLogger())
	sample, err := b.Get(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sample == nil || !sample.Degraded {
		t.Fatalf("close substitution must be degraded: %+v", sample)
	}
	if sample.Value.Int64() != 1234000 {
		t.Fatalf("expected 1234000, got %s", sample.Value)
	}
}

func TestGoldIgnoresFXSymbols(t *testing.T) {
	g := NewGold(GoldOptions{BaseURL: "http://unused"}, noopLogger())
	sample, err := g.Get(context.Background(), "EURUSD")
	if err != nil || sample != nil {
		t.Fatalf("gold feed should be no-data for fx: sample=%+v err=%v", sample, err)
	}
}

func TestGoldGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/XAU/USD" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"price": 2401.25, "timestamp": 1700000000})
	}))
	defer srv.Close()

	g := NewGold(GoldOptions{BaseURL: srv.URL, Decimals: 4, Timeout: time.Second}, noopLogger())
	sample, err := g.Get(context.Background(), "XAUUSD")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sample == nil || sample.Value.Int64() != 24012500 {
		t.Fatalf("expected 24012500 at 4 decimals, got %+v", sample)
	}
}

func TestParseKindRejectsUnknown(t *testing.T) {
	if _, err := ParseKind("oracle"); err == nil {
		t.Fatal("unknown kind should be rejected")
	}
	kind, err := ParseKind("market")
	if err != nil || kind != KindMarket {
		t.Fatalf("market should parse: %v", err)
	}
}
