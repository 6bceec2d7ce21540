package crosscheck

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// quoteServer serves canned markup per queried symbol and counts requests.
func quoteServer(t *testing.T, pages map[string]string, hits map[string]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Path[len("/quote/"):]
		hits[symbol]++
		markup, ok := pages[symbol]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(markup))
	}))
}

func markupWithPrice(price float64) string {
	return fmt.Sprintf(`<div data-last-price="%v"></div>`, price)
}

func newTestChecker(baseURL string, overrides map[string]string) *Checker {
	return New(Options{
		BaseURL:             baseURL,
		Timeout:             time.Second,
		FXThresholdPct:      0.5,
		BullionThresholdPct: 1.5,
		Overrides:           overrides,
	}, noopLogger())
}

func TestCheckStraightPath(t *testing.T) {
	hits := map[string]int{}
	srv := quoteServer(t, map[string]string{"EURUSD": markupWithPrice(1.2345)}, hits)
	defer srv.Close()

	outcome := newTestChecker(srv.URL, nil).Check(context.Background(), "EURUSD", 1.2346)
	if !outcome.OK {
		t.Fatalf("tiny deviation should pass: %+v", outcome)
	}
	if outcome.Path != PathStraight {
		t.Fatalf("expected straight path, got %s", outcome.Path)
	}
	if outcome.InverseUsed {
		t.Fatal("straight hit must not be marked inverse")
	}
}

func TestCheckDashedPath(t *testing.T) {
	hits := map[string]int{}
	srv := quoteServer(t, map[string]string{"GBP-USD": markupWithPrice(1.30)}, hits)
	defer srv.Close()

	outcome := newTestChecker(srv.URL, nil).Check(context.Background(), "GBPUSD", 1.301)
	if outcome.Path != PathDashed {
		t.Fatalf("expected dashed path, got %+v", outcome)
	}
}

func TestCheckInversePath(t *testing.T) {
	hits := map[string]int{}
	srv := quoteServer(t, map[string]string{"USDCNY": markupWithPrice(7.1)}, hits)
	defer srv.Close()

	outcome := newTestChecker(srv.URL, nil).Check(context.Background(), "CNYUSD", 0.1409)
	if !outcome.InverseUsed {
		t.Fatalf("expected inverse resolution: %+v", outcome)
	}
	if outcome.Path != PathInverse {
		t.Fatalf("expected inverse path, got %s", outcome.Path)
	}
	if outcome.InverseSymbol != "USDCNY" {
		t.Fatalf("expected inverse symbol USDCNY, got %s", outcome.InverseSymbol)
	}
	if outcome.ReferencePrice == nil || math.Abs(*outcome.ReferencePrice-1/7.1) > 1e-12 {
		t.Fatalf("reference should be reciprocal of 7.1, got %+v", outcome.ReferencePrice)
	}
}

func TestCheckOverridePath(t *testing.T) {
	hits := map[string]int{}
	// Straight markup exists but carries no standard quote attribute, only
	// the instrument board with the futures ticker.
	srv := quoteServer(t, map[string]string{"XAUUSD": `window.__data=[["GCW00",2401.25]]`}, hits)
	defer srv.Close()

	checker := newTestChecker(srv.URL, map[string]string{"XAUUSD": "GCW00"})
	outcome := checker.Check(context.Background(), "XAUUSD", 2400.0)
	if outcome.Path != OverridePath("GCW00") {
		t.Fatalf("expected override path, got %+v", outcome)
	}
	if !outcome.OK {
		t.Fatalf("deviation within bullion threshold should pass: %+v", outcome)
	}
}

func TestCheckUnsupportedSymbol(t *testing.T) {
	outcome := newTestChecker("http://unused", nil).Check(context.Background(), "GC=F", 2400)
	if outcome.OK || outcome.Error != "unsupported symbol" {
		t.Fatalf("non 6-letter symbol should be rejected: %+v", outcome)
	}
}

func TestCheckPriceNotFound(t *testing.T) {
	hits := map[string]int{}
	srv := quoteServer(t, map[string]string{}, hits)
	defer srv.Close()

	outcome := newTestChecker(srv.URL, nil).Check(context.Background(), "EURUSD", 1.23)
	if outcome.OK || outcome.Error != "price not found" {
		t.Fatalf("total miss should report price not found: %+v", outcome)
	}
}

func TestCheckDeviationBreach(t *testing.T) {
	hits := map[string]int{}
	srv := quoteServer(t, map[string]string{"EURUSD": markupWithPrice(1.2)}, hits)
	defer srv.Close()

	outcome := newTestChecker(srv.URL, nil).Check(context.Background(), "EURUSD", 1.3)
	if outcome.OK {
		t.Fatalf("8%% deviation must breach the fx threshold: %+v", outcome)
	}
	if outcome.DiffPct == nil || *outcome.DiffPct <= 0.5 {
		t.Fatalf("diff should exceed threshold: %+v", outcome.DiffPct)
	}
}

func TestCheckCycleCacheReusesOutcome(t *testing.T) {
	hits := map[string]int{}
	srv := quoteServer(t, map[string]string{"EURUSD": markupWithPrice(1.2345)}, hits)
	defer srv.Close()

	checker := newTestChecker(srv.URL, nil)
	first := checker.Check(context.Background(), "EURUSD", 1.2345)
	second := checker.Check(context.Background(), "EURUSD", 1.2345)
	if hits["EURUSD"] != 1 {
		t.Fatalf("second check should reuse cached outcome, got %d fetches", hits["EURUSD"])
	}
	if first.OK != second.OK {
		t.Fatal("cached outcome should match original")
	}

	checker.Reset()
	checker.Check(context.Background(), "EURUSD", 1.2345)
	if hits["EURUSD"] != 2 {
		t.Fatal("reset should clear the per-cycle cache")
	}
}

func TestThresholdByClass(t *testing.T) {
	checker := newTestChecker("http://unused", nil)
	if checker.Threshold("EURUSD") != 0.5 {
		t.Fatal("fx threshold should apply to pairs")
	}
	if checker.Threshold("XAUUSD") != 1.5 {
		t.Fatal("bullion threshold should apply to metals")
	}
}
