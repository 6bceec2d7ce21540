package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fx-price-feeder/internal/config"
	"fx-price-feeder/internal/metrics"
	"fx-price-feeder/internal/monitor"
	"fx-price-feeder/internal/report"
)

type stubStatus struct {
	commit  bool
	tracker *monitor.Tracker
}

func (s *stubStatus) CommitEnabled() bool       { return s.commit }
func (s *stubStatus) Tracker() *monitor.Tracker { return s.tracker }

func newTestServer(t *testing.T, status *stubStatus, writer *report.Writer) *Server {
	t.Helper()
	if status.tracker == nil {
		status.tracker = monitor.NewTracker(3, time.Hour)
	}
	cfg := config.APIConfig{Listen: ":0", AllowedOrigins: []string{"*"}}
	return NewServer(cfg, writer, status, metrics.New(), zerolog.Nop())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubStatus{commit: true}, report.NewWriter(t.TempDir(), 5, zerolog.Nop()))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" || body["commitEnabled"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRunReportNotFoundUntilWritten(t *testing.T) {
	writer := report.NewWriter(t.TempDir(), 5, zerolog.Nop())
	srv := newTestServer(t, &stubStatus{}, writer)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/run", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first cycle, got %d", rec.Code)
	}

	if err := writer.Write(report.RunReport{Updated: 2}, report.InverseReport{}); err != nil {
		t.Fatalf("write reports: %v", err)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after write, got %d", rec.Code)
	}
	var run report.RunReport
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run report: %v", err)
	}
	if run.Schema != report.SchemaRun || run.Updated != 2 {
		t.Fatalf("unexpected report: %+v", run)
	}
}

func TestAssetsEndpointListsBreakerState(t *testing.T) {
	status := &stubStatus{tracker: monitor.NewTracker(3, time.Hour)}
	for i := 0; i < 4; i++ {
		status.tracker.RecordSkip("EURUSD")
	}
	srv := newTestServer(t, status, report.NewWriter(t.TempDir(), 5, zerolog.Nop()))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/assets", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var assets []assetStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &assets); err != nil {
		t.Fatalf("decode assets: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("expected one tracked asset, got %d", len(assets))
	}
	if assets[0].Symbol != "EURUSD" || !assets[0].ForceClose || assets[0].ConsecutiveSkips != 4 {
		t.Fatalf("unexpected asset state: %+v", assets[0])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubStatus{}, report.NewWriter(t.TempDir(), 5, zerolog.Nop()))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fxfeedd_") {
		t.Fatal("expected fxfeedd collectors in metrics output")
	}
}
