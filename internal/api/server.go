package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"fx-price-feeder/internal/config"
	"fx-price-feeder/internal/metrics"
	"fx-price-feeder/internal/monitor"
	"fx-price-feeder/internal/report"
)

// apiError is the standard JSON error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	errCodeNoReport = "NO_REPORT"
	errCodeInternal = "INTERNAL_ERROR"
)

// StatusSource exposes the daemon state the API reads.
type StatusSource interface {
	CommitEnabled() bool
	Tracker() *monitor.Tracker
}

// Server serves the read-only status API: latest reports, breaker states,
// health, and prometheus metrics.
type Server struct {
	router  *mux.Router
	reports *report.Writer
	status  StatusSource
	metrics *metrics.Metrics
	logger  zerolog.Logger
	httpSrv *http.Server
}

// NewServer wires routes and CORS from config.
func NewServer(cfg config.APIConfig, reports *report.Writer, status StatusSource, m *metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		reports: reports,
		status:  status,
		metrics: m,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.routes()

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	s.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           c.Handler(s.router),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/v1/reports/run", s.handleRunReport()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/reports/inverse", s.handleInverseReport()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/assets", s.handleAssets()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/health", s.handleHealth()).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.httpSrv.Addr).Msg("status API listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRunReport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := s.reports.ReadRun()
		if err != nil {
			writeJSONError(w, http.StatusNotFound, errCodeNoReport, "no valid run report available")
			return
		}
		writeJSON(w, run)
	}
}

func (s *Server) handleInverseReport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inverse, err := s.reports.ReadInverse()
		if err != nil {
			writeJSONError(w, http.StatusNotFound, errCodeNoReport, "no valid inverse report available")
			return
		}
		writeJSON(w, inverse)
	}
}

type assetStatus struct {
	Symbol           string     `json:"symbol"`
	ConsecutiveSkips int        `json:"consecutiveSkips"`
	ForceClose       bool       `json:"forceClose"`
	PausedUntil      *time.Time `json:"pausedUntil,omitempty"`
}

func (s *Server) handleAssets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states := s.status.Tracker().Snapshot()
		out := make([]assetStatus, 0, len(states))
		for symbol, state := range states {
			status := assetStatus{
				Symbol:           symbol,
				ConsecutiveSkips: state.ConsecutiveSkips,
				ForceClose:       state.ForceClose,
			}
			if !state.PausedUntil.IsZero() {
				paused := state.PausedUntil
				status.PausedUntil = &paused
			}
			out = append(out, status)
		}
		writeJSON(w, out)
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status":        "ok",
			"commitEnabled": s.status.CommitEnabled(),
			"pausedAssets":  s.status.Tracker().PausedCount(),
			"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

func writeJSON(w http.ResponseWriter, doc interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func writeJSONError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]apiError{"error": {Code: code, Message: message}})
}
