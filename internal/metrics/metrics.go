package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the daemon's prometheus collectors on a private registry
// so tests can instantiate independent sets.
type Metrics struct {
	Registry *prometheus.Registry

	ProviderRequests *prometheus.CounterVec
	Fallbacks        prometheus.Counter
	Skips            prometheus.Counter
	CheckerAlerts    prometheus.Counter
	CycleDuration    prometheus.Histogram
	CommitDisabled   prometheus.Gauge
	PausedAssets     prometheus.Gauge
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxfeedd_provider_requests_total",
			Help: "Outbound provider requests per source.",
		}, []string{"provider"}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxfeedd_fallbacks_total",
			Help: "Samples served by a non-primary provider.",
		}),
		Skips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxfeedd_skips_total",
			Help: "Assets skipped because no provider had data.",
		}),
		CheckerAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxfeedd_checker_alerts_total",
			Help: "Cross-checker deviation breaches.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxfeedd_cycle_duration_seconds",
			Help:    "Wall time of one monitor cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		CommitDisabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxfeedd_commit_disabled",
			Help: "1 when the guard latch has disabled on-chain commits.",
		}),
		PausedAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxfeedd_paused_assets",
			Help: "Assets currently excluded from polling.",
		}),
	}

	registry.MustRegister(
		m.ProviderRequests,
		m.Fallbacks,
		m.Skips,
		m.CheckerAlerts,
		m.CycleDuration,
		m.CommitDisabled,
		m.PausedAssets,
	)
	return m
}

// ObserveCycle records one cycle's aggregates.
func (m *Metrics) ObserveCycle(requests map[string]int, fallbacks, skips, alerts int, duration time.Duration) {
	if m == nil {
		return
	}
	for provider, count := range requests {
		m.ProviderRequests.WithLabelValues(provider).Add(float64(count))
	}
	m.Fallbacks.Add(float64(fallbacks))
	m.Skips.Add(float64(skips))
	m.CheckerAlerts.Add(float64(alerts))
	m.CycleDuration.Observe(duration.Seconds())
}
