package monitor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-price-feeder/internal/alerting"
	"fx-price-feeder/internal/crosscheck"
	"fx-price-feeder/internal/feeder"
	"fx-price-feeder/internal/metrics"
	"fx-price-feeder/internal/pricing"
	"fx-price-feeder/internal/provider"
	"fx-price-feeder/internal/report"
	"fx-price-feeder/internal/storage"
)

// batchFeeder is the slice of the feeder the monitor drives.
type batchFeeder interface {
	Run(ctx context.Context, input feeder.RunInput) (*feeder.Summary, error)
	Assets() []pricing.Asset
	ChainOrder(symbol string) []string
}

// CycleRecorder is the persistence slice the monitor writes each cycle.
type CycleRecorder interface {
	UpsertCycle(ctx context.Context, rec storage.CycleRecord) error
	InsertBreaches(ctx context.Context, breaches []storage.BreachRecord) error
}

// refChecker is the slice of the cross-checker the monitor drives.
type refChecker interface {
	Check(ctx context.Context, symbol string, providerPrice float64) crosscheck.Outcome
	Reset()
}

// Options tune the daemon.
type Options struct {
	Interval          time.Duration
	Jitter            time.Duration
	AlertCeiling      int
	Commit            bool
	SafeMode          bool
	Once              bool
	Symbols           []string
	TimestampOverride int64
	SkipThreshold     int
	PauseCooldown     time.Duration
	BackoffCeiling    time.Duration
	VerifyCommand     []string
}

// Monitor owns the scheduling loop: target selection, cycle execution,
// circuit-breaker state, guard latching, reporting, and alert delivery.
type Monitor struct {
	opts     Options
	feeder   batchFeeder
	checker  refChecker
	reports  *report.Writer
	notifier alerting.Notifier
	store    CycleRecorder
	metrics  *metrics.Metrics
	tracker  *Tracker
	logger   zerolog.Logger

	retryQueue []string

	// commit latch: once a guard condition fires, commits stay off until
	// an operator restarts the process.
	latched       bool
	guardBreaches int

	consecutiveFailures int

	now       func() time.Time
	runVerify func(ctx context.Context) *alerting.VerificationStatus
}

// New wires a monitor. notifier, store, and metrics may be nil.
func New(opts Options, f batchFeeder, checker refChecker, reports *report.Writer, notifier alerting.Notifier, store CycleRecorder, m *metrics.Metrics, logger zerolog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.BackoffCeiling <= 0 {
		opts.BackoffCeiling = 30 * time.Minute
	}

	mon := &Monitor{
		opts:     opts,
		feeder:   f,
		checker:  checker,
		reports:  reports,
		notifier: notifier,
		store:    store,
		metrics:  m,
		tracker:  NewTracker(opts.SkipThreshold, opts.PauseCooldown),
		logger:   logger.With().Str("component", "monitor").Logger(),
		now:      time.Now,
	}
	mon.runVerify = mon.execVerification
	if opts.SafeMode {
		mon.logger.Warn().Msg("safe mode enabled: on-chain commits disabled unconditionally")
	}
	return mon
}

// CommitEnabled reports whether the next cycle may commit on-chain.
func (m *Monitor) CommitEnabled() bool {
	return m.opts.Commit && !m.opts.SafeMode && !m.latched
}

// Tracker exposes asset states for the status API.
func (m *Monitor) Tracker() *Tracker { return m.tracker }

// Run executes cycles until ctx is cancelled. Shutdown is cooperative: an
// in-flight cycle completes before the loop observes cancellation. Each
// cycle runs on a context detached from ctx so a shutdown signal is only
// observed at cycle boundaries.
func (m *Monitor) Run(ctx context.Context) error {
	cycleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("shutdown requested, exiting loop")
			return ctx.Err()
		default:
		}

		delay := m.RunCycle(cycleCtx)
		if m.opts.Once {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info().Msg("shutdown requested during sleep")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunCycle executes one cycle and returns how long to sleep before the next.
func (m *Monitor) RunCycle(ctx context.Context) time.Duration {
	started := m.now()

	targets, allowStale, idle := m.selectTargets()
	if idle {
		resume, ok := m.tracker.EarliestResume()
		delay := m.opts.Interval
		if ok {
			if until := resume.Sub(m.now()); until < delay {
				delay = until
			}
		}
		m.logger.Warn().Dur("sleep", delay).Msg("all assets paused, idling")
		return delay
	}

	m.checker.Reset()
	stats := provider.NewStats()

	summary, err := m.feeder.Run(ctx, feeder.RunInput{
		Symbols:           targets,
		Commit:            m.CommitEnabled(),
		AllowStale:        allowStale,
		TimestampOverride: m.opts.TimestampOverride,
		Stats:             stats,
	})

	var commitErr *feeder.CommitError
	if err != nil && !errors.As(err, &commitErr) {
		// Cycle-fatal: nothing was harvested, back off exponentially.
		m.consecutiveFailures++
		delay := m.backoffDelay()
		m.logger.Error().Err(err).Int("consecutive_failures", m.consecutiveFailures).
			Dur("backoff", delay).Msg("cycle failed, backing off")
		return delay
	}
	m.consecutiveFailures = 0

	outcomes := m.crossCheck(ctx, summary)
	m.applyStates(summary, commitErr)

	alerts := countAlerts(outcomes)
	m.applyGuards(summary, alerts)

	var verification *alerting.VerificationStatus
	if commitErr == nil && alerts == 0 && !summary.DryRun && summary.Updated > 0 && len(m.opts.VerifyCommand) > 0 {
		verification = m.runVerify(ctx)
	}

	cycleMs := m.now().Sub(started).Milliseconds()
	m.persist(ctx, summary, outcomes, alerts, cycleMs, verification)

	if m.metrics != nil {
		m.metrics.ObserveCycle(stats.Requests, stats.Fallbacks, stats.Skips, alerts, m.now().Sub(started))
		m.metrics.PausedAssets.Set(float64(m.tracker.PausedCount()))
		if m.latched {
			m.metrics.CommitDisabled.Set(1)
		}
	}

	m.logger.Info().
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("degraded", summary.Degraded).
		Int("alerts", alerts).
		Bool("dry_run", summary.DryRun).
		Int64("cycle_ms", cycleMs).
		Msg("cycle complete")

	return m.sleepDelay()
}

// selectTargets picks this cycle's polling set. The retry queue, when
// non-empty, is polled exclusively ahead of the full universe; paused assets
// are excluded everywhere. idle is true when nothing is pollable.
func (m *Monitor) selectTargets() (symbols []string, allowStale map[string]bool, idle bool) {
	var pool []string
	switch {
	case len(m.opts.Symbols) > 0:
		pool = m.opts.Symbols
	case len(m.retryQueue) > 0:
		pool = m.retryQueue
		m.logger.Info().Strs("symbols", pool).Msg("polling retry queue exclusively")
	default:
		for _, asset := range m.feeder.Assets() {
			pool = append(pool, asset.Symbol)
		}
	}

	for _, symbol := range pool {
		if m.tracker.Paused(symbol) {
			continue
		}
		symbols = append(symbols, symbol)
	}
	if len(symbols) == 0 {
		return nil, nil, true
	}
	return symbols, m.tracker.AllowStale(), false
}

// crossCheck validates every updated watch-list asset against the
// independent reference.
func (m *Monitor) crossCheck(ctx context.Context, summary *feeder.Summary) map[string]crosscheck.Outcome {
	watch := make(map[string]bool)
	for _, asset := range m.feeder.Assets() {
		if asset.Watch {
			watch[asset.Symbol] = true
		}
	}

	outcomes := make(map[string]crosscheck.Outcome)
	for _, result := range summary.Results {
		if result.Skipped || !watch[result.Symbol] {
			continue
		}
		price := quoteToFloat(result.Quote)
		outcomes[result.Symbol] = m.checker.Check(ctx, result.Symbol, price)
	}
	return outcomes
}

// applyStates replays the cycle outcome onto every asset's breaker. State
// updates happen only after the whole cycle outcome is known.
func (m *Monitor) applyStates(summary *feeder.Summary, commitErr *feeder.CommitError) {
	failedCommit := make(map[string]bool)
	if commitErr != nil {
		for _, symbol := range commitErr.Assets {
			failedCommit[symbol] = true
		}
	}

	for _, result := range summary.Results {
		switch {
		case failedCommit[result.Symbol]:
			m.tracker.RecordCommitFailure(result.Symbol)
			m.dropFromRetryQueue(result.Symbol)
			m.logger.Error().Str("symbol", result.Symbol).
				Time("paused_until", m.tracker.State(result.Symbol).PausedUntil).
				Msg("commit failed, pausing asset")
		case result.Skipped:
			m.tracker.RecordSkip(result.Symbol)
			m.enqueueRetry(result.Symbol)
			if m.tracker.State(result.Symbol).ForceClose {
				m.logger.Warn().Str("symbol", result.Symbol).Msg("[FALLBACK] forcing stale-cache reads after repeated skips")
			}
		default:
			m.tracker.RecordSuccess(result.Symbol)
			m.dropFromRetryQueue(result.Symbol)
		}
	}
}

// applyGuards evaluates cycle-level health and trips the one-way commit
// latch when a guard condition fires.
func (m *Monitor) applyGuards(summary *feeder.Summary, alerts int) {
	zeroUpdates := summary.Updated == 0
	tooManyAlerts := m.opts.AlertCeiling > 0 && alerts > m.opts.AlertCeiling
	if !zeroUpdates && !tooManyAlerts {
		m.guardBreaches = 0
		return
	}

	m.guardBreaches++
	wasLatched := m.latched
	m.latched = true

	event := m.logger.Error()
	if m.guardBreaches >= 2 {
		// Second consecutive breach escalates the severity.
		event = m.logger.WithLevel(zerolog.FatalLevel)
	}
	event.Bool("zero_updates", zeroUpdates).
		Bool("alert_ceiling_exceeded", tooManyAlerts).
		Int("alerts", alerts).
		Bool("already_latched", wasLatched).
		Msg("[GUARD] commit disabled until operator reset")
}

func (m *Monitor) enqueueRetry(symbol string) {
	for _, queued := range m.retryQueue {
		if queued == symbol {
			return
		}
	}
	m.retryQueue = append(m.retryQueue, symbol)
}

func (m *Monitor) dropFromRetryQueue(symbol string) {
	filtered := m.retryQueue[:0]
	for _, queued := range m.retryQueue {
		if queued != symbol {
			filtered = append(filtered, queued)
		}
	}
	m.retryQueue = filtered
}

func (m *Monitor) backoffDelay() time.Duration {
	delay := m.opts.Interval
	for i := 1; i < m.consecutiveFailures; i++ {
		delay *= 2
		if delay >= m.opts.BackoffCeiling {
			break
		}
	}
	if limit := 6 * m.opts.Interval; delay > limit {
		delay = limit
	}
	if delay > m.opts.BackoffCeiling {
		delay = m.opts.BackoffCeiling
	}
	return delay
}

func (m *Monitor) sleepDelay() time.Duration {
	delay := m.opts.Interval
	if m.opts.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(m.opts.Jitter)))
	}
	return delay
}

func countAlerts(outcomes map[string]crosscheck.Outcome) int {
	alerts := 0
	for _, outcome := range outcomes {
		if outcome.Error == "" && !outcome.OK {
			alerts++
		}
	}
	return alerts
}

func quoteToFloat(quote *pricing.NormalizedQuote) float64 {
	if quote == nil || quote.Value == nil {
		return 0
	}
	value, _ := decimal.NewFromBigInt(quote.Value, -int32(quote.Decimals)).Float64()
	return value
}
