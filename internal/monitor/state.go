package monitor

import (
	"time"
)

// AssetState is the per-asset circuit breaker. It lives for the process
// lifetime and is mutated only by the monitor after each cycle.
type AssetState struct {
	ConsecutiveSkips int
	ForceClose       bool
	PausedUntil      time.Time
}

// Tracker owns all asset states plus the transition rules between them.
type Tracker struct {
	states        map[string]*AssetState
	skipThreshold int
	pauseCooldown time.Duration
	now           func() time.Time
}

// NewTracker builds a tracker. skipThreshold is the number of consecutive
// skips tolerated before a stale-cache read is forced; pauseCooldown is how
// long an asset sits out after a commit failure.
func NewTracker(skipThreshold int, pauseCooldown time.Duration) *Tracker {
	if skipThreshold <= 0 {
		skipThreshold = 3
	}
	if pauseCooldown <= 0 {
		pauseCooldown = time.Hour
	}
	return &Tracker{
		states:        make(map[string]*AssetState),
		skipThreshold: skipThreshold,
		pauseCooldown: pauseCooldown,
		now:           time.Now,
	}
}

func (t *Tracker) state(symbol string) *AssetState {
	s, ok := t.states[symbol]
	if !ok {
		s = &AssetState{}
		t.states[symbol] = s
	}
	return s
}

// State returns a copy of the asset's current state.
func (t *Tracker) State(symbol string) AssetState {
	return *t.state(symbol)
}

// RecordSuccess resets the breaker after a successful update.
func (t *Tracker) RecordSuccess(symbol string) {
	s := t.state(symbol)
	s.ConsecutiveSkips = 0
	s.ForceClose = false
}

// RecordSkip counts a failed cycle; past the threshold the chain is told to
// prefer a stale cached read over failing outright.
func (t *Tracker) RecordSkip(symbol string) {
	s := t.state(symbol)
	s.ConsecutiveSkips++
	if s.ConsecutiveSkips > t.skipThreshold {
		s.ForceClose = true
	}
}

// RecordCommitFailure pauses the asset for the cooldown and resets the skip
// counters: after the pause it re-enters the pool with a clean slate.
func (t *Tracker) RecordCommitFailure(symbol string) {
	s := t.state(symbol)
	s.PausedUntil = t.now().Add(t.pauseCooldown)
	s.ConsecutiveSkips = 0
	s.ForceClose = false
}

// Paused reports whether the asset is currently excluded from polling.
func (t *Tracker) Paused(symbol string) bool {
	s := t.state(symbol)
	return s.PausedUntil.After(t.now())
}

// AllowStale returns the set of assets whose chains may serve cached reads.
func (t *Tracker) AllowStale() map[string]bool {
	stale := make(map[string]bool)
	for symbol, s := range t.states {
		if s.ForceClose {
			stale[symbol] = true
		}
	}
	return stale
}

// Snapshot copies every tracked asset state, keyed by symbol.
func (t *Tracker) Snapshot() map[string]AssetState {
	states := make(map[string]AssetState, len(t.states))
	for symbol, s := range t.states {
		states[symbol] = *s
	}
	return states
}

// PausedCount counts currently paused assets.
func (t *Tracker) PausedCount() int {
	count := 0
	now := t.now()
	for _, s := range t.states {
		if s.PausedUntil.After(now) {
			count++
		}
	}
	return count
}

// EarliestResume returns the soonest pause expiry, if any asset is paused.
func (t *Tracker) EarliestResume() (time.Time, bool) {
	var earliest time.Time
	now := t.now()
	for _, s := range t.states {
		if !s.PausedUntil.After(now) {
			continue
		}
		if earliest.IsZero() || s.PausedUntil.Before(earliest) {
			earliest = s.PausedUntil
		}
	}
	return earliest, !earliest.IsZero()
}
