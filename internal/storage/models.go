package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleRecord is one persisted monitoring cycle summary.
type CycleRecord struct {
	TS            time.Time
	Updated       int
	Skipped       int
	Degraded      int
	FallbackUsed  int
	CheckerAlerts int
	CycleMs       int64
	DryRun        bool
	CommitEnabled bool
	TxHashes      []string
	CreatedAt     time.Time
}

// BreachRecord captures a cross-check deviation breach for auditing.
type BreachRecord struct {
	ID             int64
	CycleTS        time.Time
	Symbol         string
	Provider       string
	ProviderPrice  decimal.Decimal
	ReferencePrice decimal.Decimal
	DiffPct        decimal.Decimal
	ThresholdPct   decimal.Decimal
	Path           string
	CreatedAt      time.Time
}
