package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertCycleSQL = `INSERT INTO cycles (
        cycle_ts,
        updated,
        skipped,
        degraded,
        fallback_used,
        checker_alerts,
        cycle_ms,
        dry_run,
        commit_enabled,
        tx_hashes
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (cycle_ts) DO UPDATE
    SET
        updated        = EXCLUDED.updated,
        skipped        = EXCLUDED.skipped,
        degraded       = EXCLUDED.degraded,
        fallback_used  = EXCLUDED.fallback_used,
        checker_alerts = EXCLUDED.checker_alerts,
        cycle_ms       = EXCLUDED.cycle_ms,
        dry_run        = EXCLUDED.dry_run,
        commit_enabled = EXCLUDED.commit_enabled,
        tx_hashes      = EXCLUDED.tx_hashes;`

	listRecentCyclesSQL = `SELECT
        cycle_ts,
        updated,
        skipped,
        degraded,
        fallback_used,
        checker_alerts,
        cycle_ms,
        dry_run,
        commit_enabled,
        tx_hashes,
        created_at
    FROM cycles
    ORDER BY cycle_ts DESC
    LIMIT $1;`

	countCyclesSQL = `SELECT COUNT(*) FROM cycles;`

	insertBreachSQL = `INSERT INTO breaches (
        cycle_ts,
        symbol,
        provider,
        provider_price,
        reference_price,
        diff_pct,
        threshold_pct,
        path
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listBreachesBetweenSQL = `SELECT
        id,
        cycle_ts,
        symbol,
        provider,
        provider_price,
        reference_price,
        diff_pct,
        threshold_pct,
        path,
        created_at
    FROM breaches
    WHERE cycle_ts >= $1
      AND cycle_ts < $2
    ORDER BY cycle_ts;`

	listRecentBreachesSQL = `SELECT
        id,
        cycle_ts,
        symbol,
        provider,
        provider_price,
        reference_price,
        diff_pct,
        threshold_pct,
        path,
        created_at
    FROM breaches
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteBreachesBeforeSQL = `DELETE FROM breaches WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CycleStore defines operations for cycle persistence.
type CycleStore interface {
	UpsertCycle(ctx context.Context, rec CycleRecord) error
	ListRecentCycles(ctx context.Context, limit int) ([]CycleRecord, error)
	CountCycles(ctx context.Context) (int64, error)
}

// BreachStore defines operations for breach auditing.
type BreachStore interface {
	InsertBreaches(ctx context.Context, breaches []BreachRecord) error
	ListBreachesBetween(ctx context.Context, from, to time.Time) ([]BreachRecord, error)
	ListRecentBreaches(ctx context.Context, limit int) ([]BreachRecord, error)
	DeleteBreachesBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to cycles and breaches.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertCycle persists or updates one cycle summary.
func (s *Store) UpsertCycle(ctx context.Context, rec CycleRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertCycleSQL,
		rec.TS,
		rec.Updated,
		rec.Skipped,
		rec.Degraded,
		rec.FallbackUsed,
		rec.CheckerAlerts,
		rec.CycleMs,
		rec.DryRun,
		rec.CommitEnabled,
		rec.TxHashes,
	)
	if execErr != nil {
		return fmt.Errorf("upsert cycle: %w", execErr)
	}
	return nil
}

// ListRecentCycles lists the most recent cycles, newest first.
func (s *Store) ListRecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentCyclesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent cycles: %w", queryErr)
	}
	defer rows.Close()

	cycles := make([]CycleRecord, 0, limit)
	for rows.Next() {
		var rec CycleRecord
		if err := rows.Scan(
			&rec.TS,
			&rec.Updated,
			&rec.Skipped,
			&rec.Degraded,
			&rec.FallbackUsed,
			&rec.CheckerAlerts,
			&rec.CycleMs,
			&rec.DryRun,
			&rec.CommitEnabled,
			&rec.TxHashes,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		cycles = append(cycles, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return cycles, nil
}

// CountCycles counts stored cycles.
func (s *Store) CountCycles(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countCyclesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count cycles: %w", scanErr)
	}
	return count, nil
}

// InsertBreaches persists the cycle's deviation breaches.
func (s *Store) InsertBreaches(ctx context.Context, breaches []BreachRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, breach := range breaches {
		_, execErr := pool.Exec(ctx, insertBreachSQL,
			breach.CycleTS,
			breach.Symbol,
			breach.Provider,
			breach.ProviderPrice.String(),
			breach.ReferencePrice.String(),
			breach.DiffPct.String(),
			breach.ThresholdPct.String(),
			breach.Path,
		)
		if execErr != nil {
			return fmt.Errorf("insert breach %s: %w", breach.Symbol, execErr)
		}
	}
	return nil
}

// ListBreachesBetween lists breaches within a time window, oldest first.
func (s *Store) ListBreachesBetween(ctx context.Context, from, to time.Time) ([]BreachRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBreachesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list breaches between: %w", queryErr)
	}
	defer rows.Close()
	return scanBreaches(rows)
}

// ListRecentBreaches lists the most recent breaches.
func (s *Store) ListRecentBreaches(ctx context.Context, limit int) ([]BreachRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentBreachesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent breaches: %w", queryErr)
	}
	defer rows.Close()
	return scanBreaches(rows)
}

// DeleteBreachesBefore deletes historical breaches.
func (s *Store) DeleteBreachesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteBreachesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete breaches before: %w", execErr)
	}
	return nil
}

func scanBreaches(rows pgx.Rows) ([]BreachRecord, error) {
	breaches := make([]BreachRecord, 0)
	for rows.Next() {
		var (
			rec              BreachRecord
			providerPriceStr string
			referenceStr     string
			diffStr          string
			thresholdStr     string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.CycleTS,
			&rec.Symbol,
			&rec.Provider,
			&providerPriceStr,
			&referenceStr,
			&diffStr,
			&thresholdStr,
			&rec.Path,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.ProviderPrice, convErr = decimal.NewFromString(providerPriceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse provider price: %w", convErr)
		}
		rec.ReferencePrice, convErr = decimal.NewFromString(referenceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse reference price: %w", convErr)
		}
		rec.DiffPct, convErr = decimal.NewFromString(diffStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse diff pct: %w", convErr)
		}
		rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold pct: %w", convErr)
		}

		breaches = append(breaches, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return breaches, nil
}
