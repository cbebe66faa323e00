package domain

import (
	"context"
	"time"
)

// TradeLedger is the append-only record store for executions and exits. The
// entry engine only appends; the exit engine appends exit records and updates
// entry status by key. Concurrent access is mediated by the implementation's
// own consistency contract (SQL row updates for the postgres store).
type TradeLedger interface {
	AppendEntry(ctx context.Context, rec TradeRecord) error
	ListFilled(ctx context.Context) ([]TradeRecord, error)
	MarkLongExit(ctx context.Context, entryID string) error
	AppendExit(ctx context.Context, rec ExitRecord) error

	// Archival support.
	ListEntriesBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteEntriesBefore(ctx context.Context, before time.Time) (int64, error)
}

// CohortStore looks up historical cost/value statistics for one volatility
// bucket and DTE. Implementations return an error wrapping ErrCohortNotFound
// when no cohort covers the pair, and ErrNoMatchingCohort when the bucket has
// no sheets at all.
type CohortStore interface {
	Cohort(bucket VolBucket, dte int) (CohortStats, error)
	DTEs(bucket VolBucket) ([]int, error)
}

// QuoteCache stores the most recent quote snapshot per contract and the last
// observed index level, so a snapshot fetched for a chain is reused within an
// evaluation cycle.
type QuoteCache interface {
	SetQuote(ctx context.Context, q QuoteSnapshot) error
	GetQuote(ctx context.Context, contract OptionContract) (QuoteSnapshot, error)
	SetIndexLevel(ctx context.Context, underlying string, level float64, ts time.Time) error
	GetIndexLevel(ctx context.Context, underlying string) (float64, time.Time, error)
}

// LockManager provides distributed run locks so an overlapping supervisor
// restart cannot double-run an engine instance. Acquire returns ErrLockHeld
// when another process holds the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
