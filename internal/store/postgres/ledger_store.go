package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avolette/spreadbot/internal/domain"
)

// LedgerStore implements domain.TradeLedger using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

var _ domain.TradeLedger = (*LedgerStore)(nil)

const entrySelectCols = `id, created_at, underlying, expiration, short_strike, long_strike,
	dte, spread_cost, commission_sell, commission_buy, total_commission, status,
	index_level, qty_sell, qty_buy, bid_sell, ask_sell, bid_buy, ask_buy,
	price_sold, price_paid, effective_cost, total_cost`

func scanEntryRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		if err := rows.Scan(
			&r.ID, &r.CreatedAt, &r.Underlying, &r.Expiration,
			&r.ShortStrike, &r.LongStrike, &r.DTE, &r.SpreadCost,
			&r.CommissionSell, &r.CommissionBuy, &r.TotalCommission, &r.Status,
			&r.IndexLevel, &r.QtySell, &r.QtyBuy,
			&r.BidSell, &r.AskSell, &r.BidBuy, &r.AskBuy,
			&r.PriceSold, &r.PricePaid, &r.EffectiveCost, &r.TotalCost,
		); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// AppendEntry inserts one trade record. Records are append-only; re-inserting
// an existing ID is an error.
func (s *LedgerStore) AppendEntry(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (
			id, created_at, underlying, expiration, short_strike, long_strike,
			dte, spread_cost, commission_sell, commission_buy, total_commission,
			status, index_level, qty_sell, qty_buy,
			bid_sell, ask_sell, bid_buy, ask_buy,
			price_sold, price_paid, effective_cost, total_cost
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22, $23
		)`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.CreatedAt, rec.Underlying, rec.Expiration,
		rec.ShortStrike, rec.LongStrike, rec.DTE, rec.SpreadCost,
		rec.CommissionSell, rec.CommissionBuy, rec.TotalCommission, rec.Status,
		rec.IndexLevel, rec.QtySell, rec.QtyBuy,
		rec.BidSell, rec.AskSell, rec.BidBuy, rec.AskBuy,
		rec.PriceSold, rec.PricePaid, rec.EffectiveCost, rec.TotalCost,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade record: %w", err)
	}
	return nil
}

// ListFilled returns entries still eligible for exit, oldest first: status is
// Filled and the long leg has not yet been sold.
func (s *LedgerStore) ListFilled(ctx context.Context) ([]domain.TradeRecord, error) {
	query := `SELECT ` + entrySelectCols + ` FROM trade_records
		WHERE status = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, domain.StatusFilled)
	if err != nil {
		return nil, fmt.Errorf("postgres: list filled entries: %w", err)
	}
	defer rows.Close()

	recs, err := scanEntryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan filled entries: %w", err)
	}
	return recs, nil
}

// MarkLongExit flips the entry's status so the exit engine never unwinds the
// same spread twice.
func (s *LedgerStore) MarkLongExit(ctx context.Context, entryID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trade_records SET status = $1 WHERE id = $2`,
		domain.StatusLongExitDone, entryID,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark long exit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark long exit %s: %w", entryID, domain.ErrNotFound)
	}
	return nil
}

// AppendExit inserts one exit record.
func (s *LedgerStore) AppendExit(ctx context.Context, rec domain.ExitRecord) error {
	const query = `
		INSERT INTO exit_records (
			id, created_at, entry_id, underlying, expiration,
			short_strike, long_strike, dte,
			exit_price, value_threshold, expected_return, commission
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12
		)`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.CreatedAt, rec.EntryID, rec.Underlying, rec.Expiration,
		rec.ShortStrike, rec.LongStrike, rec.DTE,
		rec.ExitPrice, rec.ValueThreshold, rec.ExpectedReturn, rec.Commission,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert exit record: %w", err)
	}
	return nil
}

// ListEntriesBefore returns all entries created strictly before the given
// time (for archiving).
func (s *LedgerStore) ListEntriesBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + entrySelectCols + ` FROM trade_records
		WHERE created_at < $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries before: %w", err)
	}
	defer rows.Close()
	return scanEntryRows(rows)
}

// DeleteEntriesBefore deletes entries created before the given time, along
// with their exit records. Returns the number of entries deleted.
func (s *LedgerStore) DeleteEntriesBefore(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin delete entries: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM exit_records WHERE entry_id IN
			(SELECT id FROM trade_records WHERE created_at < $1)`, before,
	); err != nil {
		return 0, fmt.Errorf("postgres: delete exit records before: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM trade_records WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete entries before: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit delete entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetEntry fetches a single entry by ID.
func (s *LedgerStore) GetEntry(ctx context.Context, id string) (domain.TradeRecord, error) {
	query := `SELECT ` + entrySelectCols + ` FROM trade_records WHERE id = $1`
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: get entry: %w", err)
	}
	defer rows.Close()

	recs, err := scanEntryRows(rows)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: scan entry: %w", err)
	}
	if len(recs) == 0 {
		return domain.TradeRecord{}, fmt.Errorf("postgres: entry %s: %w", id, domain.ErrNotFound)
	}
	return recs[0], nil
}
