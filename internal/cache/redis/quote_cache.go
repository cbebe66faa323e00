package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avolette/spreadbot/internal/domain"
)

// quoteTTL bounds staleness: a snapshot older than this must be re-fetched
// from the gateway, not served from cache.
const quoteTTL = 15 * time.Second

// QuoteCache implements domain.QuoteCache using Redis hashes. Each contract's
// snapshot is stored at key "quote:{contractKey}" with a short TTL; the index
// level lives at "index:{underlying}".
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(contract domain.OptionContract) string {
	return "quote:" + contract.Key()
}

func indexKey(underlying string) string {
	return "index:" + underlying
}

// SetQuote stores the latest snapshot for a contract.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.QuoteSnapshot) error {
	key := quoteKey(q.Contract)
	fields := map[string]interface{}{
		"bid":   strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask":   strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"delta": strconv.FormatFloat(q.Greeks.Delta, 'f', -1, 64),
		"gamma": strconv.FormatFloat(q.Greeks.Gamma, 'f', -1, 64),
		"vega":  strconv.FormatFloat(q.Greeks.Vega, 'f', -1, 64),
		"theta": strconv.FormatFloat(q.Greeks.Theta, 'f', -1, 64),
		"ts":    strconv.FormatInt(q.Time.UnixNano(), 10),
	}
	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Contract.Key(), err)
	}
	return nil
}

// GetQuote retrieves the latest snapshot for a contract. It returns
// domain.ErrNotFound when no fresh snapshot exists.
func (qc *QuoteCache) GetQuote(ctx context.Context, contract domain.OptionContract) (domain.QuoteSnapshot, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(contract)).Result()
	if err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("redis: get quote %s: %w", contract.Key(), err)
	}
	if len(vals) == 0 {
		return domain.QuoteSnapshot{}, domain.ErrNotFound
	}

	q := domain.QuoteSnapshot{Contract: contract}
	if q.Bid, err = parseField(vals, "bid"); err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("redis: quote %s: %w", contract.Key(), err)
	}
	if q.Ask, err = parseField(vals, "ask"); err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("redis: quote %s: %w", contract.Key(), err)
	}
	q.Greeks.Delta, _ = parseField(vals, "delta")
	q.Greeks.Gamma, _ = parseField(vals, "gamma")
	q.Greeks.Vega, _ = parseField(vals, "vega")
	q.Greeks.Theta, _ = parseField(vals, "theta")

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.QuoteSnapshot{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("redis: parse quote ts %s: %w", contract.Key(), err)
	}
	q.Time = time.Unix(0, tsNano)
	return q, nil
}

// SetIndexLevel stores the last observed index level for an underlying.
func (qc *QuoteCache) SetIndexLevel(ctx context.Context, underlying string, level float64, ts time.Time) error {
	fields := map[string]interface{}{
		"level": strconv.FormatFloat(level, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, indexKey(underlying), fields).Err(); err != nil {
		return fmt.Errorf("redis: set index level %s: %w", underlying, err)
	}
	return nil
}

// GetIndexLevel retrieves the last observed index level for an underlying.
// It returns domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetIndexLevel(ctx context.Context, underlying string) (float64, time.Time, error) {
	vals, err := qc.rdb.HGetAll(ctx, indexKey(underlying)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get index level %s: %w", underlying, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	level, err := parseField(vals, "level")
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: index level %s: %w", underlying, err)
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse index ts %s: %w", underlying, err)
	}
	return level, time.Unix(0, tsNano), nil
}

func parseField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse field %s: %w", field, err)
	}
	return f, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
