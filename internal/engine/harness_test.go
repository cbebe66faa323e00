package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avolette/spreadbot/internal/domain"
)

// fakeClock returns a fixed time and never sleeps, so repricing loops run
// instantly. onWait fires on every WaitForUpdate, letting a test mutate the
// fake gateway between polling iterations.
type fakeClock struct {
	now    time.Time
	onWait func()
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func (c *fakeClock) WaitForUpdate(ctx context.Context, timeout time.Duration) error {
	if c.onWait != nil {
		c.onWait()
	}
	return ctx.Err()
}

// fakeOrder is one order the fake gateway has accepted.
type fakeOrder struct {
	handle    string
	contract  domain.OptionContract
	side      domain.LegSide
	qty       int
	price     float64
	cancelled bool
	polls     int // Fills calls observed for this order
}

// fakeGateway is a scripted in-memory venue. fillFunc decides, per order and
// poll count, which fills the venue reports.
type fakeGateway struct {
	mu sync.Mutex

	indexLevel float64
	chain      []domain.ChainExpiration
	quotes     map[string]domain.QuoteSnapshot
	positions  []domain.Position
	openOrders []domain.OpenOrder

	handleSeq   int
	orders      map[string]*fakeOrder
	submissions []*fakeOrder
	cancels     []string

	fillFunc func(o *fakeOrder) []domain.Fill

	indexErr  error
	quoteErr  error
	submitErr error
	fillsErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		quotes: make(map[string]domain.QuoteSnapshot),
		orders: make(map[string]*fakeOrder),
	}
}

func (g *fakeGateway) Connect(ctx context.Context) error { return nil }

func (g *fakeGateway) IndexPrice(ctx context.Context, underlying string) (float64, error) {
	if g.indexErr != nil {
		return 0, g.indexErr
	}
	return g.indexLevel, nil
}

func (g *fakeGateway) OptionChain(ctx context.Context, underlying string) ([]domain.ChainExpiration, error) {
	return g.chain, nil
}

func (g *fakeGateway) QuoteSnapshot(ctx context.Context, contract domain.OptionContract) (domain.QuoteSnapshot, error) {
	if g.quoteErr != nil {
		return domain.QuoteSnapshot{}, g.quoteErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.quotes[contract.Key()]
	if !ok {
		return domain.QuoteSnapshot{Contract: contract}, nil
	}
	return q, nil
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, contract domain.OptionContract, side domain.LegSide, qty int, limitPrice float64) (string, error) {
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handleSeq++
	o := &fakeOrder{
		handle:   fmt.Sprintf("ord-%d", g.handleSeq),
		contract: contract,
		side:     side,
		qty:      qty,
		price:    limitPrice,
	}
	g.orders[o.handle] = o
	g.submissions = append(g.submissions, o)
	return o.handle, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, handle string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, handle)
	if o, ok := g.orders[handle]; ok {
		o.cancelled = true
	}
	return nil
}

func (g *fakeGateway) Fills(ctx context.Context, handle string) ([]domain.Fill, error) {
	if g.fillsErr != nil {
		return nil, g.fillsErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[handle]
	if !ok {
		return nil, nil
	}
	o.polls++
	if g.fillFunc == nil {
		return nil, nil
	}
	return g.fillFunc(o), nil
}

func (g *fakeGateway) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	return g.openOrders, nil
}

func (g *fakeGateway) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	return g.positions, nil
}

// lastOrderFor returns the most recently submitted order for a contract.
func (g *fakeGateway) lastOrderFor(contract domain.OptionContract) *fakeOrder {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.submissions) - 1; i >= 0; i-- {
		if g.submissions[i].contract.Equal(contract) {
			return g.submissions[i]
		}
	}
	return nil
}

// stubCohorts implements domain.CohortStore from a literal map.
type stubCohorts struct {
	stats map[string]domain.CohortStats // "floor:dte"
}

func cohortKey(bucket domain.VolBucket, dte int) string {
	return fmt.Sprintf("%d:%d", bucket.Floor, dte)
}

func (s *stubCohorts) Cohort(bucket domain.VolBucket, dte int) (domain.CohortStats, error) {
	st, ok := s.stats[cohortKey(bucket, dte)]
	if !ok {
		return domain.CohortStats{}, fmt.Errorf("cohort %s dte %d: %w", bucket, dte, domain.ErrCohortNotFound)
	}
	return st, nil
}

func (s *stubCohorts) DTEs(bucket domain.VolBucket) ([]int, error) {
	var dtes []int
	for k := range s.stats {
		var floor, dte int
		if _, err := fmt.Sscanf(k, "%d:%d", &floor, &dte); err == nil && floor == bucket.Floor {
			dtes = append(dtes, dte)
		}
	}
	if len(dtes) == 0 {
		return nil, fmt.Errorf("bucket %s: %w", bucket, domain.ErrNoMatchingCohort)
	}
	return dtes, nil
}

// memLedger is an in-memory domain.TradeLedger.
type memLedger struct {
	mu      sync.Mutex
	entries []domain.TradeRecord
	exits   []domain.ExitRecord
}

func (l *memLedger) AppendEntry(ctx context.Context, rec domain.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, rec)
	return nil
}

func (l *memLedger) ListFilled(ctx context.Context) ([]domain.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.TradeRecord
	for _, r := range l.entries {
		if r.Status == domain.StatusFilled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *memLedger) MarkLongExit(ctx context.Context, entryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == entryID {
			l.entries[i].Status = domain.StatusLongExitDone
			return nil
		}
	}
	return domain.ErrNotFound
}

func (l *memLedger) AppendExit(ctx context.Context, rec domain.ExitRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exits = append(l.exits, rec)
	return nil
}

func (l *memLedger) ListEntriesBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.TradeRecord
	for _, r := range l.entries {
		if r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *memLedger) DeleteEntriesBefore(ctx context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	var deleted int64
	for _, r := range l.entries {
		if r.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	l.entries = kept
	return deleted, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
