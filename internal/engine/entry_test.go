package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolette/spreadbot/internal/domain"
	"github.com/avolette/spreadbot/internal/selector"
)

var testExpiration = time.Date(2026, 9, 17, 0, 0, 0, 0, time.UTC)

func testCandidate() domain.SpreadCandidate {
	return domain.SpreadCandidate{
		Underlying:  "VIX",
		ShortStrike: 30,
		LongStrike:  25,
		Expiration:  testExpiration,
		DTE:         14,
		Bucket:      domain.BucketFor(25.4),
	}
}

func entryTestConfig() EntryConfig {
	return EntryConfig{
		Underlying:    "VIX",
		Multiplier:    100,
		Tick:          0.01,
		TickBuffer:    0.01,
		Quantity:      1,
		MaxAttempts:   100,
		CommissionCap: 1.50,
	}
}

// setQuotes installs two-sided markets with shortMid=21.00 and longMid=18.50.
func setQuotes(gw *fakeGateway, cand domain.SpreadCandidate) {
	gw.quotes[cand.ShortContract().Key()] = domain.QuoteSnapshot{
		Contract: cand.ShortContract(),
		Bid:      20.90,
		Ask:      21.10,
		Time:     time.Now(),
	}
	gw.quotes[cand.LongContract().Key()] = domain.QuoteSnapshot{
		Contract: cand.LongContract(),
		Bid:      18.40,
		Ask:      18.60,
		Time:     time.Now(),
	}
}

func newTestEntryEngine(t *testing.T, gw *fakeGateway, cohorts *stubCohorts, cfg EntryConfig) (*EntryEngine, *memLedger) {
	t.Helper()
	ledger := &memLedger{}
	clock := &fakeClock{now: time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC)}
	eng := NewEntryEngine(cfg, gw, cohorts, ledger, nil, nil, clock, testLogger())
	return eng, ledger
}

func TestEntryEndToEndFill(t *testing.T) {
	cand := testCandidate()
	gw := newFakeGateway()
	setQuotes(gw, cand)
	gw.fillFunc = func(o *fakeOrder) []domain.Fill {
		switch o.side {
		case domain.LegSideSell:
			return []domain.Fill{{Price: 20.95, Commission: 0.65}}
		default:
			return []domain.Fill{{Price: 18.55, Commission: 0.65}}
		}
	}
	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 40.0},
	}}
	eng, ledger := newTestEntryEngine(t, gw, cohorts, entryTestConfig())

	err := eng.Evaluate(context.Background(), 25.4, cand)
	require.NoError(t, err)

	// Submission prices are mid offset by one tick buffer.
	require.Len(t, gw.submissions, 2)
	assert.InDelta(t, 20.99, gw.submissions[0].price, 1e-9)
	assert.InDelta(t, 18.51, gw.submissions[1].price, 1e-9)
	assert.Equal(t, domain.LegSideSell, gw.submissions[0].side)
	assert.Equal(t, domain.LegSideBuy, gw.submissions[1].side)

	require.Len(t, ledger.entries, 1)
	rec := ledger.entries[0]
	assert.Equal(t, domain.StatusFilled, rec.Status)
	assert.InDelta(t, 250.0, rec.SpreadCost, 1e-9)
	assert.InDelta(t, 20.95, rec.PriceSold, 1e-9)
	assert.InDelta(t, 18.55, rec.PricePaid, 1e-9)
	assert.InDelta(t, 240.0, rec.EffectiveCost, 1e-9)
	assert.InDelta(t, 238.70, rec.TotalCost, 1e-9)
	assert.InDelta(t, 1.30, rec.TotalCommission, 1e-9)
	assert.InDelta(t, 25.4, rec.IndexLevel, 1e-9)
	assert.InDelta(t, 20.90, rec.BidSell, 1e-9)
	assert.InDelta(t, 21.10, rec.AskSell, 1e-9)
	assert.InDelta(t, 18.40, rec.BidBuy, 1e-9)
	assert.InDelta(t, 18.60, rec.AskBuy, 1e-9)
	assert.Equal(t, 14, rec.DTE)
}

func TestEntryCostGateSkips(t *testing.T) {
	cand := testCandidate()
	gw := newFakeGateway()
	setQuotes(gw, cand)
	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 260.0}, // live cost 250 is below the bound
	}}
	eng, ledger := newTestEntryEngine(t, gw, cohorts, entryTestConfig())

	err := eng.Evaluate(context.Background(), 25.4, cand)
	require.NoError(t, err)
	assert.Empty(t, gw.submissions)
	assert.Empty(t, ledger.entries)
}

func TestEntryInsufficientMarketData(t *testing.T) {
	cand := testCandidate()
	gw := newFakeGateway()
	setQuotes(gw, cand)
	// Long leg loses its bid.
	q := gw.quotes[cand.LongContract().Key()]
	q.Bid = 0
	gw.quotes[cand.LongContract().Key()] = q

	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 40.0},
	}}
	eng, ledger := newTestEntryEngine(t, gw, cohorts, entryTestConfig())

	err := eng.Evaluate(context.Background(), 25.4, cand)
	require.ErrorIs(t, err, domain.ErrInsufficientMarketData)
	assert.Empty(t, gw.submissions)
	assert.Empty(t, ledger.entries)
}

func TestEntryDuplicateSpreadGuard(t *testing.T) {
	cand := testCandidate()
	gw := newFakeGateway()
	setQuotes(gw, cand)
	gw.positions = []domain.Position{
		{Contract: cand.ShortContract(), Quantity: -1},
		{Contract: cand.LongContract(), Quantity: 1},
	}
	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 40.0},
	}}
	eng, ledger := newTestEntryEngine(t, gw, cohorts, entryTestConfig())

	err := eng.Evaluate(context.Background(), 25.4, cand)
	require.ErrorIs(t, err, domain.ErrDuplicateSpreadOpen)
	assert.Empty(t, gw.submissions)
	assert.Empty(t, ledger.entries)
}

func TestEntryPendingOrderGuard(t *testing.T) {
	cand := testCandidate()
	gw := newFakeGateway()
	setQuotes(gw, cand)
	gw.openOrders = []domain.OpenOrder{
		{Contract: cand.ShortContract(), Side: domain.LegSideSell, Handle: "stale-1", Status: "working"},
	}
	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 40.0},
	}}
	eng, ledger := newTestEntryEngine(t, gw, cohorts, entryTestConfig())

	err := eng.Evaluate(context.Background(), 25.4, cand)
	require.ErrorIs(t, err, domain.ErrPendingOrderConflict)
	assert.Empty(t, gw.submissions)
	assert.Empty(t, ledger.entries)
}

func TestEntryCommissionCapAborts(t *testing.T) {
	cand := testCandidate()
	gw := newFakeGateway()
	setQuotes(gw, cand)
	// Short leg fills with an outsized commission; long never fills.
	gw.fillFunc = func(o *fakeOrder) []domain.Fill {
		if o.side == domain.LegSideSell {
			return []domain.Fill{{Price: 20.95, Commission: 4.00}}
		}
		return nil
	}
	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 40.0},
	}}
	eng, ledger := newTestEntryEngine(t, gw, cohorts, entryTestConfig())

	err := eng.Evaluate(context.Background(), 25.4, cand)
	require.NoError(t, err)

	// The unfilled long leg must be cancelled.
	long := gw.lastOrderFor(cand.LongContract())
	require.NotNil(t, long)
	assert.True(t, long.cancelled)

	require.Len(t, ledger.entries, 1)
	rec := ledger.entries[0]
	assert.Equal(t, domain.StatusPartialCancelled, rec.Status)
	assert.InDelta(t, 20.95, rec.PriceSold, 1e-9)
	assert.Zero(t, rec.PricePaid)
	assert.Zero(t, rec.EffectiveCost)
	assert.InDelta(t, 4.00, rec.TotalCommission, 1e-9)
}

func TestEntryCostAbortWhileBothUnfilled(t *testing.T) {
	cand := testCandidate()
	gw := newFakeGateway()
	setQuotes(gw, cand)
	// No fills ever: the working net cost of 248.00 exceeds the bound.
	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 40.0},
	}}
	eng, ledger := newTestEntryEngine(t, gw, cohorts, entryTestConfig())

	err := eng.Evaluate(context.Background(), 25.4, cand)
	require.NoError(t, err)

	// Both legs cancelled within the first polling iteration.
	short := gw.lastOrderFor(cand.ShortContract())
	long := gw.lastOrderFor(cand.LongContract())
	require.NotNil(t, short)
	require.NotNil(t, long)
	assert.True(t, short.cancelled)
	assert.True(t, long.cancelled)
	assert.Equal(t, 1, short.polls)
	assert.Equal(t, 1, long.polls)

	require.Len(t, ledger.entries, 1)
	assert.Equal(t, domain.StatusPartialCancelled, ledger.entries[0].Status)
}

func TestEntryAttemptsExhausted(t *testing.T) {
	cand := testCandidate()
	gw := newFakeGateway()
	setQuotes(gw, cand)
	// Short fills immediately; long never does. The bound blocks any price
	// concession on the long leg, so the loop runs out of attempts.
	gw.fillFunc = func(o *fakeOrder) []domain.Fill {
		if o.side == domain.LegSideSell {
			return []domain.Fill{{Price: 20.95, Commission: 0.65}}
		}
		return nil
	}
	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 40.0},
	}}
	cfg := entryTestConfig()
	cfg.MaxAttempts = 3
	eng, ledger := newTestEntryEngine(t, gw, cohorts, cfg)

	err := eng.Evaluate(context.Background(), 25.4, cand)
	require.NoError(t, err)

	long := gw.lastOrderFor(cand.LongContract())
	require.NotNil(t, long)
	assert.True(t, long.cancelled)
	assert.Equal(t, 3, long.polls)
	// The long leg was never repriced: the concession would breach the bound.
	assert.InDelta(t, 18.51, long.price, 1e-9)

	require.Len(t, ledger.entries, 1)
	rec := ledger.entries[0]
	assert.Equal(t, domain.StatusPartialCancelled, rec.Status)
	assert.InDelta(t, 20.95, rec.PriceSold, 1e-9)
	assert.Zero(t, rec.PricePaid)
}

func TestEntryAttemptsExhaustedShortUnfilled(t *testing.T) {
	cand := testCandidate()
	gw := newFakeGateway()
	setQuotes(gw, cand)
	// Long fills immediately; short never does, and the bound blocks any
	// downward concession on it.
	gw.fillFunc = func(o *fakeOrder) []domain.Fill {
		if o.side == domain.LegSideBuy {
			return []domain.Fill{{Price: 18.55, Commission: 0.65}}
		}
		return nil
	}
	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 40.0},
	}}
	cfg := entryTestConfig()
	cfg.MaxAttempts = 3
	eng, ledger := newTestEntryEngine(t, gw, cohorts, cfg)

	err := eng.Evaluate(context.Background(), 25.4, cand)
	require.NoError(t, err)

	short := gw.lastOrderFor(cand.ShortContract())
	require.NotNil(t, short)
	assert.True(t, short.cancelled)
	assert.Equal(t, 3, short.polls)
	assert.InDelta(t, 20.99, short.price, 1e-9)

	// The long leg's fill survives into the record.
	require.Len(t, ledger.entries, 1)
	rec := ledger.entries[0]
	assert.Equal(t, domain.StatusPartialCancelled, rec.Status)
	assert.InDelta(t, 18.55, rec.PricePaid, 1e-9)
	assert.Zero(t, rec.PriceSold)
	assert.InDelta(t, 0.65, rec.TotalCommission, 1e-9)
}

func TestEntryRepricesWithinBound(t *testing.T) {
	cand := testCandidate()
	gw := newFakeGateway()
	setQuotes(gw, cand)
	// A generous bound permits one-tick concessions on both legs each
	// iteration. No fills ever arrive.
	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 300.0},
	}}
	cfg := entryTestConfig()
	cfg.MaxAttempts = 2
	eng, ledger := newTestEntryEngine(t, gw, cohorts, cfg)

	err := eng.Evaluate(context.Background(), 25.4, cand)
	require.NoError(t, err)

	// Two iterations of one-tick improvement from 20.99/18.51.
	short := gw.lastOrderFor(cand.ShortContract())
	long := gw.lastOrderFor(cand.LongContract())
	require.NotNil(t, short)
	require.NotNil(t, long)
	assert.InDelta(t, 20.97, short.price, 1e-9)
	assert.InDelta(t, 18.53, long.price, 1e-9)
	assert.True(t, short.cancelled)
	assert.True(t, long.cancelled)

	require.Len(t, ledger.entries, 1)
	assert.Equal(t, domain.StatusPartialCancelled, ledger.entries[0].Status)
}

func TestEntryRunCycleSkipsCandidateErrors(t *testing.T) {
	gw := newFakeGateway()
	good := testCandidate()
	setQuotes(gw, good)
	gw.fillFunc = func(o *fakeOrder) []domain.Fill {
		if o.side == domain.LegSideSell {
			return []domain.Fill{{Price: 20.95, Commission: 0.65}}
		}
		return []domain.Fill{{Price: 18.55, Commission: 0.65}}
	}

	// First candidate has no cohort sheet and must be skipped, not fatal.
	orphan := testCandidate()
	orphan.DTE = 21
	orphan.Expiration = testExpiration.AddDate(0, 0, 7)

	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 40.0},
	}}
	eng, ledger := newTestEntryEngine(t, gw, cohorts, entryTestConfig())

	sel := selector.Selection{
		IndexLevel: 25.4,
		Bucket:     domain.BucketFor(25.4),
		Candidates: []domain.SpreadCandidate{orphan, good},
	}
	err := eng.RunCycle(context.Background(), sel)
	require.NoError(t, err)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, domain.StatusFilled, ledger.entries[0].Status)
}

func TestEntryRunCycleAbortsOnGatewayLoss(t *testing.T) {
	gw := newFakeGateway()
	cand := testCandidate()
	gw.quoteErr = fmt.Errorf("dial tcp: %w", domain.ErrGatewayUnavailable)

	cohorts := &stubCohorts{stats: map[string]domain.CohortStats{
		"25:14": {Strike: 30, Q3Cost: 40.0},
	}}
	eng, ledger := newTestEntryEngine(t, gw, cohorts, entryTestConfig())

	sel := selector.Selection{
		IndexLevel: 25.4,
		Bucket:     domain.BucketFor(25.4),
		Candidates: []domain.SpreadCandidate{cand},
	}
	err := eng.RunCycle(context.Background(), sel)
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Empty(t, ledger.entries)
}
