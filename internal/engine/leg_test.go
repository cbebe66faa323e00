package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolette/spreadbot/internal/domain"
)

func newTestRepricer(gw *fakeGateway) *legRepricer {
	return &legRepricer{
		gw:     gw,
		clock:  &fakeClock{now: time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC)},
		tick:   0.01,
		logger: testLogger(),
	}
}

func workingLeg(t *testing.T, gw *fakeGateway, side domain.LegSide, price float64) *domain.LegOrder {
	t.Helper()
	contract := domain.NewPut("VIX", testExpiration, 25)
	handle, err := gw.SubmitOrder(context.Background(), contract, side, 1, price)
	require.NoError(t, err)
	return &domain.LegOrder{
		Side:       side,
		Contract:   contract,
		Quantity:   1,
		Handle:     handle,
		LimitPrice: price,
		State:      domain.LegStateWorking,
	}
}

func TestProposeDirectionPerSide(t *testing.T) {
	r := newTestRepricer(newFakeGateway())

	sell := &domain.LegOrder{Side: domain.LegSideSell, LimitPrice: 20.99}
	p, ok := r.propose(sell)
	require.True(t, ok)
	assert.InDelta(t, 20.98, p, 1e-9)

	buy := &domain.LegOrder{Side: domain.LegSideBuy, LimitPrice: 18.51}
	p, ok = r.propose(buy)
	require.True(t, ok)
	assert.InDelta(t, 18.52, p, 1e-9)
}

func TestProposeSellFloorsAtTick(t *testing.T) {
	r := newTestRepricer(newFakeGateway())
	sell := &domain.LegOrder{Side: domain.LegSideSell, LimitPrice: 0.01}
	_, ok := r.propose(sell)
	assert.False(t, ok)

	sell.LimitPrice = 0.02
	p, ok := r.propose(sell)
	require.True(t, ok)
	assert.InDelta(t, 0.01, p, 1e-9)
}

func TestRoundTick(t *testing.T) {
	assert.InDelta(t, 20.99, roundTick(20.99000000000012, 0.01), 1e-9)
	assert.InDelta(t, 18.50, roundTick(18.504999, 0.01), 1e-9)
	assert.InDelta(t, 18.51, roundTick(18.505001, 0.01), 1e-9)
	assert.InDelta(t, 0.0, roundTick(0.004, 0.01), 1e-9)
}

func TestImproveCancelsAndResubmits(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRepricer(gw)
	leg := workingLeg(t, gw, domain.LegSideSell, 20.99)
	oldHandle := leg.Handle

	require.NoError(t, r.improve(context.Background(), leg, 20.98))

	assert.Contains(t, gw.cancels, oldHandle)
	assert.NotEqual(t, oldHandle, leg.Handle)
	assert.InDelta(t, 20.98, leg.LimitPrice, 1e-9)
	assert.Equal(t, domain.LegStateWorking, leg.State)
	require.Len(t, gw.submissions, 2)
	assert.InDelta(t, 20.98, gw.submissions[1].price, 1e-9)
}

func TestImproveAbsorbsRaceFill(t *testing.T) {
	gw := newFakeGateway()
	gw.fillFunc = func(o *fakeOrder) []domain.Fill {
		if o.cancelled {
			return []domain.Fill{{Price: 20.99, Commission: 0.65}}
		}
		return nil
	}
	r := newTestRepricer(gw)
	leg := workingLeg(t, gw, domain.LegSideSell, 20.99)

	require.NoError(t, r.improve(context.Background(), leg, 20.98))

	assert.Equal(t, domain.LegStateFilled, leg.State)
	assert.InDelta(t, 20.99, leg.FillPrice, 1e-9)
	assert.InDelta(t, 0.65, leg.Commission, 1e-9)
	// The fill pre-empted the replacement order.
	assert.Len(t, gw.submissions, 1)
}

func TestImproveIgnoresNonWorkingLeg(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRepricer(gw)
	leg := &domain.LegOrder{Side: domain.LegSideSell, State: domain.LegStateFilled, LimitPrice: 20.99}

	require.NoError(t, r.improve(context.Background(), leg, 20.98))
	assert.Empty(t, gw.cancels)
	assert.Empty(t, gw.submissions)
}

func TestRefreshAveragesPartialFills(t *testing.T) {
	gw := newFakeGateway()
	// Two contracts at 20.95 and one at 20.98: the weighted average is
	// 20.96, not the 20.965 midpoint of the two prints.
	gw.fillFunc = func(o *fakeOrder) []domain.Fill {
		return []domain.Fill{
			{Price: 20.95, Quantity: 2, Commission: 0.35},
			{Price: 20.98, Quantity: 1, Commission: 0.30},
		}
	}
	r := newTestRepricer(gw)
	leg := workingLeg(t, gw, domain.LegSideSell, 20.99)

	require.NoError(t, r.refresh(context.Background(), leg))

	assert.Equal(t, domain.LegStateFilled, leg.State)
	assert.InDelta(t, 20.96, leg.FillPrice, 1e-9)
	assert.InDelta(t, 0.65, leg.Commission, 1e-9)
}

func TestRefreshDefaultsMissingFillQuantity(t *testing.T) {
	gw := newFakeGateway()
	gw.fillFunc = func(o *fakeOrder) []domain.Fill {
		return []domain.Fill{
			{Price: 20.95, Commission: 0.35},
			{Price: 20.97, Commission: 0.30},
		}
	}
	r := newTestRepricer(gw)
	leg := workingLeg(t, gw, domain.LegSideSell, 20.99)

	require.NoError(t, r.refresh(context.Background(), leg))

	assert.Equal(t, domain.LegStateFilled, leg.State)
	assert.InDelta(t, 20.96, leg.FillPrice, 1e-9)
}

func TestCancelIfWorking(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRepricer(gw)
	leg := workingLeg(t, gw, domain.LegSideBuy, 18.51)

	require.NoError(t, r.cancelIfWorking(context.Background(), leg))
	assert.Equal(t, domain.LegStateCancelled, leg.State)
	assert.Contains(t, gw.cancels, leg.Handle)

	// A second sweep over the cancelled leg is a no-op.
	cancels := len(gw.cancels)
	require.NoError(t, r.cancelIfWorking(context.Background(), leg))
	assert.Len(t, gw.cancels, cancels)
}
