package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/avolette/spreadbot/internal/domain"
	"github.com/avolette/spreadbot/internal/gateway"
)

// legRepricer is the single bounded price-improvement step shared by the
// entry engine (both legs) and the exit engine (one leg). A SELL leg improves
// downward, floored at one tick; a BUY leg improves upward. The caller
// supplies the economic guard that decides whether a proposed price is still
// admissible.
type legRepricer struct {
	gw         gateway.Gateway
	clock      Clock
	tick       float64
	cancelWait time.Duration
	waitUpdate time.Duration
	logger     *slog.Logger
}

// propose returns the one-tick improved price for the leg, or false when the
// leg cannot be improved further (SELL already at the minimum tick).
func (r *legRepricer) propose(leg *domain.LegOrder) (float64, bool) {
	switch leg.Side {
	case domain.LegSideSell:
		if leg.LimitPrice <= r.tick {
			return 0, false
		}
		return roundTick(leg.LimitPrice-r.tick, r.tick), true
	default:
		return roundTick(leg.LimitPrice+r.tick, r.tick), true
	}
}

// improve moves a working leg to newPrice: cancel, wait out the
// cancellation/fill race, and resubmit only if the leg is confirmed still
// unfilled. A fill that lands during the wait is absorbed and no new order is
// placed, so at most one order per leg is ever working.
func (r *legRepricer) improve(ctx context.Context, leg *domain.LegOrder, newPrice float64) error {
	if !leg.Working() {
		return nil
	}

	if err := r.gw.CancelOrder(ctx, leg.Handle); err != nil {
		return fmt.Errorf("cancel %s leg: %w", leg.Side, err)
	}
	if err := r.clock.Sleep(ctx, r.cancelWait); err != nil {
		return err
	}
	if err := r.clock.WaitForUpdate(ctx, r.waitUpdate); err != nil {
		return err
	}

	fills, err := r.gw.Fills(ctx, leg.Handle)
	if err != nil {
		return fmt.Errorf("fills %s leg: %w", leg.Side, err)
	}
	if len(fills) > 0 {
		applyFills(leg, fills)
		r.logger.Info("leg filled during reprice, no new order placed",
			slog.String("side", string(leg.Side)),
			slog.String("contract", leg.Contract.Key()),
			slog.Float64("fill_price", leg.FillPrice),
		)
		return nil
	}

	leg.State = domain.LegStateCancelled

	handle, err := r.gw.SubmitOrder(ctx, leg.Contract, leg.Side, leg.Quantity, newPrice)
	if err != nil {
		return fmt.Errorf("resubmit %s leg: %w", leg.Side, err)
	}
	leg.Handle = handle
	leg.LimitPrice = newPrice
	leg.State = domain.LegStateWorking

	r.logger.Info("leg repriced",
		slog.String("side", string(leg.Side)),
		slog.String("contract", leg.Contract.Key()),
		slog.Float64("limit_price", newPrice),
	)
	return nil
}

// refresh queries the venue for fills on a working leg and folds them into
// the leg state.
func (r *legRepricer) refresh(ctx context.Context, leg *domain.LegOrder) error {
	if !leg.Working() {
		return nil
	}
	fills, err := r.gw.Fills(ctx, leg.Handle)
	if err != nil {
		return fmt.Errorf("fills %s leg: %w", leg.Side, err)
	}
	if len(fills) > 0 {
		applyFills(leg, fills)
	}
	return nil
}

// cancelIfWorking issues a cancel for a leg that still has a resting order.
func (r *legRepricer) cancelIfWorking(ctx context.Context, leg *domain.LegOrder) error {
	if !leg.Working() {
		return nil
	}
	if err := r.gw.CancelOrder(ctx, leg.Handle); err != nil {
		return fmt.Errorf("cancel %s leg: %w", leg.Side, err)
	}
	leg.State = domain.LegStateCancelled
	return nil
}

// applyFills marks the leg filled with its quantity-weighted average price
// and total commission. A fill reported without a quantity counts as one
// contract.
func applyFills(leg *domain.LegOrder, fills []domain.Fill) {
	var notional, commission float64
	var quantity int
	for _, f := range fills {
		q := f.Quantity
		if q <= 0 {
			q = 1
		}
		notional += f.Price * float64(q)
		quantity += q
		commission += f.Commission
	}
	leg.FillPrice = notional / float64(quantity)
	leg.Commission = commission
	leg.State = domain.LegStateFilled
}

// roundTick snaps a price to the instrument's minimum increment.
func roundTick(p, tick float64) float64 {
	return math.Round(p/tick) * tick
}
