// Package engine implements the spread order lifecycle: the entry engine
// that takes a candidate from admission through the two-leg repricing loop to
// a recorded outcome, and the exit engine that unwinds the long leg of a
// filled spread once its value supports the cohort threshold.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/avolette/spreadbot/internal/domain"
	"github.com/avolette/spreadbot/internal/gateway"
	"github.com/avolette/spreadbot/internal/notify"
	"github.com/avolette/spreadbot/internal/selector"
)

// EntryConfig holds the entry engine parameters. CostBound and the
// commission cap are fixed per execution at creation time.
type EntryConfig struct {
	Underlying    string
	Multiplier    float64 // dollars per point, 100 for index options
	Tick          float64 // minimum price increment
	TickBuffer    float64 // submission offset improving fill probability
	Quantity      int     // contracts per leg
	MaxAttempts   int
	PollInterval  time.Duration
	UpdateWait    time.Duration
	CancelWait    time.Duration // settle time for the cancel/fill race
	CommissionCap float64       // per contract
}

// EntryEngine runs the spread order lifecycle for each candidate of a cycle.
// It is single-threaded internally; concurrency across engine instances is
// handled by the caller.
type EntryEngine struct {
	cfg      EntryConfig
	gw       gateway.Gateway
	cohorts  domain.CohortStore
	ledger   domain.TradeLedger
	quotes   quoteReader
	repricer *legRepricer
	notifier *notify.Notifier
	clock    Clock
	logger   *slog.Logger
}

// NewEntryEngine creates an entry engine. cache may be nil, in which case
// every quote goes straight to the gateway.
func NewEntryEngine(
	cfg EntryConfig,
	gw gateway.Gateway,
	cohorts domain.CohortStore,
	ledger domain.TradeLedger,
	cache domain.QuoteCache,
	notifier *notify.Notifier,
	clock Clock,
	logger *slog.Logger,
) *EntryEngine {
	logger = logger.With(slog.String("component", "entry_engine"))
	return &EntryEngine{
		cfg:     cfg,
		gw:      gw,
		cohorts: cohorts,
		ledger:  ledger,
		quotes:  quoteReader{gw: gw, cache: cache},
		repricer: &legRepricer{
			gw:         gw,
			clock:      clock,
			tick:       cfg.Tick,
			cancelWait: cfg.CancelWait,
			waitUpdate: cfg.UpdateWait,
			logger:     logger,
		},
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// RunCycle evaluates every candidate in the selection. Candidate-level
// failures are logged and skipped; only gateway connectivity loss aborts the
// cycle.
func (e *EntryEngine) RunCycle(ctx context.Context, sel selector.Selection) error {
	for _, cand := range sel.Candidates {
		if err := e.Evaluate(ctx, sel.IndexLevel, cand); err != nil {
			if errors.Is(err, domain.ErrGatewayUnavailable) {
				return err
			}
			if isCandidateError(err) {
				e.logger.Warn("candidate skipped",
					slog.String("expiration", cand.Expiration.Format("2006-01-02")),
					slog.Int("dte", cand.DTE),
					slog.String("reason", err.Error()),
				)
				continue
			}
			return err
		}
	}
	return nil
}

// isCandidateError reports whether an error is locally recoverable: log and
// move to the next candidate, never abort the process.
func isCandidateError(err error) bool {
	return errors.Is(err, domain.ErrNoMatchingCohort) ||
		errors.Is(err, domain.ErrInsufficientMarketData) ||
		errors.Is(err, domain.ErrDuplicateSpreadOpen) ||
		errors.Is(err, domain.ErrPendingOrderConflict) ||
		errors.Is(err, domain.ErrCohortNotFound)
}

// Evaluate runs one candidate through the full lifecycle: quote acquisition,
// cost gate, duplicate guard, submission, repricing loop, and recording.
func (e *EntryEngine) Evaluate(ctx context.Context, indexLevel float64, cand domain.SpreadCandidate) error {
	log := e.logger.With(
		slog.String("bucket", cand.Bucket.String()),
		slog.String("expiration", cand.Expiration.Format("2006-01-02")),
		slog.Int("dte", cand.DTE),
	)

	cohort, err := e.cohorts.Cohort(cand.Bucket, cand.DTE)
	if err != nil {
		return err
	}
	costBound := cohort.Q3Cost

	// 1. Quote acquisition.
	shortQuote, err := e.quotes.Get(ctx, cand.ShortContract())
	if err != nil {
		return err
	}
	longQuote, err := e.quotes.Get(ctx, cand.LongContract())
	if err != nil {
		return err
	}
	if !shortQuote.HasMarket() || !longQuote.HasMarket() {
		return fmt.Errorf("legs %s / %s: %w",
			cand.ShortContract().Key(), cand.LongContract().Key(), domain.ErrInsufficientMarketData)
	}

	shortMid := shortQuote.Mid()
	longMid := longQuote.Mid()
	executionCost := (shortMid - longMid) * e.cfg.Multiplier

	// 2. Cost gate: only enter when the live credit is at least as favorable
	// as the 75th-percentile historical cost.
	if executionCost < costBound {
		log.Info("cost gate not met, skipping",
			slog.Float64("execution_cost", executionCost),
			slog.Float64("cost_bound", costBound),
		)
		return nil
	}

	// 3. Duplicate and pending-order guards.
	if err := e.guardConflicts(ctx, cand); err != nil {
		return err
	}

	exec := domain.NewSpreadExecution(cand, e.cfg.Quantity, costBound, e.cfg.CommissionCap, e.cfg.MaxAttempts)

	// 4. Submission at mid less/plus the tick buffer.
	sellPrice := roundTick(shortMid-e.cfg.TickBuffer, e.cfg.Tick)
	buyPrice := roundTick(longMid+e.cfg.TickBuffer, e.cfg.Tick)

	if err := e.submitLeg(ctx, exec.Short, sellPrice); err != nil {
		return err
	}
	if err := e.submitLeg(ctx, exec.Long, buyPrice); err != nil {
		// The sell leg is already working; sweep it so no leg is orphaned.
		_ = e.repricer.cancelIfWorking(ctx, exec.Short)
		return err
	}
	exec.State = domain.ExecStateLegsSubmitted

	log.Info("both legs submitted",
		slog.String("execution_id", exec.ID),
		slog.Float64("sell_price", sellPrice),
		slog.Float64("buy_price", buyPrice),
		slog.Float64("execution_cost", executionCost),
		slog.Float64("cost_bound", costBound),
	)

	// 5-6. Repricing loop and exhaustion sweep.
	if err := e.runRepriceLoop(ctx, exec, log); err != nil {
		return err
	}

	// 7. Recording, regardless of terminal state.
	rec := e.buildRecord(exec, indexLevel, executionCost, shortQuote, longQuote)
	if err := e.ledger.AppendEntry(ctx, rec); err != nil {
		return fmt.Errorf("append trade record: %w", err)
	}

	e.notifyOutcome(ctx, exec, rec)
	return nil
}

// guardConflicts rejects a candidate when the identical spread is already
// open or either target contract has a working order.
func (e *EntryEngine) guardConflicts(ctx context.Context, cand domain.SpreadCandidate) error {
	positions, err := e.gw.OpenPositions(ctx)
	if err != nil {
		return err
	}
	var shortOpen, longOpen bool
	for _, p := range positions {
		switch {
		case p.Contract.Equal(cand.ShortContract()) && p.Quantity < 0:
			shortOpen = true
		case p.Contract.Equal(cand.LongContract()) && p.Quantity > 0:
			longOpen = true
		}
	}
	if shortOpen && longOpen {
		return fmt.Errorf("spread %s/%s %s: %w",
			fmtStrike(cand.ShortStrike), fmtStrike(cand.LongStrike),
			cand.Expiration.Format("2006-01-02"), domain.ErrDuplicateSpreadOpen)
	}

	orders, err := e.gw.OpenOrders(ctx)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.Contract.Equal(cand.ShortContract()) || o.Contract.Equal(cand.LongContract()) {
			return fmt.Errorf("contract %s has a working order: %w", o.Contract.Key(), domain.ErrPendingOrderConflict)
		}
	}
	return nil
}

func (e *EntryEngine) submitLeg(ctx context.Context, leg *domain.LegOrder, price float64) error {
	handle, err := e.gw.SubmitOrder(ctx, leg.Contract, leg.Side, leg.Quantity, price)
	if err != nil {
		return fmt.Errorf("submit %s leg: %w", leg.Side, err)
	}
	leg.Handle = handle
	leg.LimitPrice = price
	leg.State = domain.LegStateWorking
	return nil
}

// runRepriceLoop drives both legs toward a simultaneous fill, bounded by
// MaxAttempts. Each iteration: poll, fold in fills, apply the commission cap,
// the both-unfilled cost abort, then independent one-tick improvements that
// must keep the proposed net cost inside the bound.
func (e *EntryEngine) runRepriceLoop(ctx context.Context, exec *domain.SpreadExecution, log *slog.Logger) error {
	for exec.AttemptCount < exec.MaxAttempts {
		if err := e.clock.Sleep(ctx, e.cfg.PollInterval); err != nil {
			return err
		}
		if err := e.clock.WaitForUpdate(ctx, e.cfg.UpdateWait); err != nil {
			return err
		}

		if err := e.repricer.refresh(ctx, exec.Short); err != nil {
			return err
		}
		if err := e.repricer.refresh(ctx, exec.Long); err != nil {
			return err
		}

		// Commission cap: uneconomical regardless of price.
		if exec.CommissionPerContract() > exec.CommissionCap {
			log.Warn("commission cap breached, aborting",
				slog.Float64("commission_per_contract", exec.CommissionPerContract()),
				slog.Float64("cap", exec.CommissionCap),
			)
			if err := e.cancelUnfilled(ctx, exec); err != nil {
				return err
			}
			exec.State = domain.ExecStateCommissionAborted
			return nil
		}

		if exec.BothFilled() {
			exec.State = domain.ExecStateBothFilled
			log.Info("both legs filled",
				slog.Float64("price_sold", exec.Short.FillPrice),
				slog.Float64("price_paid", exec.Long.FillPrice),
			)
			return nil
		}

		// Cost drift abort while no capital is at risk. The comparison is on
		// signed magnitudes: cost can be a credit or a debit.
		netCost := exec.NetCost(e.cfg.Multiplier)
		if !exec.Short.Filled() && !exec.Long.Filled() && math.Abs(netCost) > math.Abs(exec.CostBound) {
			log.Warn("net cost outside bound with both legs pending, cancelling",
				slog.Float64("net_cost", netCost),
				slog.Float64("cost_bound", exec.CostBound),
			)
			if err := e.cancelUnfilled(ctx, exec); err != nil {
				return err
			}
			exec.State = domain.ExecStateCostAborted
			return nil
		}

		if err := e.repriceEntryLeg(ctx, exec, exec.Short, exec.Long); err != nil {
			return err
		}
		if err := e.repriceEntryLeg(ctx, exec, exec.Long, exec.Short); err != nil {
			return err
		}

		exec.AttemptCount++
	}

	// Exhaustion: sweep whatever is still resting.
	if err := e.cancelUnfilled(ctx, exec); err != nil {
		return err
	}
	exec.State = domain.ExecStateAttemptsExhausted
	log.Warn("max attempts reached, unfilled legs cancelled",
		slog.Int("attempts", exec.AttemptCount),
	)
	return nil
}

// repriceEntryLeg proposes a one-tick improvement for leg and applies it only
// when the resulting net cost stays inside the bound; otherwise the order is
// left at its current price for this iteration.
func (e *EntryEngine) repriceEntryLeg(ctx context.Context, exec *domain.SpreadExecution, leg, other *domain.LegOrder) error {
	if !leg.Working() {
		return nil
	}

	proposed, ok := e.repricer.propose(leg)
	if !ok {
		e.logger.Debug("leg at minimum tick, holding price",
			slog.String("side", string(leg.Side)),
		)
		return nil
	}

	var proposedCost float64
	if leg.Side == domain.LegSideSell {
		proposedCost = (proposed-other.LimitPrice)*e.cfg.Multiplier - exec.TotalCommission()
	} else {
		proposedCost = (other.LimitPrice-proposed)*e.cfg.Multiplier - exec.TotalCommission()
	}
	if math.Abs(proposedCost) > math.Abs(exec.CostBound) {
		e.logger.Debug("reprice would breach cost bound, holding price",
			slog.String("side", string(leg.Side)),
			slog.Float64("proposed_cost", proposedCost),
			slog.Float64("cost_bound", exec.CostBound),
		)
		return nil
	}

	return e.repricer.improve(ctx, leg, proposed)
}

// cancelUnfilled issues the final cancel sweep so no partially filled leg is
// left silently resting.
func (e *EntryEngine) cancelUnfilled(ctx context.Context, exec *domain.SpreadExecution) error {
	if err := e.repricer.cancelIfWorking(ctx, exec.Short); err != nil {
		return err
	}
	return e.repricer.cancelIfWorking(ctx, exec.Long)
}

// buildRecord captures the execution outcome for the ledger.
func (e *EntryEngine) buildRecord(
	exec *domain.SpreadExecution,
	indexLevel, executionCost float64,
	shortQuote, longQuote domain.QuoteSnapshot,
) domain.TradeRecord {
	status := domain.StatusPartialCancelled
	if exec.State == domain.ExecStateBothFilled {
		status = domain.StatusFilled
	}

	rec := domain.TradeRecord{
		ID:              exec.ID,
		CreatedAt:       e.clock.Now(),
		Underlying:      exec.Candidate.Underlying,
		Expiration:      exec.Candidate.Expiration,
		ShortStrike:     exec.Candidate.ShortStrike,
		LongStrike:      exec.Candidate.LongStrike,
		DTE:             exec.Candidate.DTE,
		SpreadCost:      executionCost,
		CommissionSell:  exec.Short.Commission,
		CommissionBuy:   exec.Long.Commission,
		TotalCommission: exec.TotalCommission(),
		Status:          status,
		IndexLevel:      indexLevel,
		QtySell:         exec.Short.Quantity,
		QtyBuy:          exec.Long.Quantity,
		BidSell:         shortQuote.Bid,
		AskSell:         shortQuote.Ask,
		BidBuy:          longQuote.Bid,
		AskBuy:          longQuote.Ask,
		PriceSold:       exec.Short.FillPrice,
		PricePaid:       exec.Long.FillPrice,
	}
	if exec.BothFilled() {
		rec.EffectiveCost = (exec.Short.FillPrice - exec.Long.FillPrice) * e.cfg.Multiplier
		rec.TotalCost = rec.EffectiveCost - exec.TotalCommission()
	}
	return rec
}

func (e *EntryEngine) notifyOutcome(ctx context.Context, exec *domain.SpreadExecution, rec domain.TradeRecord) {
	if e.notifier == nil {
		return
	}
	event := "entry_aborted"
	if exec.State == domain.ExecStateBothFilled {
		event = "entry_filled"
	}
	title := fmt.Sprintf("Spread %s %s/%s %s", exec.State,
		fmtStrike(rec.ShortStrike), fmtStrike(rec.LongStrike), rec.Expiration.Format("2006-01-02"))
	msg := fmt.Sprintf("status=%s effective_cost=%.2f commissions=%.2f attempts=%d",
		rec.Status, rec.EffectiveCost, rec.TotalCommission, exec.AttemptCount)
	if err := e.notifier.Notify(ctx, event, title, msg); err != nil {
		e.logger.Warn("outcome notification failed", slog.String("error", err.Error()))
	}
}

func fmtStrike(strike float64) string {
	return fmt.Sprintf("%g", strike)
}
