package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avolette/spreadbot/internal/domain"
	"github.com/avolette/spreadbot/internal/gateway"
	"github.com/avolette/spreadbot/internal/notify"
)

// ExitConfig holds the exit engine parameters. One-sided unwind: only the
// long leg of a filled spread is ever sold.
type ExitConfig struct {
	Underlying   string
	Multiplier   float64
	Tick         float64
	TickBuffer   float64
	MaxAttempts  int
	PollInterval time.Duration
	UpdateWait   time.Duration
	CancelWait   time.Duration
}

// ExitOutcome classifies one exit pass over a filled entry.
type ExitOutcome string

const (
	ExitOutcomeFilled  ExitOutcome = "filled"  // long leg sold, entry closed out
	ExitOutcomeHeld    ExitOutcome = "held"    // order left working or withheld this cycle
	ExitOutcomeSkipped ExitOutcome = "skipped" // below the value threshold, no order placed
)

// ExitEngine unwinds the long leg of filled spreads whose expected return
// supports the cohort's average expiry value.
type ExitEngine struct {
	cfg      ExitConfig
	gw       gateway.Gateway
	cohorts  domain.CohortStore
	ledger   domain.TradeLedger
	quotes   quoteReader
	repricer *legRepricer
	notifier *notify.Notifier
	clock    Clock
	logger   *slog.Logger
}

func NewExitEngine(
	cfg ExitConfig,
	gw gateway.Gateway,
	cohorts domain.CohortStore,
	ledger domain.TradeLedger,
	cache domain.QuoteCache,
	notifier *notify.Notifier,
	clock Clock,
	logger *slog.Logger,
) *ExitEngine {
	logger = logger.With(slog.String("component", "exit_engine"))
	return &ExitEngine{
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

// RunCycle walks every filled entry that has not yet been exited. Per-entry
// failures are logged and skipped; gateway connectivity loss aborts the
// cycle.
func (e *ExitEngine) RunCycle(ctx context.Context) error {
	entries, err := e.ledger.ListFilled(ctx)
	if err != nil {
		return fmt.Errorf("list filled entries: %w", err)
	}

	level, err := e.gw.IndexPrice(ctx, e.cfg.Underlying)
	if err != nil {
		return err
	}
	bucket := domain.BucketFor(level)

	for _, rec := range entries {
		outcome, err := e.Evaluate(ctx, rec, level, bucket)
		if err != nil {
			if errors.Is(err, domain.ErrGatewayUnavailable) {
				return err
			}
			e.logger.Warn("exit evaluation failed",
				slog.String("entry_id", rec.ID),
				slog.String("reason", err.Error()),
			)
			continue
		}
		e.logger.Info("exit pass complete",
			slog.String("entry_id", rec.ID),
			slog.String("outcome", string(outcome)),
		)
	}
	return nil
}

// Evaluate runs one filled entry through the exit lifecycle. The cohort is
// the one the spread was admitted under: the bucket tracks the live index
// level while the days-to-expiration is the entry's.
func (e *ExitEngine) Evaluate(ctx context.Context, rec domain.TradeRecord, level float64, bucket domain.VolBucket) (ExitOutcome, error) {
	log := e.logger.With(
		slog.String("entry_id", rec.ID),
		slog.String("bucket", bucket.String()),
		slog.Int("dte", rec.DTE),
	)

	cohort, err := e.cohorts.Cohort(bucket, rec.DTE)
	if err != nil {
		if errors.Is(err, domain.ErrNoMatchingCohort) || errors.Is(err, domain.ErrCohortNotFound) {
			log.Debug("no cohort for current bucket, holding")
			return ExitOutcomeHeld, nil
		}
		return "", err
	}
	threshold := cohort.AvgValue

	long := domain.OptionContract{
		Underlying: rec.Underlying,
		Expiration: rec.Expiration,
		Strike:     rec.LongStrike,
		Right:      domain.RightPut,
	}

	// A prior cycle may have left its exit order resting at the threshold
	// floor. Never stack a second order on the same contract.
	orders, err := e.gw.OpenOrders(ctx)
	if err != nil {
		return "", err
	}
	for _, o := range orders {
		if o.Contract.Equal(long) {
			log.Debug("exit order already working, holding",
				slog.String("handle", o.Handle),
			)
			return ExitOutcomeHeld, nil
		}
	}

	quote, err := e.quotes.Get(ctx, long)
	if err != nil {
		return "", err
	}
	if !quote.HasMarket() {
		log.Debug("no two-sided market for long leg, holding")
		return ExitOutcomeHeld, nil
	}

	askPrice := roundTick(quote.Mid()-e.cfg.TickBuffer, e.cfg.Tick)
	if e.estimate(rec, askPrice) < threshold {
		log.Info("expected return below threshold, skipping",
			slog.Float64("expected_return", e.estimate(rec, askPrice)),
			slog.Float64("threshold", threshold),
		)
		return ExitOutcomeSkipped, nil
	}

	leg := &domain.LegOrder{
		Side:     domain.LegSideSell,
		Contract: long,
		Quantity: rec.QtyBuy,
	}
	if err := e.submitLeg(ctx, leg, askPrice); err != nil {
		return "", err
	}
	log.Info("long exit submitted",
		slog.Float64("ask_price", askPrice),
		slog.Float64("threshold", threshold),
	)

	return e.runUnwindLoop(ctx, rec, leg, threshold, log)
}

// estimate projects the total return of the closed spread when the long leg
// is sold at price: entry proceeds already banked plus the sale value.
func (e *ExitEngine) estimate(rec domain.TradeRecord, price float64) float64 {
	return price*e.cfg.Multiplier + rec.TotalCost
}

func (e *ExitEngine) submitLeg(ctx context.Context, leg *domain.LegOrder, price float64) error {
	handle, err := e.gw.SubmitOrder(ctx, leg.Contract, leg.Side, leg.Quantity, price)
	if err != nil {
		return fmt.Errorf("submit exit leg: %w", err)
	}
	leg.Handle = handle
	leg.LimitPrice = price
	leg.State = domain.LegStateWorking
	return nil
}

// runUnwindLoop decrements the asking price one tick at a time, but never
// past the point where the projected return drops below the threshold. When
// the floor is reached the order is left working for the next cycle.
func (e *ExitEngine) runUnwindLoop(ctx context.Context, rec domain.TradeRecord, leg *domain.LegOrder, threshold float64, log *slog.Logger) (ExitOutcome, error) {
	for attempts := 0; attempts < e.cfg.MaxAttempts; attempts++ {
		if err := e.clock.Sleep(ctx, e.cfg.PollInterval); err != nil {
			return "", err
		}
		if err := e.clock.WaitForUpdate(ctx, e.cfg.UpdateWait); err != nil {
			return "", err
		}

		if err := e.repricer.refresh(ctx, leg); err != nil {
			return "", err
		}
		if leg.Filled() {
			if err := e.recordExit(ctx, rec, leg, threshold); err != nil {
				return "", err
			}
			log.Info("long exit filled",
				slog.Float64("exit_price", leg.FillPrice),
				slog.Float64("commission", leg.Commission),
			)
			e.notifyExit(ctx, rec, leg)
			return ExitOutcomeFilled, nil
		}

		proposed, ok := e.repricer.propose(leg)
		if !ok {
			log.Debug("exit price at minimum tick, holding order")
			return ExitOutcomeHeld, nil
		}
		if e.estimate(rec, proposed) < threshold {
			log.Info("further concession would breach threshold, leaving order working",
				slog.Float64("limit_price", leg.LimitPrice),
				slog.Float64("threshold", threshold),
			)
			return ExitOutcomeHeld, nil
		}
		if err := e.repricer.improve(ctx, leg, proposed); err != nil {
			return "", err
		}
		if leg.Filled() {
			if err := e.recordExit(ctx, rec, leg, threshold); err != nil {
				return "", err
			}
			e.notifyExit(ctx, rec, leg)
			return ExitOutcomeFilled, nil
		}
	}

	log.Warn("exit attempts exhausted, order left working")
	return ExitOutcomeHeld, nil
}

// recordExit appends the exit record and flips the entry's status so the
// spread is never unwound twice.
func (e *ExitEngine) recordExit(ctx context.Context, rec domain.TradeRecord, leg *domain.LegOrder, threshold float64) error {
	exit := domain.ExitRecord{
		ID:             uuid.NewString(),
		CreatedAt:      e.clock.Now(),
		EntryID:        rec.ID,
		Underlying:     rec.Underlying,
		Expiration:     rec.Expiration,
		ShortStrike:    rec.ShortStrike,
		LongStrike:     rec.LongStrike,
		DTE:            rec.DTE,
		ExitPrice:      leg.FillPrice,
		ValueThreshold: threshold,
		ExpectedReturn: e.estimate(rec, leg.FillPrice),
		Commission:     leg.Commission,
	}
	if err := e.ledger.AppendExit(ctx, exit); err != nil {
		return fmt.Errorf("append exit record: %w", err)
	}
	if err := e.ledger.MarkLongExit(ctx, rec.ID); err != nil {
		return fmt.Errorf("mark long exit: %w", err)
	}
	return nil
}

func (e *ExitEngine) notifyExit(ctx context.Context, rec domain.TradeRecord, leg *domain.LegOrder) {
	if e.notifier == nil {
		return
	}
	title := fmt.Sprintf("Long exit filled %s %s", fmtStrike(rec.LongStrike), rec.Expiration.Format("2006-01-02"))
	msg := fmt.Sprintf("exit_price=%.2f expected_return=%.2f commission=%.2f",
		leg.FillPrice, e.estimate(rec, leg.FillPrice), leg.Commission)
	if err := e.notifier.Notify(ctx, "exit_filled", title, msg); err != nil {
		e.logger.Warn("exit notification failed", slog.String("error", err.Error()))
	}
}
