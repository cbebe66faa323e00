package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avolette/spreadbot/internal/domain"
	"github.com/avolette/spreadbot/internal/engine"
	"github.com/avolette/spreadbot/internal/feed"
	"github.com/avolette/spreadbot/internal/selector"
)

// lockTTL bounds how long a crashed process can block its successor.
const lockTTL = 10 * time.Minute

// EntryMode runs the candidate selector and the spread entry engine on a
// fixed cycle. A distributed run lock ensures overlapping supervisor restarts
// cannot double-run the engine.
func (a *App) EntryMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting entry mode")

	unlock, err := deps.LockManager.Acquire(ctx, "spreadbot:entry", lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("entry mode: another instance is running: %w", err)
		}
		return fmt.Errorf("entry mode: acquire run lock: %w", err)
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps)
	a.startEntryLoop(ctx, g, deps)
	return g.Wait()
}

// ExitMode runs only the exit engine on a fixed cycle.
func (a *App) ExitMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting exit mode")

	unlock, err := deps.LockManager.Acquire(ctx, "spreadbot:exit", lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("exit mode: another instance is running: %w", err)
		}
		return fmt.Errorf("exit mode: acquire run lock: %w", err)
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps)
	a.startExitLoop(ctx, g, deps)
	return g.Wait()
}

// FullMode runs entry and exit cycles concurrently, plus the archive sweep
// when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	unlock, err := deps.LockManager.Acquire(ctx, "spreadbot:full", lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("full mode: another instance is running: %w", err)
		}
		return fmt.Errorf("full mode: acquire run lock: %w", err)
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps)
	if a.cfg.Entry.Enabled {
		a.startEntryLoop(ctx, g, deps)
	}
	if a.cfg.Exit.Enabled {
		a.startExitLoop(ctx, g, deps)
	}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, deps)
	}
	return g.Wait()
}

// ArchiveMode performs one archive sweep and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 storage is not configured")
	}
	return a.runArchiveSweep(ctx, deps)
}

// startFeed launches the streaming index feed when configured.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Feed.Enabled {
		return
	}
	indexFeed := feed.NewIndexFeed(
		a.cfg.Feed.WsURL,
		a.cfg.Underlying.Symbol,
		deps.QuoteCache,
		a.logger,
	)
	g.Go(func() error {
		defer indexFeed.Close()
		err := indexFeed.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("index feed: %w", err)
	})
}

// startEntryLoop builds the selector and entry engine and runs an immediate
// cycle followed by a ticker loop.
func (a *App) startEntryLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sel := selector.New(selector.Config{
		Underlying:     a.cfg.Underlying.Symbol,
		MaxHorizonDays: a.cfg.Entry.MaxHorizonDays,
		ExcludedDTE:    a.cfg.Entry.ExcludedDTE,
	}, deps.Gateway, deps.Cohorts, a.logger)

	entryEngine := engine.NewEntryEngine(engine.EntryConfig{
		Underlying:    a.cfg.Underlying.Symbol,
		Multiplier:    a.cfg.Underlying.Multiplier,
		Tick:          a.cfg.Underlying.Tick,
		TickBuffer:    a.cfg.Entry.TickBuffer,
		Quantity:      a.cfg.Entry.Quantity,
		MaxAttempts:   a.cfg.Entry.MaxAttempts,
		PollInterval:  a.cfg.Entry.PollInterval.Duration,
		UpdateWait:    a.cfg.Entry.UpdateWait.Duration,
		CancelWait:    a.cfg.Entry.CancelWait.Duration,
		CommissionCap: a.cfg.Entry.CommissionCap,
	}, deps.Gateway, deps.Cohorts, deps.Ledger, deps.QuoteCache, deps.Notifier, engine.RealClock{}, a.logger)

	interval := a.cfg.Entry.CycleInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	g.Go(func() error {
		runOnce := func() {
			selection, err := sel.Candidates(ctx)
			if err != nil {
				if errors.Is(err, domain.ErrNoMatchingCohort) {
					a.logger.InfoContext(ctx, "no cohort sheets for current bucket, ending cycle",
						slog.String("bucket", selection.Bucket.String()),
					)
					return
				}
				a.logger.ErrorContext(ctx, "candidate selection failed", slog.String("error", err.Error()))
				return
			}
			if err := entryEngine.RunCycle(ctx, selection); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "entry cycle failed", slog.String("error", err.Error()))
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

// startExitLoop builds the exit engine and runs an immediate cycle followed
// by a ticker loop.
func (a *App) startExitLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	exitEngine := engine.NewExitEngine(engine.ExitConfig{
		Underlying:   a.cfg.Underlying.Symbol,
		Multiplier:   a.cfg.Underlying.Multiplier,
		Tick:         a.cfg.Underlying.Tick,
		TickBuffer:   a.cfg.Exit.TickBuffer,
		MaxAttempts:  a.cfg.Exit.MaxAttempts,
		PollInterval: a.cfg.Exit.PollInterval.Duration,
		UpdateWait:   a.cfg.Exit.UpdateWait.Duration,
		CancelWait:   a.cfg.Exit.CancelWait.Duration,
	}, deps.Gateway, deps.Cohorts, deps.Ledger, deps.QuoteCache, deps.Notifier, engine.RealClock{}, a.logger)

	interval := a.cfg.Exit.CycleInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	g.Go(func() error {
		runOnce := func() {
			if err := exitEngine.RunCycle(ctx); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "exit cycle failed", slog.String("error", err.Error()))
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

// startArchiveLoop sweeps aged records to cold storage once a day.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := a.runArchiveSweep(ctx, deps); err != nil && ctx.Err() == nil {
					a.logger.ErrorContext(ctx, "archive sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	})
}

// runArchiveSweep uploads records older than the retention window and, when
// configured, deletes them from the primary store afterwards.
func (a *App) runArchiveSweep(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	archived, err := deps.Archiver.ArchiveEntries(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive entries: %w", err)
	}
	a.logger.InfoContext(ctx, "archive sweep complete",
		slog.Int64("archived", archived),
		slog.Time("cutoff", cutoff),
	)

	if archived > 0 && a.cfg.Archive.DeleteAfter {
		deleted, err := deps.Ledger.DeleteEntriesBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("delete archived entries: %w", err)
		}
		a.logger.InfoContext(ctx, "archived entries deleted from primary store",
			slog.Int64("deleted", deleted),
		)
	}
	return nil
}
