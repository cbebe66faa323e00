// Package selector maps the live volatility level to a threshold bucket and
// derives the evaluable spread candidates for every admissible expiration.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avolette/spreadbot/internal/domain"
	"github.com/avolette/spreadbot/internal/gateway"
)

// timeNow is swapped by tests for deterministic DTE computation.
var timeNow = time.Now

// Config holds the candidate admission parameters.
type Config struct {
	Underlying     string
	MaxHorizonDays int   // expirations at or beyond this DTE are excluded
	ExcludedDTE    []int // near-term window reserved for assignment-risk avoidance
}

// Selector derives spread candidates from live volatility and the cohort
// store. It holds no mutable state; a fresh Selection is computed per cycle.
type Selector struct {
	cfg      Config
	gw       gateway.Gateway
	cohorts  domain.CohortStore
	excluded map[int]bool
	logger   *slog.Logger
}

// Selection is the result of one evaluation cycle.
type Selection struct {
	IndexLevel float64
	Bucket     domain.VolBucket
	Candidates []domain.SpreadCandidate
}

// New creates a Selector.
func New(cfg Config, gw gateway.Gateway, cohorts domain.CohortStore, logger *slog.Logger) *Selector {
	excluded := make(map[int]bool, len(cfg.ExcludedDTE))
	for _, d := range cfg.ExcludedDTE {
		excluded[d] = true
	}
	return &Selector{
		cfg:      cfg,
		gw:       gw,
		cohorts:  cohorts,
		excluded: excluded,
		logger:   logger.With(slog.String("component", "selector")),
	}
}

// Candidates reads the live index level, resolves its bucket, and yields one
// candidate per venue-offered expiration that is inside the admissible DTE
// window and has a matching cohort sheet. It returns an error wrapping
// domain.ErrNoMatchingCohort when no stored cohort covers the bucket; the
// caller logs and skips the cycle.
func (s *Selector) Candidates(ctx context.Context) (Selection, error) {
	level, err := s.gw.IndexPrice(ctx, s.cfg.Underlying)
	if err != nil {
		return Selection{}, fmt.Errorf("selector: index level: %w", err)
	}

	bucket := domain.BucketFor(level)
	sel := Selection{IndexLevel: level, Bucket: bucket}

	// A bucket with no sheets at all ends the cycle before we touch the chain.
	if _, err := s.cohorts.DTEs(bucket); err != nil {
		return sel, fmt.Errorf("selector: %w", err)
	}

	chain, err := s.gw.OptionChain(ctx, s.cfg.Underlying)
	if err != nil {
		return sel, fmt.Errorf("selector: option chain: %w", err)
	}

	now := domain.DateUTC(timeNow())
	longStrike := float64(bucket.Floor)

	for _, exp := range chain {
		contract := domain.OptionContract{Expiration: domain.DateUTC(exp.Expiration)}
		dte := contract.DTE(now)
		if dte <= 0 || dte >= s.cfg.MaxHorizonDays {
			continue
		}
		if s.excluded[dte] {
			continue
		}

		cohort, err := s.cohorts.Cohort(bucket, dte)
		if err != nil {
			if errors.Is(err, domain.ErrCohortNotFound) {
				s.logger.Debug("no cohort sheet for expiration",
					slog.String("bucket", bucket.String()),
					slog.Int("dte", dte),
				)
				continue
			}
			return sel, fmt.Errorf("selector: %w", err)
		}

		if !exp.HasStrike(cohort.Strike) || !exp.HasStrike(longStrike) {
			s.logger.Debug("venue does not list both strikes",
				slog.String("expiration", exp.Expiration.Format("2006-01-02")),
				slog.Float64("short_strike", cohort.Strike),
				slog.Float64("long_strike", longStrike),
			)
			continue
		}

		sel.Candidates = append(sel.Candidates, domain.SpreadCandidate{
			Underlying:  s.cfg.Underlying,
			ShortStrike: cohort.Strike,
			LongStrike:  longStrike,
			Expiration:  domain.DateUTC(exp.Expiration),
			DTE:         dte,
			Bucket:      bucket,
		})
	}

	s.logger.Info("candidates selected",
		slog.Float64("index_level", level),
		slog.String("bucket", bucket.String()),
		slog.Int("count", len(sel.Candidates)),
	)
	return sel, nil
}
