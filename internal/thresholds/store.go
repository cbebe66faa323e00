// Package thresholds implements the cohort statistics store consumed by the
// candidate selector and both engines. Cohorts are keyed by volatility bucket
// and DTE and carry the quartile/average cost and expiry-value statistics
// produced by the backtest pipeline.
package thresholds

import (
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/avolette/spreadbot/internal/domain"
)

// Store is an in-memory cohort lookup, loaded once at startup. It is
// read-only after construction and safe for concurrent use.
type Store struct {
	buckets map[int]*bucketSheets
}

type bucketSheets struct {
	strike float64
	byDTE  map[int]domain.CohortStats
}

// Cohort returns the statistics for one bucket x DTE pair. It returns an
// error wrapping domain.ErrNoMatchingCohort when the bucket has no sheets at
// all, and domain.ErrCohortNotFound when the bucket exists but the DTE sheet
// does not.
func (s *Store) Cohort(bucket domain.VolBucket, dte int) (domain.CohortStats, error) {
	sheets, ok := s.buckets[bucket.Floor]
	if !ok {
		return domain.CohortStats{}, fmt.Errorf("thresholds: bucket %s: %w", bucket, domain.ErrNoMatchingCohort)
	}
	st, ok := sheets.byDTE[dte]
	if !ok {
		return domain.CohortStats{}, fmt.Errorf("thresholds: bucket %s dte %d: %w", bucket, dte, domain.ErrCohortNotFound)
	}
	return st, nil
}

// DTEs returns the sorted DTE sheets available for a bucket, or an error
// wrapping domain.ErrNoMatchingCohort when the bucket is unknown.
func (s *Store) DTEs(bucket domain.VolBucket) ([]int, error) {
	sheets, ok := s.buckets[bucket.Floor]
	if !ok {
		return nil, fmt.Errorf("thresholds: bucket %s: %w", bucket, domain.ErrNoMatchingCohort)
	}
	dtes := make([]int, 0, len(sheets.byDTE))
	for dte := range sheets.byDTE {
		dtes = append(dtes, dte)
	}
	sort.Ints(dtes)
	return dtes, nil
}

// BacktestRow is one simulated spread outcome from the backtest pipeline,
// used when cohort statistics are derived at load time instead of read from
// pre-aggregated sheets.
type BacktestRow struct {
	BucketFloor int     `csv:"bucket_floor"`
	DTE         int     `csv:"dte"`
	Strike      float64 `csv:"strike"`
	Cost        float64 `csv:"cost"`
	ExpiryValue float64 `csv:"expiry_value"`
}

// FromBacktestRows aggregates raw backtest rows into cohort statistics,
// computing quartiles and averages per bucket x DTE.
func FromBacktestRows(rows []BacktestRow) (*Store, error) {
	type cohortKey struct {
		floor int
		dte   int
	}
	costs := make(map[cohortKey][]float64)
	values := make(map[cohortKey][]float64)
	strikes := make(map[int]float64)

	for _, r := range rows {
		k := cohortKey{floor: r.BucketFloor, dte: r.DTE}
		costs[k] = append(costs[k], r.Cost)
		values[k] = append(values[k], r.ExpiryValue)
		strikes[r.BucketFloor] = r.Strike
	}

	s := &Store{buckets: make(map[int]*bucketSheets)}
	for k, cs := range costs {
		st, err := summarize(cs, values[k])
		if err != nil {
			return nil, fmt.Errorf("thresholds: cohort %d-%d dte %d: %w", k.floor, k.floor+1, k.dte, err)
		}
		st.Strike = strikes[k.floor]

		sheets, ok := s.buckets[k.floor]
		if !ok {
			sheets = &bucketSheets{strike: strikes[k.floor], byDTE: make(map[int]domain.CohortStats)}
			s.buckets[k.floor] = sheets
		}
		sheets.byDTE[k.dte] = st
	}
	return s, nil
}

// summarize computes the quartile and average statistics for one cohort.
func summarize(costs, values []float64) (domain.CohortStats, error) {
	costQ, err := stats.Quartile(costs)
	if err != nil {
		return domain.CohortStats{}, fmt.Errorf("cost quartiles: %w", err)
	}
	costAvg, err := stats.Mean(costs)
	if err != nil {
		return domain.CohortStats{}, fmt.Errorf("cost mean: %w", err)
	}
	valQ, err := stats.Quartile(values)
	if err != nil {
		return domain.CohortStats{}, fmt.Errorf("value quartiles: %w", err)
	}
	valAvg, err := stats.Mean(values)
	if err != nil {
		return domain.CohortStats{}, fmt.Errorf("value mean: %w", err)
	}

	return domain.CohortStats{
		Q1Cost:   costQ.Q1,
		AvgCost:  costAvg,
		Q3Cost:   costQ.Q3,
		Q1Value:  valQ.Q1,
		AvgValue: valAvg,
		Q3Value:  valQ.Q3,
	}, nil
}

// Compile-time interface check.
var _ domain.CohortStore = (*Store)(nil)
