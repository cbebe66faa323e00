package domain

import (
	"fmt"
	"math"
	"time"
)

// VolBucket is the volatility threshold range [Floor, Floor+1) that keys the
// historical cohort statistics.
type VolBucket struct {
	Floor int
}

// BucketFor maps a live volatility level to its bucket.
func BucketFor(level float64) VolBucket {
	return VolBucket{Floor: int(math.Floor(level))}
}

// String renders the bucket the way the cohort sheets name it, e.g. "25-26".
func (b VolBucket) String() string {
	return fmt.Sprintf("%d-%d", b.Floor, b.Floor+1)
}

// SpreadCandidate is one evaluable credit spread: SELL the short strike put,
// BUY the lower protective put, for a single expiration. Immutable once
// selected; a fresh set is derived each evaluation cycle.
type SpreadCandidate struct {
	Underlying  string
	ShortStrike float64
	LongStrike  float64
	Expiration  time.Time
	DTE         int
	Bucket      VolBucket
}

// ShortContract returns the put contract for the sold leg.
func (c SpreadCandidate) ShortContract() OptionContract {
	return NewPut(c.Underlying, c.Expiration, c.ShortStrike)
}

// LongContract returns the put contract for the protective leg.
func (c SpreadCandidate) LongContract() OptionContract {
	return NewPut(c.Underlying, c.Expiration, c.LongStrike)
}

// CohortStats are the historical backtest statistics for one bucket x DTE
// cohort. Costs and values are in spread dollars (already multiplied by the
// contract multiplier).
type CohortStats struct {
	Strike   float64
	Q1Cost   float64
	AvgCost  float64
	Q3Cost   float64
	Q1Value  float64
	AvgValue float64
	Q3Value  float64
}
