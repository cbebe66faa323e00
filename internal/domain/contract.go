package domain

import (
	"fmt"
	"time"
)

// OptionRight distinguishes puts from calls.
type OptionRight string

const (
	RightPut  OptionRight = "P"
	RightCall OptionRight = "C"
)

// OptionContract identifies one listed option. Expiration is a date; the time
// portion is always midnight UTC.
type OptionContract struct {
	Underlying string
	Expiration time.Time
	Strike     float64
	Right      OptionRight
}

// NewPut builds a put contract with the expiration normalized to midnight UTC.
func NewPut(underlying string, expiration time.Time, strike float64) OptionContract {
	return OptionContract{
		Underlying: underlying,
		Expiration: DateUTC(expiration),
		Strike:     strike,
		Right:      RightPut,
	}
}

// DateUTC truncates t to its calendar date in UTC.
func DateUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DTE returns whole days to expiration relative to now. Same-day expiration
// returns 0; expired contracts return negative values.
func (c OptionContract) DTE(now time.Time) int {
	return int(c.Expiration.Sub(DateUTC(now)).Hours() / 24)
}

// Key returns the canonical contract identifier used as the broker symbol,
// cache key, and log field, e.g. "VIX-20260917-21P".
func (c OptionContract) Key() string {
	return fmt.Sprintf("%s-%s-%g%s", c.Underlying, c.Expiration.Format("20060102"), c.Strike, c.Right)
}

// Equal reports whether two contracts identify the same listing.
func (c OptionContract) Equal(o OptionContract) bool {
	return c.Underlying == o.Underlying &&
		c.Expiration.Equal(o.Expiration) &&
		c.Strike == o.Strike &&
		c.Right == o.Right
}

// ChainExpiration is one expiration slice of an option chain with its listed
// strikes.
type ChainExpiration struct {
	Expiration time.Time
	Strikes    []float64
}

// HasStrike reports whether the expiration lists the given strike.
func (ce ChainExpiration) HasStrike(strike float64) bool {
	for _, s := range ce.Strikes {
		if s == strike {
			return true
		}
	}
	return false
}
