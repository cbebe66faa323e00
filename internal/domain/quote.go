package domain

import "time"

// Greeks holds the model greeks reported with a quote snapshot.
type Greeks struct {
	Delta float64
	Gamma float64
	Vega  float64
	Theta float64
}

// QuoteSnapshot is a point-in-time bid/ask for one contract.
type QuoteSnapshot struct {
	Contract OptionContract
	Bid      float64
	Ask      float64
	Greeks   Greeks
	Time     time.Time
}

// HasMarket reports whether both sides of the market are present. A quote
// with a missing bid or ask cannot price a spread leg.
func (q QuoteSnapshot) HasMarket() bool {
	return q.Bid > 0 && q.Ask > 0
}

// Mid returns the mid-quote, or 0 when either side is missing.
func (q QuoteSnapshot) Mid() float64 {
	if !q.HasMarket() {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}
