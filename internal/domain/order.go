package domain

// LegSide indicates which side of the spread a leg order trades.
type LegSide string

const (
	LegSideSell LegSide = "sell"
	LegSideBuy  LegSide = "buy"
)

// LegState tracks the lifecycle of one leg order.
type LegState string

const (
	LegStateUnsubmitted LegState = "unsubmitted"
	LegStateWorking     LegState = "working"
	LegStateFilled      LegState = "filled"
	LegStateCancelled   LegState = "cancelled"
)

// LegOrder is one side of a spread execution. Handle is the broker's opaque
// order reference; the gateway owns its lifetime. At most one working order
// ever exists per leg: the engine cancels before it resubmits.
type LegOrder struct {
	Side       LegSide
	Contract   OptionContract
	Quantity   int
	LimitPrice float64
	State      LegState
	Handle     string
	FillPrice  float64
	Commission float64
}

// Filled reports whether the leg has been filled.
func (l *LegOrder) Filled() bool {
	return l.State == LegStateFilled
}

// Working reports whether the leg has an order resting at the venue.
func (l *LegOrder) Working() bool {
	return l.State == LegStateWorking
}

// Fill is one execution report with its commission.
type Fill struct {
	Price      float64
	Quantity   int
	Commission float64
}

// OpenOrder is a working order as reported by the venue, used only for the
// pending-order conflict guard.
type OpenOrder struct {
	Contract OptionContract
	Side     LegSide
	Handle   string
	Status   string
}

// Position is a read-only projection of one open venue position. Quantity is
// signed: negative means short.
type Position struct {
	Contract OptionContract
	Quantity float64
}
