// Package gateway defines the market access surface the engines trade
// through: quote snapshots, order submission and cancellation, fill and
// commission reporting, and open position/order enumeration.
package gateway

import (
	"context"

	"github.com/avolette/spreadbot/internal/domain"
)

// Gateway is implemented by the brokerage REST client and by test fakes. All
// calls are blocking or bounded-wait from the caller's perspective.
// Connectivity failures are reported by wrapping domain.ErrGatewayUnavailable,
// which is fatal for the current run.
type Gateway interface {
	Connect(ctx context.Context) error

	// IndexPrice returns the live level of the cash volatility index.
	IndexPrice(ctx context.Context, underlying string) (float64, error)

	// OptionChain lists every offered expiration and its strikes.
	OptionChain(ctx context.Context, underlying string) ([]domain.ChainExpiration, error)

	// QuoteSnapshot returns a point-in-time bid/ask with greeks for one contract.
	QuoteSnapshot(ctx context.Context, contract domain.OptionContract) (domain.QuoteSnapshot, error)

	// SubmitOrder places a limit order and returns the broker's opaque handle.
	SubmitOrder(ctx context.Context, contract domain.OptionContract, side domain.LegSide, qty int, limitPrice float64) (string, error)

	// CancelOrder requests cancellation of a working order. Cancelling an
	// order that has already filled is not an error; the caller re-checks
	// Fills afterwards to resolve the race.
	CancelOrder(ctx context.Context, handle string) error

	// Fills returns the executions reported so far for an order handle.
	Fills(ctx context.Context, handle string) ([]domain.Fill, error)

	OpenOrders(ctx context.Context) ([]domain.OpenOrder, error)
	OpenPositions(ctx context.Context) ([]domain.Position, error)
}
