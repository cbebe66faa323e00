package domain

import "errors"

// Candidate-level errors are recovered locally: the engine logs, skips the
// candidate or record, and moves on. ErrGatewayUnavailable is fatal to the
// current run; the external supervisor restarts the process after a cooldown.
var (
	ErrNoMatchingCohort       = errors.New("no cohort matches volatility bucket")
	ErrInsufficientMarketData = errors.New("insufficient market data")
	ErrDuplicateSpreadOpen    = errors.New("duplicate spread already open")
	ErrPendingOrderConflict   = errors.New("pending order conflict")
	ErrCohortNotFound         = errors.New("cohort not found")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")

	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)
