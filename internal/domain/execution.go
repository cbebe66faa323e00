package domain

import "github.com/google/uuid"

// ExecState tracks one spread execution through the entry lifecycle.
type ExecState string

const (
	ExecStateEvaluating        ExecState = "evaluating"
	ExecStateLegsSubmitted     ExecState = "legs_submitted"
	ExecStateBothFilled        ExecState = "both_filled"
	ExecStateCommissionAborted ExecState = "commission_aborted"
	ExecStateCostAborted       ExecState = "cost_aborted"
	ExecStateAttemptsExhausted ExecState = "attempts_exhausted"
)

// Terminal reports whether the state ends the execution.
func (s ExecState) Terminal() bool {
	return s != ExecStateEvaluating && s != ExecStateLegsSubmitted
}

// SpreadExecution owns the two leg orders of one spread attempt. CostBound
// and CommissionCap are fixed at creation and never change for the lifetime
// of the execution.
type SpreadExecution struct {
	ID            string
	Candidate     SpreadCandidate
	Short         *LegOrder
	Long          *LegOrder
	CostBound     float64
	CommissionCap float64
	AttemptCount  int
	MaxAttempts   int
	State         ExecState
}

// NewSpreadExecution creates an execution in the evaluating state with both
// legs unsubmitted.
func NewSpreadExecution(cand SpreadCandidate, qty int, costBound, commissionCap float64, maxAttempts int) *SpreadExecution {
	return &SpreadExecution{
		ID:        uuid.New().String(),
		Candidate: cand,
		Short: &LegOrder{
			Side:     LegSideSell,
			Contract: cand.ShortContract(),
			Quantity: qty,
			State:    LegStateUnsubmitted,
		},
		Long: &LegOrder{
			Side:     LegSideBuy,
			Contract: cand.LongContract(),
			Quantity: qty,
			State:    LegStateUnsubmitted,
		},
		CostBound:     costBound,
		CommissionCap: commissionCap,
		MaxAttempts:   maxAttempts,
		State:         ExecStateEvaluating,
	}
}

// BothFilled reports whether both legs have been filled.
func (e *SpreadExecution) BothFilled() bool {
	return e.Short.Filled() && e.Long.Filled()
}

// TotalCommission sums the commissions observed on both legs.
func (e *SpreadExecution) TotalCommission() float64 {
	return e.Short.Commission + e.Long.Commission
}

// CommissionPerContract spreads the observed commissions over all contracts
// in the execution.
func (e *SpreadExecution) CommissionPerContract() float64 {
	contracts := e.Short.Quantity + e.Long.Quantity
	if contracts == 0 {
		return 0
	}
	return e.TotalCommission() / float64(contracts)
}

// NetCost returns the working net cost of the spread at the given multiplier:
// credit from the sell leg minus debit of the buy leg, net of commissions.
// Positive means net credit received.
func (e *SpreadExecution) NetCost(multiplier float64) float64 {
	return (e.Short.LimitPrice-e.Long.LimitPrice)*multiplier - e.TotalCommission()
}
