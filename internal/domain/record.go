package domain

import "time"

// RecordStatus is the persisted outcome of a trade record.
type RecordStatus string

const (
	StatusFilled           RecordStatus = "Filled"
	StatusPartialCancelled RecordStatus = "Partial/Cancelled"
	StatusLongExitDone     RecordStatus = "Long Exit done"
)

// TradeRecord is the append-only snapshot of one spread execution outcome.
// It is written exactly once, when the execution reaches a terminal state;
// the exit engine later flips Status to StatusLongExitDone by key and appends
// a separate ExitRecord rather than editing any other field.
type TradeRecord struct {
	ID              string
	CreatedAt       time.Time
	Underlying      string
	Expiration      time.Time
	ShortStrike     float64
	LongStrike      float64
	DTE             int
	SpreadCost      float64
	CommissionSell  float64
	CommissionBuy   float64
	TotalCommission float64
	Status          RecordStatus
	IndexLevel      float64
	QtySell         int
	QtyBuy          int
	BidSell         float64
	AskSell         float64
	BidBuy          float64
	AskBuy          float64
	PriceSold       float64 // 0 if the sell leg never filled
	PricePaid       float64 // 0 if the buy leg never filled
	EffectiveCost   float64 // (PriceSold - PricePaid) x multiplier, both legs filled only
	TotalCost       float64 // EffectiveCost net of commissions
}

// ExitRecord is the append-only record of one long-leg unwind, linked to its
// entry by (expiration, strikes, DTE).
type ExitRecord struct {
	ID             string
	CreatedAt      time.Time
	EntryID        string
	Underlying     string
	Expiration     time.Time
	ShortStrike    float64
	LongStrike     float64
	DTE            int
	ExitPrice      float64
	ValueThreshold float64
	ExpectedReturn float64
	Commission     float64
}
