package domain

import "time"

// OpportunityLeg is one side of a candidate multi-leg trade.
type OpportunityLeg struct {
	Ticker     string
	Side       OrderSide
	Contract   ContractSide
	PriceCents int64
	Quantity   int64
}

// Opportunity is a detected risk-free price inconsistency. Immutable once
// created; a fresher detection on the same market pair supersedes it.
type Opportunity struct {
	ID       uint64 // monotonically increasing per process
	Relation Relationship
	PairKey  string
	Legs     []OpportunityLeg

	// Quantity is the evaluated contract count, the minimum of available
	// depth across legs capped by the configured maximum leg size.
	Quantity int64

	GrossPerContractCents int64 // price differential per contract
	FeeCents              int64 // total fees across all legs at Quantity
	NetProfitCents        int64 // Gross*Quantity - FeeCents
	NetPerContractCents   int64

	DetectedAt time.Time
}
