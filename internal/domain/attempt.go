package domain

import "time"

// AttemptState is the aggregate state of one multi-leg execution.
type AttemptState string

const (
	AttemptCreated       AttemptState = "created"
	AttemptLegsSubmitted AttemptState = "legs_submitted"
	AttemptPartial       AttemptState = "partially_complete"
	AttemptComplete      AttemptState = "complete"
	AttemptFailedUnwound AttemptState = "failed_unwound"
)

// Terminal reports whether the attempt has reached a final state.
func (s AttemptState) Terminal() bool {
	return s == AttemptComplete || s == AttemptFailedUnwound
}

// ExecutionAttempt groups the legs belonging to one opportunity. It reaches
// complete only when every leg is filled, or failed_unwound when a
// compensating unwind for every non-failed leg has itself reached a terminal
// state.
type ExecutionAttempt struct {
	ID            string
	OpportunityID uint64
	PairKey       string
	Legs          []Order
	Unwinds       []Order
	State         AttemptState
	// LedgerApplied guards the exactly-once ledger update at the terminal
	// transition across restarts.
	LedgerApplied bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}
