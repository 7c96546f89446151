package domain

import "time"

// Position is the per-market entry of the ledger: signed net YES-equivalent
// quantity and cost basis, updated only by confirmed fills.
type Position struct {
	Ticker           string
	NetQuantity      int64 // positive long YES, negative short YES
	CostBasisCents   int64 // entry value of the open quantity
	RealizedPnLCents int64
	FeesPaidCents    int64
}

// AvgEntryCents returns the average entry price of the open quantity, or 0
// when flat.
func (p Position) AvgEntryCents() float64 {
	if p.NetQuantity == 0 {
		return 0
	}
	q := p.NetQuantity
	if q < 0 {
		q = -q
	}
	return float64(p.CostBasisCents) / float64(q)
}

// ExposureCents returns the absolute notional tied up in the position at the
// given mark price.
func (p Position) ExposureCents(markCents int64) int64 {
	q := p.NetQuantity
	if q < 0 {
		q = -q
	}
	return q * markCents
}

// LedgerSnapshot is the serialize/restore contract for the position ledger.
type LedgerSnapshot struct {
	Positions      []Position       `json:"positions"`
	AppliedFillIDs []string         `json:"applied_fill_ids"`
	RealizedByDay  map[string]int64 `json:"realized_by_day"` // day (UTC, 2006-01-02) -> realized PnL cents
	TakenAt        time.Time        `json:"taken_at"`
}
