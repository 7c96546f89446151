package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusPaused  MarketStatus = "paused"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Terminal reports whether the status freezes further order placement.
// Closed and settled markets never transition back.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusClosed || s == MarketStatusSettled
}

// StrikeKind classifies the threshold condition encoded in a market ticker.
type StrikeKind string

const (
	StrikeAbove   StrikeKind = "above"
	StrikeBelow   StrikeKind = "below"
	StrikeBetween StrikeKind = "between"
	StrikeExactly StrikeKind = "exactly"
	StrikeNone    StrikeKind = "none"
)

// Market represents a Kalshi binary market.
type Market struct {
	Ticker       string
	EventTicker  string
	SeriesTicker string
	Title        string
	StrikeKind   StrikeKind
	Strike       float64
	Date         string // event date component of the ticker, e.g. "22DEC23"
	Status       MarketStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Tradable reports whether new orders may be placed on this market.
func (m Market) Tradable() bool {
	return m.Status == MarketStatusActive
}
