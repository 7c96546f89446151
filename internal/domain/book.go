package domain

import "time"

// PriceLevel is a single price+quantity entry in an orderbook ladder.
// Prices are YES-side contract prices in cents (1-99).
type PriceLevel struct {
	PriceCents int64
	Quantity   int64
}

// BookSide identifies which side of the ladder a level change applies to.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// LevelChange is one additive/subtractive quantity change in a delta message.
type LevelChange struct {
	Side       BookSide
	PriceCents int64
	Delta      int64
}

// FeedMessage is the closed set of messages the upstream feed can deliver.
// The ingestion boundary handles every variant exhaustively.
type FeedMessage interface {
	feedMessage()
	MarketTicker() string
}

// BookSnapshotMsg replaces the entire ladder for one market and resets its
// sequence counter.
type BookSnapshotMsg struct {
	Ticker     string
	Seq        uint64
	Bids       []PriceLevel
	Asks       []PriceLevel
	ReceivedAt time.Time
}

// BookDeltaMsg applies incremental level changes at a specific sequence.
type BookDeltaMsg struct {
	Ticker     string
	Seq        uint64
	Changes    []LevelChange
	ReceivedAt time.Time
}

// FillMsg reports an execution on one of our orders.
type FillMsg struct {
	Fill Fill
}

// LifecycleMsg reports a market status transition from the venue.
type LifecycleMsg struct {
	Ticker     string
	Status     MarketStatus
	ReceivedAt time.Time
}

func (BookSnapshotMsg) feedMessage() {}
func (BookDeltaMsg) feedMessage()    {}
func (FillMsg) feedMessage()         {}
func (LifecycleMsg) feedMessage()    {}

func (m BookSnapshotMsg) MarketTicker() string { return m.Ticker }
func (m BookDeltaMsg) MarketTicker() string    { return m.Ticker }
func (m FillMsg) MarketTicker() string         { return m.Fill.Ticker }
func (m LifecycleMsg) MarketTicker() string    { return m.Ticker }
