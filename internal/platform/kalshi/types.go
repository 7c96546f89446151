package kalshi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/fees"
)

// Market is a market as returned by the Kalshi REST API.
type Market struct {
	Ticker       string  `json:"ticker"`
	EventTicker  string  `json:"event_ticker"`
	Title        string  `json:"title"`
	Status       string  `json:"status"` // "active", "paused", "closed", "settled"
	YesBid       int64   `json:"yes_bid"`
	YesAsk       int64   `json:"yes_ask"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
	StrikeType   string  `json:"strike_type"`
	FloorStrike  float64 `json:"floor_strike"`
	CapStrike    float64 `json:"cap_strike"`
	OpenTime     string  `json:"open_time"`
	CloseTime    string  `json:"close_time"`
}

// ToDomain converts the API market into the internal model. The series and
// strike information is recovered from the ticker grammar, which is the
// authoritative source for relationship classification.
func (m Market) ToDomain(now time.Time) domain.Market {
	out := domain.Market{
		Ticker:      m.Ticker,
		EventTicker: m.EventTicker,
		Title:       m.Title,
		Status:      marketStatus(m.Status),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if i := strings.IndexByte(m.Ticker, '-'); i > 0 {
		out.SeriesTicker = m.Ticker[:i]
	}
	return out
}

func marketStatus(s string) domain.MarketStatus {
	switch s {
	case "active", "open":
		return domain.MarketStatusActive
	case "paused":
		return domain.MarketStatusPaused
	case "closed":
		return domain.MarketStatusClosed
	case "settled", "finalized":
		return domain.MarketStatusSettled
	}
	return domain.MarketStatusPaused
}

// OrderRequest is the body for POST /portfolio/orders. ClientOrderID is the
// idempotency key: resubmitting it never creates a second order.
type OrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "limit"
	Count         int64  `json:"count"`
	YesPrice      *int64 `json:"yes_price,omitempty"`
	NoPrice       *int64 `json:"no_price,omitempty"`
}

// OrderResponse is the venue acknowledgement after order submission.
type OrderResponse struct {
	Order struct {
		OrderID        string `json:"order_id"`
		ClientOrderID  string `json:"client_order_id"`
		Ticker         string `json:"ticker"`
		Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
		Action         string `json:"action"`
		Side           string `json:"side"`
		YesPrice       int64  `json:"yes_price"`
		NoPrice        int64  `json:"no_price"`
		RemainingCount int64  `json:"remaining_count"`
		TakerFillCount int64  `json:"taker_fill_count"`
		TakerFillCost  int64  `json:"taker_fill_cost"`
		MakerFillCount int64  `json:"maker_fill_count"`
	} `json:"order"`
}

// ErrorResponse is the Kalshi API error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSEnvelope wraps every message on the websocket.
type WSEnvelope struct {
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Seq  uint64          `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

// wireLevel is a [price_cents, quantity] pair as sent on the wire.
type wireLevel [2]int64

// WSOrderbookSnapshot replaces the book for one market. The "yes" levels are
// resting YES bids; each "no" level at price p is a YES ask at 100-p.
type WSOrderbookSnapshot struct {
	Ticker string      `json:"market_ticker"`
	Yes    []wireLevel `json:"yes"`
	No     []wireLevel `json:"no"`
}

// ToFeedMessage converts the snapshot into the internal representation.
func (s WSOrderbookSnapshot) ToFeedMessage(seq uint64, at time.Time) domain.BookSnapshotMsg {
	msg := domain.BookSnapshotMsg{
		Ticker:     s.Ticker,
		Seq:        seq,
		Bids:       make([]domain.PriceLevel, 0, len(s.Yes)),
		Asks:       make([]domain.PriceLevel, 0, len(s.No)),
		ReceivedAt: at,
	}
	for _, lvl := range s.Yes {
		msg.Bids = append(msg.Bids, domain.PriceLevel{PriceCents: lvl[0], Quantity: lvl[1]})
	}
	for _, lvl := range s.No {
		msg.Asks = append(msg.Asks, domain.PriceLevel{PriceCents: 100 - lvl[0], Quantity: lvl[1]})
	}
	return msg
}

// WSOrderbookDelta is one level change on one side of a market's book.
type WSOrderbookDelta struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"price"`
	Delta  int64  `json:"delta"`
	Side   string `json:"side"` // "yes" or "no"
}

// ToFeedMessage converts the delta; a NO-side change mirrors onto the YES
// ask ladder.
func (d WSOrderbookDelta) ToFeedMessage(seq uint64, at time.Time) domain.BookDeltaMsg {
	change := domain.LevelChange{Side: domain.BookSideBid, PriceCents: d.Price, Delta: d.Delta}
	if d.Side == "no" {
		change.Side = domain.BookSideAsk
		change.PriceCents = 100 - d.Price
	}
	return domain.BookDeltaMsg{
		Ticker:     d.Ticker,
		Seq:        seq,
		Changes:    []domain.LevelChange{change},
		ReceivedAt: at,
	}
}

// WSFill reports an execution against one of our orders.
type WSFill struct {
	TradeID  string `json:"trade_id"`
	OrderID  string `json:"order_id"`
	Ticker   string `json:"market_ticker"`
	Side     string `json:"side"`   // "yes" or "no"
	Action   string `json:"action"` // "buy" or "sell"
	Count    int64  `json:"count"`
	YesPrice int64  `json:"yes_price"`
	NoPrice  int64  `json:"no_price"`
	IsTaker  bool   `json:"is_taker"`
	Ts       int64  `json:"ts"`
}

// ToFeedMessage converts the fill notification. Kalshi does not carry the
// trading fee on the fill message, so it is computed from the schedule at the
// executed price.
func (f WSFill) ToFeedMessage(model fees.Model) domain.FillMsg {
	fill := domain.Fill{
		ID:        f.TradeID,
		OrderID:   f.OrderID,
		Ticker:    f.Ticker,
		Side:      domain.OrderSide(f.Action),
		Contract:  domain.ContractSide(f.Side),
		Quantity:  f.Count,
		IsTaker:   f.IsTaker,
		Timestamp: time.Unix(f.Ts, 0).UTC(),
	}
	if fill.Contract == domain.ContractNo {
		fill.PriceCents = f.NoPrice
	} else {
		fill.PriceCents = f.YesPrice
	}
	fill.FeeCents = model.TradingFeeCents(fill.PriceCents, fill.Quantity, fill.Ticker, !f.IsTaker)
	return domain.FillMsg{Fill: fill}
}

// WSLifecycle reports a market status transition.
type WSLifecycle struct {
	Ticker string `json:"market_ticker"`
	Status string `json:"status"`
}

// ToFeedMessage converts the lifecycle notification.
func (l WSLifecycle) ToFeedMessage(at time.Time) domain.LifecycleMsg {
	return domain.LifecycleMsg{
		Ticker:     l.Ticker,
		Status:     marketStatus(l.Status),
		ReceivedAt: at,
	}
}

// wsCommand is the client-to-server command envelope.
type wsCommand struct {
	ID     int64           `json:"id"`
	Cmd    string          `json:"cmd"` // "subscribe" or "unsubscribe"
	Params wsCommandParams `json:"params"`
}

type wsCommandParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}
