// Package book maintains per-market orderbook state from snapshot/delta
// messages with sequence validation. Each successful apply emits a change
// notification; that notification is the sole trigger for detection.
package book

import (
	"fmt"
	"sync"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

// State is the synchronization state of one market's book.
type State string

const (
	// StateAwaitingSnapshot means no snapshot has been applied yet.
	StateAwaitingSnapshot State = "awaiting_snapshot"
	// StateLive means the ladder reflects every message up to Seq.
	StateLive State = "live"
	// StateStale means a sequence gap was observed; the ladder cannot be
	// trusted until a fresh snapshot arrives.
	StateStale State = "stale"
)

// Prices are cents in (0, 100); index 0 and 100 are never populated.
const maxPriceCents = 100

// ladder holds quantity per price level for one side of the book.
type ladder struct {
	qty [maxPriceCents + 1]int64
}

func (l *ladder) set(price, quantity int64) {
	if price <= 0 || price >= maxPriceCents {
		return
	}
	if quantity < 0 {
		quantity = 0
	}
	l.qty[price] = quantity
}

func (l *ladder) add(price, delta int64) {
	if price <= 0 || price >= maxPriceCents {
		return
	}
	q := l.qty[price] + delta
	if q < 0 {
		q = 0
	}
	l.qty[price] = q
}

func (l *ladder) clear() {
	l.qty = [maxPriceCents + 1]int64{}
}

// highest returns the highest price with non-zero quantity.
func (l *ladder) highest() (domain.PriceLevel, bool) {
	for p := maxPriceCents - 1; p > 0; p-- {
		if l.qty[p] > 0 {
			return domain.PriceLevel{PriceCents: int64(p), Quantity: l.qty[p]}, true
		}
	}
	return domain.PriceLevel{}, false
}

// lowest returns the lowest price with non-zero quantity.
func (l *ladder) lowest() (domain.PriceLevel, bool) {
	for p := int64(1); p < maxPriceCents; p++ {
		if l.qty[p] > 0 {
			return domain.PriceLevel{PriceCents: p, Quantity: l.qty[p]}, true
		}
	}
	return domain.PriceLevel{}, false
}

func (l *ladder) levels(descending bool) []domain.PriceLevel {
	var out []domain.PriceLevel
	if descending {
		for p := maxPriceCents - 1; p > 0; p-- {
			if l.qty[p] > 0 {
				out = append(out, domain.PriceLevel{PriceCents: int64(p), Quantity: l.qty[p]})
			}
		}
		return out
	}
	for p := int64(1); p < maxPriceCents; p++ {
		if l.qty[p] > 0 {
			out = append(out, domain.PriceLevel{PriceCents: p, Quantity: l.qty[p]})
		}
	}
	return out
}

// Book is one market's bid/ask ladder plus its sequence counter. It is
// mutated exclusively by the feed-ingestion path; readers may query it
// concurrently.
type Book struct {
	ticker string

	mu    sync.RWMutex
	seq   uint64
	state State
	bids  ladder
	asks  ladder
}

// New creates an empty book awaiting its first snapshot.
func New(ticker string) *Book {
	return &Book{ticker: ticker, state: StateAwaitingSnapshot}
}

// Ticker returns the market this book belongs to.
func (b *Book) Ticker() string { return b.ticker }

// Seq returns the last applied sequence number.
func (b *Book) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// State returns the current synchronization state.
func (b *Book) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Live reports whether the ladder can be trusted.
func (b *Book) Live() bool {
	return b.State() == StateLive
}

// ApplySnapshot replaces the entire ladder and resets the sequence counter.
// A snapshot always re-synchronizes the book, including from stale.
func (b *Book) ApplySnapshot(seq uint64, bids, asks []domain.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.clear()
	b.asks.clear()
	for _, lvl := range bids {
		b.bids.set(lvl.PriceCents, lvl.Quantity)
	}
	for _, lvl := range asks {
		b.asks.set(lvl.PriceCents, lvl.Quantity)
	}
	b.seq = seq
	b.state = StateLive
}

// ApplyDelta applies level changes when seq == local+1. On a gap the book
// transitions to stale without mutating the ladder and the caller must
// request a fresh snapshot; the book never guesses intermediate state.
func (b *Book) ApplyDelta(seq uint64, changes []domain.LevelChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateLive {
		return fmt.Errorf("book %s: apply delta seq %d: %w", b.ticker, seq, domain.ErrBookStale)
	}
	if seq != b.seq+1 {
		b.state = StateStale
		return fmt.Errorf("book %s: delta seq %d after local %d: %w", b.ticker, seq, b.seq, domain.ErrSequenceGap)
	}

	for _, ch := range changes {
		switch ch.Side {
		case domain.BookSideBid:
			b.bids.add(ch.PriceCents, ch.Delta)
		case domain.BookSideAsk:
			b.asks.add(ch.PriceCents, ch.Delta)
		}
	}
	b.seq = seq
	return nil
}

// MarkStale invalidates the book until a fresh snapshot arrives, e.g. after
// a feed reconnect.
func (b *Book) MarkStale() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateLive {
		b.state = StateStale
	}
}

// BestBid returns the highest non-zero bid level.
func (b *Book) BestBid() (domain.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateLive {
		return domain.PriceLevel{}, false
	}
	return b.bids.highest()
}

// BestAsk returns the lowest non-zero ask level.
func (b *Book) BestAsk() (domain.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateLive {
		return domain.PriceLevel{}, false
	}
	return b.asks.lowest()
}

// DepthAt returns the resting quantity at an exact price level.
func (b *Book) DepthAt(side domain.BookSide, priceCents int64) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if priceCents <= 0 || priceCents >= maxPriceCents {
		return 0
	}
	if side == domain.BookSideBid {
		return b.bids.qty[priceCents]
	}
	return b.asks.qty[priceCents]
}

// Bids returns the non-zero bid levels in descending price order.
func (b *Book) Bids() []domain.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.levels(true)
}

// Asks returns the non-zero ask levels in ascending price order.
func (b *Book) Asks() []domain.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.levels(false)
}
