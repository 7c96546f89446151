package book

import (
	"log/slog"
	"sync"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/metrics"
)

// ChangeFunc is invoked after every successful snapshot/delta apply. It runs
// on the ingestion goroutine, so implementations must hand work off quickly.
type ChangeFunc func(ticker string)

// Tracker owns the set of per-market books. Mutation is serialized per
// market (each Book carries its own lock); markets update in parallel.
type Tracker struct {
	mu       sync.RWMutex
	books    map[string]*Book
	onChange ChangeFunc
	logger   *slog.Logger
}

// NewTracker creates a Tracker. onChange may be nil.
func NewTracker(onChange ChangeFunc, logger *slog.Logger) *Tracker {
	return &Tracker{
		books:    make(map[string]*Book),
		onChange: onChange,
		logger:   logger.With(slog.String("component", "book_tracker")),
	}
}

// Get returns the book for a market if it exists.
func (t *Tracker) Get(ticker string) (*Book, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.books[ticker]
	return b, ok
}

// ensure returns the book for a market, creating it on first reference.
func (t *Tracker) ensure(ticker string) *Book {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.books[ticker]
	if !ok {
		b = New(ticker)
		t.books[ticker] = b
	}
	return b
}

// ApplySnapshot replaces a market's ladder and notifies the change handler.
func (t *Tracker) ApplySnapshot(msg domain.BookSnapshotMsg) {
	b := t.ensure(msg.Ticker)
	wasLive := b.Live()
	b.ApplySnapshot(msg.Seq, msg.Bids, msg.Asks)
	if !wasLive {
		metrics.BooksLive.Inc()
	}
	t.logger.Debug("snapshot applied",
		slog.String("ticker", msg.Ticker),
		slog.Uint64("seq", msg.Seq),
	)
	if t.onChange != nil {
		t.onChange(msg.Ticker)
	}
}

// ApplyDelta applies an incremental update. A sequence gap leaves the book
// stale and is returned to the caller, which must request a resync.
func (t *Tracker) ApplyDelta(msg domain.BookDeltaMsg) error {
	b := t.ensure(msg.Ticker)
	wasLive := b.Live()
	if err := b.ApplyDelta(msg.Seq, msg.Changes); err != nil {
		if wasLive && !b.Live() {
			metrics.BooksLive.Dec()
		}
		return err
	}
	if t.onChange != nil {
		t.onChange(msg.Ticker)
	}
	return nil
}

// MarkAllStale invalidates every book. Used on feed reconnect: no partial
// trust of pre-disconnect state.
func (t *Tracker) MarkAllStale() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, b := range t.books {
		b.MarkStale()
	}
	metrics.BooksLive.Set(0)
	t.logger.Info("all books marked stale", slog.Int("count", len(t.books)))
}

// Tickers returns the tickers of all tracked books.
func (t *Tracker) Tickers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.books))
	for ticker := range t.books {
		out = append(out, ticker)
	}
	return out
}
