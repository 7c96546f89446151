package feed

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/book"
	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

type fakeSource struct {
	msgs       chan domain.FeedMessage
	reconnects chan struct{}
	resubs     chan string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		msgs:       make(chan domain.FeedMessage, 16),
		reconnects: make(chan struct{}, 1),
		resubs:     make(chan string, 16),
	}
}

func (s *fakeSource) Messages() <-chan domain.FeedMessage { return s.msgs }
func (s *fakeSource) Reconnects() <-chan struct{}         { return s.reconnects }

func (s *fakeSource) Resubscribe(_ context.Context, ticker string) error {
	s.resubs <- ticker
	return nil
}

type fakeMarketStore struct {
	mu       sync.Mutex
	upserts  []string
	statuses map[string]domain.MarketStatus
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{statuses: make(map[string]domain.MarketStatus)}
}

func (s *fakeMarketStore) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, m.Ticker)
	return nil
}

func (s *fakeMarketStore) UpsertBatch(ctx context.Context, ms []domain.Market) error {
	for _, m := range ms {
		if err := s.Upsert(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeMarketStore) GetByTicker(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (s *fakeMarketStore) ListActive(context.Context, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}

func (s *fakeMarketStore) SetStatus(_ context.Context, ticker string, status domain.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[ticker] = status
	return nil
}

func (s *fakeMarketStore) statusOf(ticker string) (domain.MarketStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[ticker]
	return st, ok
}

type fillRecorder struct {
	mu    sync.Mutex
	fills []domain.Fill
}

func (r *fillRecorder) HandleFill(f domain.Fill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, f)
}

func (r *fillRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fills)
}

type harness struct {
	source  *fakeSource
	tracker *book.Tracker
	store   *fakeMarketStore
	fills   *fillRecorder
	cancel  context.CancelFunc
	done    chan struct{}
}

func startIngestor(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source: newFakeSource(),
		store:  newFakeMarketStore(),
		fills:  &fillRecorder{},
		done:   make(chan struct{}),
	}
	h.tracker = book.NewTracker(nil, slog.Default())
	in := NewIngestor(h.source, h.tracker, h.store, h.fills, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = in.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSnapshotAndDeltaRouting(t *testing.T) {
	h := startIngestor(t)

	h.source.msgs <- domain.BookSnapshotMsg{
		Ticker: "A",
		Seq:    10,
		Bids:   []domain.PriceLevel{{PriceCents: 40, Quantity: 5}},
		Asks:   []domain.PriceLevel{{PriceCents: 45, Quantity: 5}},
	}
	h.source.msgs <- domain.BookDeltaMsg{
		Ticker:  "A",
		Seq:     11,
		Changes: []domain.LevelChange{{Side: domain.BookSideBid, PriceCents: 41, Delta: 3}},
	}

	waitFor(t, func() bool {
		b, ok := h.tracker.Get("A")
		if !ok {
			return false
		}
		bid, live := b.BestBid()
		return live && bid.PriceCents == 41
	}, "delta never reflected in book")
}

func TestSequenceGapTriggersResync(t *testing.T) {
	h := startIngestor(t)

	h.source.msgs <- domain.BookSnapshotMsg{Ticker: "A", Seq: 10}
	h.source.msgs <- domain.BookDeltaMsg{Ticker: "A", Seq: 13} // gap

	select {
	case ticker := <-h.source.resubs:
		if ticker != "A" {
			t.Fatalf("resubscribed %q, want A", ticker)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no resubscribe after sequence gap")
	}

	b, _ := h.tracker.Get("A")
	if b.State() != book.StateStale {
		t.Fatalf("book state = %s, want stale", b.State())
	}
}

func TestFillRoutedToHandler(t *testing.T) {
	h := startIngestor(t)

	h.source.msgs <- domain.FillMsg{Fill: domain.Fill{
		ID: "f1", OrderID: "ex-1", Ticker: "A",
		Side: domain.OrderSideBuy, Contract: domain.ContractYes,
		Quantity: 5, PriceCents: 40,
	}}

	waitFor(t, func() bool { return h.fills.count() == 1 }, "fill never routed")
}

func TestLifecycleUpdatesMarketStore(t *testing.T) {
	h := startIngestor(t)

	h.source.msgs <- domain.LifecycleMsg{Ticker: "A", Status: domain.MarketStatusSettled}

	waitFor(t, func() bool {
		st, ok := h.store.statusOf("A")
		return ok && st == domain.MarketStatusSettled
	}, "lifecycle status never stored")
}

func TestReconnectMarksAllBooksStale(t *testing.T) {
	h := startIngestor(t)

	h.source.msgs <- domain.BookSnapshotMsg{Ticker: "A", Seq: 1}
	waitFor(t, func() bool {
		b, ok := h.tracker.Get("A")
		return ok && b.Live()
	}, "snapshot never applied")

	h.source.reconnects <- struct{}{}
	waitFor(t, func() bool {
		b, _ := h.tracker.Get("A")
		return b.State() == book.StateStale
	}, "book not stale after reconnect")
}
