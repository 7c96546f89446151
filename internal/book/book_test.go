package book

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

func lvl(price, qty int64) domain.PriceLevel {
	return domain.PriceLevel{PriceCents: price, Quantity: qty}
}

func TestApplySnapshotSetsBest(t *testing.T) {
	b := New("HIGHNY-22DEC23-T53.5")
	b.ApplySnapshot(10,
		[]domain.PriceLevel{lvl(40, 100), lvl(42, 50), lvl(38, 200)},
		[]domain.PriceLevel{lvl(45, 80), lvl(44, 10), lvl(50, 500)},
	)

	bid, ok := b.BestBid()
	if !ok || bid.PriceCents != 42 || bid.Quantity != 50 {
		t.Fatalf("BestBid = %+v ok=%v, want 42c x50", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || ask.PriceCents != 44 || ask.Quantity != 10 {
		t.Fatalf("BestAsk = %+v ok=%v, want 44c x10", ask, ok)
	}
	if b.Seq() != 10 || b.State() != StateLive {
		t.Fatalf("seq=%d state=%s, want 10 live", b.Seq(), b.State())
	}

	// BestBid is the maximum bid, BestAsk is the minimum ask.
	for _, l := range b.Bids() {
		if l.PriceCents > bid.PriceCents {
			t.Errorf("bid level %d above best bid %d", l.PriceCents, bid.PriceCents)
		}
	}
	for _, l := range b.Asks() {
		if l.PriceCents < ask.PriceCents {
			t.Errorf("ask level %d below best ask %d", l.PriceCents, ask.PriceCents)
		}
	}
}

func TestApplyDeltaInOrder(t *testing.T) {
	b := New("M")
	b.ApplySnapshot(1, []domain.PriceLevel{lvl(40, 100)}, []domain.PriceLevel{lvl(45, 80)})

	err := b.ApplyDelta(2, []domain.LevelChange{
		{Side: domain.BookSideBid, PriceCents: 41, Delta: 30},
		{Side: domain.BookSideAsk, PriceCents: 45, Delta: -80},
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	bid, _ := b.BestBid()
	if bid.PriceCents != 41 {
		t.Errorf("BestBid = %d, want 41", bid.PriceCents)
	}
	// The 45c ask dropped to zero quantity and must no longer be returned.
	if _, ok := b.BestAsk(); ok {
		t.Error("BestAsk returned a zero-quantity level")
	}
	if got := b.DepthAt(domain.BookSideAsk, 45); got != 0 {
		t.Errorf("DepthAt(ask, 45) = %d, want 0", got)
	}
}

func TestSequenceGapMarksStaleWithoutMutation(t *testing.T) {
	b := New("M")
	b.ApplySnapshot(5, []domain.PriceLevel{lvl(40, 100)}, nil)

	err := b.ApplyDelta(7, []domain.LevelChange{
		{Side: domain.BookSideBid, PriceCents: 40, Delta: -100},
	})
	if !errors.Is(err, domain.ErrSequenceGap) {
		t.Fatalf("err = %v, want ErrSequenceGap", err)
	}
	if b.State() != StateStale {
		t.Fatalf("state = %s, want stale", b.State())
	}
	// The gap delta must not have touched the ladder.
	if got := b.DepthAt(domain.BookSideBid, 40); got != 100 {
		t.Errorf("DepthAt(bid, 40) = %d after gap, want 100 (unchanged)", got)
	}
	// A stale book exposes no best levels.
	if _, ok := b.BestBid(); ok {
		t.Error("stale book returned a best bid")
	}

	// Further deltas are refused until a snapshot re-synchronizes.
	if err := b.ApplyDelta(8, nil); !errors.Is(err, domain.ErrBookStale) {
		t.Fatalf("delta on stale book err = %v, want ErrBookStale", err)
	}
	b.ApplySnapshot(20, []domain.PriceLevel{lvl(41, 10)}, nil)
	if b.State() != StateLive || b.Seq() != 20 {
		t.Fatalf("after resync state=%s seq=%d, want live 20", b.State(), b.Seq())
	}
}

func TestTrackerNotifiesOnApply(t *testing.T) {
	var changed []string
	tr := NewTracker(func(ticker string) { changed = append(changed, ticker) }, slog.Default())

	tr.ApplySnapshot(domain.BookSnapshotMsg{Ticker: "A", Seq: 1, Bids: []domain.PriceLevel{lvl(30, 5)}})
	if err := tr.ApplyDelta(domain.BookDeltaMsg{Ticker: "A", Seq: 2, Changes: []domain.LevelChange{
		{Side: domain.BookSideBid, PriceCents: 31, Delta: 5},
	}}); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	if len(changed) != 2 || changed[0] != "A" || changed[1] != "A" {
		t.Fatalf("change notifications = %v, want [A A]", changed)
	}

	// A gap produces no notification.
	err := tr.ApplyDelta(domain.BookDeltaMsg{Ticker: "A", Seq: 9})
	if !errors.Is(err, domain.ErrSequenceGap) {
		t.Fatalf("err = %v, want ErrSequenceGap", err)
	}
	if len(changed) != 2 {
		t.Fatalf("gap emitted a change notification")
	}
}

func TestMarkAllStale(t *testing.T) {
	tr := NewTracker(nil, slog.Default())
	tr.ApplySnapshot(domain.BookSnapshotMsg{Ticker: "A", Seq: 1})
	tr.ApplySnapshot(domain.BookSnapshotMsg{Ticker: "B", Seq: 4})

	tr.MarkAllStale()

	for _, ticker := range []string{"A", "B"} {
		b, ok := tr.Get(ticker)
		if !ok || b.State() != StateStale {
			t.Errorf("book %s state = %v, want stale", ticker, b.State())
		}
	}
}
