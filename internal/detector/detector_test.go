package detector

import (
	"log/slog"
	"testing"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/book"
	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/relation"
)

// flatFee charges a fixed amount per contract per leg, ignoring price.
type flatFee int64

func (f flatFee) TradingFeeCents(_, contracts int64, _ string, _ bool) int64 {
	return int64(f) * contracts
}

type fixture struct {
	tracker *book.Tracker
	queue   *Queue
}

// newFixture wires a tracker, a graph holding the given relationships, and a
// detector listening on book changes.
func newFixture(t *testing.T, cfg Config, fee flatFee, rels []domain.Relationship) *fixture {
	t.Helper()
	g := relation.NewGraph(time.Hour, slog.Default())
	g.Refresh(nil, rels)

	q := NewQueue(16)
	var det *Detector
	tr := book.NewTracker(func(ticker string) { det.OnBookChange(ticker) }, slog.Default())
	det = New(cfg, tr, g, fee, q, slog.Default())
	return &fixture{tracker: tr, queue: q}
}

func snapshot(ticker string, seq uint64, bids, asks []domain.PriceLevel) domain.BookSnapshotMsg {
	return domain.BookSnapshotMsg{
		Ticker:     ticker,
		Seq:        seq,
		Bids:       bids,
		Asks:       asks,
		ReceivedAt: time.Now(),
	}
}

func TestSubsetViolationEmitsGrossAndNet(t *testing.T) {
	rels := []domain.Relationship{{A: "A", B: "B", Kind: domain.RelationSubset, Reason: "test"}}

	// ask(A)=30, bid(B)=25: gross 5 per contract, fee 1 per side -> net 3.
	fx := newFixture(t, Config{MinNetProfitCents: 1, MaxLegSize: 50}, 1, rels)
	fx.tracker.ApplySnapshot(snapshot("A", 1,
		[]domain.PriceLevel{{PriceCents: 28, Quantity: 100}},
		[]domain.PriceLevel{{PriceCents: 30, Quantity: 100}}))
	fx.tracker.ApplySnapshot(snapshot("B", 1,
		[]domain.PriceLevel{{PriceCents: 25, Quantity: 100}},
		[]domain.PriceLevel{{PriceCents: 35, Quantity: 100}}))

	opp, ok := fx.queue.Pop()
	if !ok {
		t.Fatal("no opportunity emitted")
	}
	if opp.GrossPerContractCents != 5 {
		t.Fatalf("gross = %d, want 5", opp.GrossPerContractCents)
	}
	if opp.NetPerContractCents != 3 {
		t.Fatalf("net per contract = %d, want 3", opp.NetPerContractCents)
	}
	if opp.Quantity != 50 {
		t.Fatalf("quantity = %d, want capped 50", opp.Quantity)
	}
	if len(opp.Legs) != 2 || opp.Legs[0].Side != domain.OrderSideSell || opp.Legs[1].Side != domain.OrderSideBuy {
		t.Fatalf("unexpected legs: %+v", opp.Legs)
	}
	if opp.Legs[0].Ticker != "A" || opp.Legs[1].Ticker != "B" {
		t.Fatalf("legs reference wrong markets: %+v", opp.Legs)
	}
}

func TestSubsetBelowThresholdNotEmitted(t *testing.T) {
	rels := []domain.Relationship{{A: "A", B: "B", Kind: domain.RelationSubset, Reason: "test"}}

	// Net 3 per contract against a threshold of 5: discarded, not queued.
	fx := newFixture(t, Config{MinNetProfitCents: 5, MaxLegSize: 50}, 1, rels)
	fx.tracker.ApplySnapshot(snapshot("A", 1, nil,
		[]domain.PriceLevel{{PriceCents: 30, Quantity: 100}}))
	fx.tracker.ApplySnapshot(snapshot("B", 1,
		[]domain.PriceLevel{{PriceCents: 25, Quantity: 100}}, nil))

	if _, ok := fx.queue.Pop(); ok {
		t.Fatal("opportunity emitted below threshold")
	}
}

func TestDisjointAskSumViolation(t *testing.T) {
	rels := []domain.Relationship{{A: "A", B: "B", Kind: domain.RelationDisjoint, Reason: "test"}}

	fx := newFixture(t, Config{MinNetProfitCents: 1, MaxLegSize: 100}, 0, rels)
	fx.tracker.ApplySnapshot(snapshot("A", 1, nil,
		[]domain.PriceLevel{{PriceCents: 60, Quantity: 40}}))
	fx.tracker.ApplySnapshot(snapshot("B", 1, nil,
		[]domain.PriceLevel{{PriceCents: 55, Quantity: 70}}))

	opp, ok := fx.queue.Pop()
	if !ok {
		t.Fatal("no opportunity emitted")
	}
	if opp.GrossPerContractCents != 15 {
		t.Fatalf("gross = %d, want 15", opp.GrossPerContractCents)
	}
	if opp.Quantity != 40 {
		t.Fatalf("quantity = %d, want depth-limited 40", opp.Quantity)
	}
	for _, leg := range opp.Legs {
		if leg.Side != domain.OrderSideSell {
			t.Fatalf("disjoint violation must sell both, got %+v", leg)
		}
	}
}

func TestComplementDeviationBothDirections(t *testing.T) {
	rels := []domain.Relationship{{A: "A", B: "B", Kind: domain.RelationComplement, Reason: "test"}}

	// Asks sum to 90: underpriced, buy both.
	fx := newFixture(t, Config{MinNetProfitCents: 1, MaxLegSize: 100, ComplementToleranceCents: 2}, 0, rels)
	fx.tracker.ApplySnapshot(snapshot("A", 1, nil,
		[]domain.PriceLevel{{PriceCents: 40, Quantity: 30}}))
	fx.tracker.ApplySnapshot(snapshot("B", 1, nil,
		[]domain.PriceLevel{{PriceCents: 50, Quantity: 30}}))

	opp, ok := fx.queue.Pop()
	if !ok {
		t.Fatal("no opportunity for underpriced pair")
	}
	if opp.GrossPerContractCents != 10 {
		t.Fatalf("gross = %d, want 10", opp.GrossPerContractCents)
	}
	for _, leg := range opp.Legs {
		if leg.Side != domain.OrderSideBuy {
			t.Fatalf("underpriced complement must buy both, got %+v", leg)
		}
	}

	// Move A's ask so the sum is 105: overpriced, sell both.
	fx.tracker.ApplySnapshot(snapshot("A", 2, nil,
		[]domain.PriceLevel{{PriceCents: 55, Quantity: 30}}))
	opp, ok = fx.queue.Pop()
	if !ok {
		t.Fatal("no opportunity for overpriced pair")
	}
	if opp.GrossPerContractCents != 5 {
		t.Fatalf("gross = %d, want 5", opp.GrossPerContractCents)
	}
	for _, leg := range opp.Legs {
		if leg.Side != domain.OrderSideSell {
			t.Fatalf("overpriced complement must sell both, got %+v", leg)
		}
	}
}

func TestComplementWithinToleranceSilent(t *testing.T) {
	rels := []domain.Relationship{{A: "A", B: "B", Kind: domain.RelationComplement, Reason: "test"}}

	fx := newFixture(t, Config{MinNetProfitCents: 1, MaxLegSize: 100, ComplementToleranceCents: 2}, 0, rels)
	fx.tracker.ApplySnapshot(snapshot("A", 1, nil,
		[]domain.PriceLevel{{PriceCents: 48, Quantity: 30}}))
	fx.tracker.ApplySnapshot(snapshot("B", 1, nil,
		[]domain.PriceLevel{{PriceCents: 53, Quantity: 30}}))

	if _, ok := fx.queue.Pop(); ok {
		t.Fatal("opportunity emitted within tolerance")
	}
}

func TestNoEmitOnStaleBook(t *testing.T) {
	rels := []domain.Relationship{{A: "A", B: "B", Kind: domain.RelationDisjoint, Reason: "test"}}

	fx := newFixture(t, Config{MinNetProfitCents: 1, MaxLegSize: 100}, 0, rels)
	fx.tracker.ApplySnapshot(snapshot("A", 1, nil,
		[]domain.PriceLevel{{PriceCents: 60, Quantity: 40}}))
	fx.tracker.ApplySnapshot(snapshot("B", 1, nil,
		[]domain.PriceLevel{{PriceCents: 55, Quantity: 70}}))
	for fx.queue.Len() > 0 {
		fx.queue.Pop()
	}

	// A gap on B invalidates its book; the next change on A must not price
	// against the stale ladder.
	_ = fx.tracker.ApplyDelta(domain.BookDeltaMsg{Ticker: "B", Seq: 5})
	fx.tracker.ApplySnapshot(snapshot("A", 2, nil,
		[]domain.PriceLevel{{PriceCents: 62, Quantity: 40}}))

	if _, ok := fx.queue.Pop(); ok {
		t.Fatal("opportunity emitted against stale book")
	}
}

func opp(id uint64, pair string, net int64, at time.Time) *domain.Opportunity {
	return &domain.Opportunity{
		ID:             id,
		PairKey:        pair,
		NetProfitCents: net,
		DetectedAt:     at,
	}
}

func TestQueueOrdering(t *testing.T) {
	q := NewQueue(8)
	base := time.Now()

	q.Push(opp(1, "a|b", 10, base))
	q.Push(opp(2, "c|d", 30, base.Add(time.Second)))
	q.Push(opp(3, "e|f", 30, base.Add(2*time.Second)))
	q.Push(opp(4, "g|h", 20, base.Add(3*time.Second)))

	var got []uint64
	for {
		o, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, o.ID)
	}
	// Net descending, detection time ascending on ties.
	want := []uint64{2, 3, 4, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestQueueSupersedesSamePair(t *testing.T) {
	q := NewQueue(8)
	base := time.Now()

	q.Push(opp(1, "a|b", 10, base))
	q.Push(opp(2, "a|b", 7, base.Add(time.Second)))

	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	o, _ := q.Pop()
	if o.ID != 2 {
		t.Fatalf("kept id %d, want latest detection 2", o.ID)
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(2)
	base := time.Now()

	q.Push(opp(1, "a|b", 50, base))
	q.Push(opp(2, "c|d", 10, base.Add(time.Second)))
	if !q.Push(opp(1, "a|b", 50, base)) {
		t.Fatal("supersede counted as displacement")
	}
	if q.Push(opp(3, "e|f", 20, base.Add(2*time.Second))) {
		t.Fatal("push into full queue reported no displacement")
	}

	if q.Len() != 2 {
		t.Fatalf("queue len = %d, want 2", q.Len())
	}
	// Entry 1 was oldest by detection time and must be gone despite its
	// higher priority.
	for {
		o, ok := q.Pop()
		if !ok {
			break
		}
		if o.ID == 1 {
			t.Fatal("oldest entry survived overflow")
		}
	}
}
