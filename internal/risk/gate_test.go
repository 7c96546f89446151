package risk

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/ledger"
)

func allActive(string) (domain.MarketStatus, bool) {
	return domain.MarketStatusActive, true
}

func testLimits() Limits {
	return Limits{
		CapitalCents:          1_000_000,
		MaxPositionPerMarket:  1_000,
		MaxTotalExposureCents: 100_000,
		MaxConcentrationPct:   0,
		MaxDailyLossCents:     50_000,
	}
}

// twoLegOpp builds a buy/sell pair with the given id and per-leg quantity.
func twoLegOpp(id uint64, qty int64) *domain.Opportunity {
	return &domain.Opportunity{
		ID:      id,
		PairKey: domain.PairKey("A", "B"),
		Legs: []domain.OpportunityLeg{
			{Ticker: "A", Side: domain.OrderSideSell, Contract: domain.ContractYes, PriceCents: 60, Quantity: qty},
			{Ticker: "B", Side: domain.OrderSideBuy, Contract: domain.ContractYes, PriceCents: 55, Quantity: qty},
		},
		Quantity:   qty,
		DetectedAt: time.Now(),
	}
}

func TestCheckDeniesOverExposure(t *testing.T) {
	limits := testLimits()
	limits.MaxTotalExposureCents = 10_000
	g := NewGate(limits, ledger.New(slog.Default()), allActive, slog.Default())

	// Two legs at 60 and 55 cents for 100 contracts: 11,500 cents exposure.
	err := g.Check(twoLegOpp(1, 100))
	if !errors.Is(err, domain.ErrRiskDenied) {
		t.Fatalf("expected exposure denial, got %v", err)
	}
}

func TestCheckReservationBlocksJointBreach(t *testing.T) {
	limits := testLimits()
	limits.MaxTotalExposureCents = 15_000
	g := NewGate(limits, ledger.New(slog.Default()), allActive, slog.Default())

	// Each opportunity alone fits (11,500 cents); together they do not.
	if err := g.Check(twoLegOpp(1, 100)); err != nil {
		t.Fatalf("first check denied: %v", err)
	}
	if err := g.Check(twoLegOpp(2, 100)); !errors.Is(err, domain.ErrRiskDenied) {
		t.Fatalf("second check must hit the reservation, got %v", err)
	}

	// Releasing the first frees the capacity for a fresh opportunity.
	g.Release(1)
	if err := g.Check(twoLegOpp(3, 100)); err != nil {
		t.Fatalf("check after release denied: %v", err)
	}
}

func TestDenialIsTerminalPerOpportunity(t *testing.T) {
	limits := testLimits()
	limits.MaxTotalExposureCents = 15_000
	g := NewGate(limits, ledger.New(slog.Default()), allActive, slog.Default())

	if err := g.Check(twoLegOpp(1, 100)); err != nil {
		t.Fatalf("first check denied: %v", err)
	}
	if err := g.Check(twoLegOpp(2, 100)); err == nil {
		t.Fatal("second check approved over limit")
	}
	g.Release(1)

	// Capacity is free again but opportunity 2 stays denied.
	if err := g.Check(twoLegOpp(2, 100)); !errors.Is(err, domain.ErrRiskDenied) {
		t.Fatalf("denied opportunity re-approved: %v", err)
	}
}

func TestConcurrentApprovalsNeverJointlyExceedLimit(t *testing.T) {
	limits := testLimits()
	limits.MaxTotalExposureCents = 40_000
	g := NewGate(limits, ledger.New(slog.Default()), allActive, slog.Default())

	var wg sync.WaitGroup
	var mu sync.Mutex
	var approved int64
	for i := uint64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if g.Check(twoLegOpp(id, 100)) == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// 11,500 cents per approval against a 40,000 limit: at most 3.
	if approved == 0 || approved > 3 {
		t.Fatalf("approved %d concurrent opportunities, want 1..3", approved)
	}
}

func TestFrozenPairDenied(t *testing.T) {
	g := NewGate(testLimits(), ledger.New(slog.Default()), allActive, slog.Default())

	g.FreezePair(domain.PairKey("A", "B"), "unwind exhausted")
	if err := g.Check(twoLegOpp(1, 10)); !errors.Is(err, domain.ErrPairFrozen) {
		t.Fatalf("expected frozen-pair denial, got %v", err)
	}

	g.UnfreezePair(domain.PairKey("A", "B"))
	if err := g.Check(twoLegOpp(2, 10)); err != nil {
		t.Fatalf("check after unfreeze denied: %v", err)
	}
}

func TestInactiveMarketDenied(t *testing.T) {
	status := func(ticker string) (domain.MarketStatus, bool) {
		if ticker == "B" {
			return domain.MarketStatusPaused, true
		}
		return domain.MarketStatusActive, true
	}
	g := NewGate(testLimits(), ledger.New(slog.Default()), status, slog.Default())

	if err := g.Check(twoLegOpp(1, 10)); !errors.Is(err, domain.ErrRiskDenied) {
		t.Fatalf("expected market-status denial, got %v", err)
	}
}

func TestDailyLossLimitDenied(t *testing.T) {
	l := ledger.New(slog.Default())
	now := time.Now().UTC()
	// Realize a 60,000 cent loss today: buy 1000 at 90, sell at 30.
	l.ApplyFill(domain.Fill{
		ID: "f1", Ticker: "X", Side: domain.OrderSideBuy, Contract: domain.ContractYes,
		Quantity: 1000, PriceCents: 90, Timestamp: now,
	})
	l.ApplyFill(domain.Fill{
		ID: "f2", Ticker: "X", Side: domain.OrderSideSell, Contract: domain.ContractYes,
		Quantity: 1000, PriceCents: 30, Timestamp: now,
	})

	limits := testLimits()
	limits.CapitalCents = 10_000_000
	limits.MaxTotalExposureCents = 10_000_000
	g := NewGate(limits, l, allActive, slog.Default())

	if err := g.Check(twoLegOpp(1, 10)); !errors.Is(err, domain.ErrRiskDenied) {
		t.Fatalf("expected daily-loss denial, got %v", err)
	}
}

func TestPerMarketPositionLimit(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionPerMarket = 50
	g := NewGate(limits, ledger.New(slog.Default()), allActive, slog.Default())

	if err := g.Check(twoLegOpp(1, 100)); !errors.Is(err, domain.ErrRiskDenied) {
		t.Fatalf("expected position-limit denial, got %v", err)
	}
}

func TestDenialHistoryBounded(t *testing.T) {
	limits := testLimits()
	limits.MaxTotalExposureCents = 10_000
	g := NewGate(limits, ledger.New(slog.Default()), allActive, slog.Default())

	// Every opportunity breaches the exposure limit, so each check adds a
	// terminal denial entry.
	total := deniedHistoryLimit + 100
	for id := uint64(1); id <= uint64(total); id++ {
		if err := g.Check(twoLegOpp(id, 100)); !errors.Is(err, domain.ErrRiskDenied) {
			t.Fatalf("opportunity %d: expected denial, got %v", id, err)
		}
	}

	g.mu.Lock()
	size := len(g.denied)
	_, oldest := g.denied[1]
	_, newest := g.denied[uint64(total)]
	g.mu.Unlock()

	if size != deniedHistoryLimit {
		t.Fatalf("denied entries = %d, want %d", size, deniedHistoryLimit)
	}
	if oldest {
		t.Fatal("oldest denial not evicted")
	}
	if !newest {
		t.Fatal("newest denial missing")
	}
}
