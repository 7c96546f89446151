package ledger

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

func fill(id, ticker string, side domain.OrderSide, contract domain.ContractSide, qty, price, fee int64) domain.Fill {
	return domain.Fill{
		ID:         id,
		OrderID:    "ord-" + id,
		Ticker:     ticker,
		Side:       side,
		Contract:   contract,
		Quantity:   qty,
		PriceCents: price,
		IsTaker:    true,
		FeeCents:   fee,
		Timestamp:  time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}
}

func TestApplyFillRoundTrip(t *testing.T) {
	l := New(slog.Default())

	if !l.ApplyFill(fill("f1", "KXBTC-26AUG29-T50000", domain.OrderSideBuy, domain.ContractYes, 100, 40, 7)) {
		t.Fatal("first fill rejected")
	}
	pos := l.Position("KXBTC-26AUG29-T50000")
	if pos.NetQuantity != 100 || pos.CostBasisCents != 4000 {
		t.Fatalf("after buy: qty=%d basis=%d", pos.NetQuantity, pos.CostBasisCents)
	}

	// Sell half at 55: realize 50 * (55-40) = 750.
	l.ApplyFill(fill("f2", "KXBTC-26AUG29-T50000", domain.OrderSideSell, domain.ContractYes, 50, 55, 4))
	pos = l.Position("KXBTC-26AUG29-T50000")
	if pos.NetQuantity != 50 || pos.RealizedPnLCents != 750 {
		t.Fatalf("after sell: qty=%d realized=%d", pos.NetQuantity, pos.RealizedPnLCents)
	}
	if pos.CostBasisCents != 2000 {
		t.Fatalf("basis after partial close = %d, want 2000", pos.CostBasisCents)
	}
	if pos.FeesPaidCents != 11 {
		t.Fatalf("fees = %d, want 11", pos.FeesPaidCents)
	}
}

func TestApplyFillNoContractNormalization(t *testing.T) {
	l := New(slog.Default())

	// Buying NO at 40 is shorting YES at 60.
	l.ApplyFill(fill("f1", "KXFED-26SEP-T4.25", domain.OrderSideBuy, domain.ContractNo, 10, 40, 0))
	pos := l.Position("KXFED-26SEP-T4.25")
	if pos.NetQuantity != -10 || pos.CostBasisCents != 600 {
		t.Fatalf("qty=%d basis=%d, want -10/600", pos.NetQuantity, pos.CostBasisCents)
	}

	// Selling NO at 45 buys back YES at 55: realize 10 * (60-55) = 50.
	l.ApplyFill(fill("f2", "KXFED-26SEP-T4.25", domain.OrderSideSell, domain.ContractNo, 10, 45, 0))
	pos = l.Position("KXFED-26SEP-T4.25")
	if pos.NetQuantity != 0 || pos.RealizedPnLCents != 50 {
		t.Fatalf("qty=%d realized=%d, want 0/50", pos.NetQuantity, pos.RealizedPnLCents)
	}
}

func TestApplyFillPositionFlip(t *testing.T) {
	l := New(slog.Default())

	l.ApplyFill(fill("f1", "T", domain.OrderSideBuy, domain.ContractYes, 10, 30, 0))
	// Sell 25: closes 10 (realize 10*(50-30)=200), opens short 15 at 50.
	l.ApplyFill(fill("f2", "T", domain.OrderSideSell, domain.ContractYes, 25, 50, 0))

	pos := l.Position("T")
	if pos.NetQuantity != -15 {
		t.Fatalf("qty = %d, want -15", pos.NetQuantity)
	}
	if pos.RealizedPnLCents != 200 {
		t.Fatalf("realized = %d, want 200", pos.RealizedPnLCents)
	}
	if pos.CostBasisCents != 750 {
		t.Fatalf("basis = %d, want 750", pos.CostBasisCents)
	}
}

func TestApplyFillDeduplicates(t *testing.T) {
	l := New(slog.Default())

	f := fill("f1", "T", domain.OrderSideBuy, domain.ContractYes, 10, 30, 2)
	if !l.ApplyFill(f) {
		t.Fatal("first apply rejected")
	}
	if l.ApplyFill(f) {
		t.Fatal("duplicate fill applied")
	}
	if pos := l.Position("T"); pos.NetQuantity != 10 || pos.FeesPaidCents != 2 {
		t.Fatalf("position double-counted: %+v", pos)
	}
}

func TestRealizedOnDayIncludesFees(t *testing.T) {
	l := New(slog.Default())

	l.ApplyFill(fill("f1", "T", domain.OrderSideBuy, domain.ContractYes, 10, 30, 5))
	l.ApplyFill(fill("f2", "T", domain.OrderSideSell, domain.ContractYes, 10, 40, 5))

	day := time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC)
	// 10*(40-30) = 100 gross, minus 10 in fees.
	if got := l.RealizedOnDayCents(day); got != 90 {
		t.Fatalf("realized on day = %d, want 90", got)
	}
	if got := l.RealizedOnDayCents(day.AddDate(0, 0, 1)); got != 0 {
		t.Fatalf("realized on other day = %d, want 0", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	l := New(slog.Default())
	l.ApplyFill(fill("f1", "A", domain.OrderSideBuy, domain.ContractYes, 10, 30, 1))
	l.ApplyFill(fill("f2", "B", domain.OrderSideBuy, domain.ContractYes, 5, 60, 1))

	snap := l.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var decoded domain.LedgerSnapshot
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	restored := New(slog.Default())
	restored.Restore(decoded)

	if pos := restored.Position("A"); pos.NetQuantity != 10 || pos.CostBasisCents != 300 {
		t.Fatalf("restored position A: %+v", pos)
	}
	// Dedup state survives the round trip.
	if restored.ApplyFill(fill("f1", "A", domain.OrderSideBuy, domain.ContractYes, 10, 30, 1)) {
		t.Fatal("replayed fill applied after restore")
	}
	if got := restored.RealizedOnDayCents(time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)); got != -2 {
		t.Fatalf("restored realized = %d, want -2", got)
	}
}

func TestTotalExposureCents(t *testing.T) {
	l := New(slog.Default())
	l.ApplyFill(fill("f1", "A", domain.OrderSideBuy, domain.ContractYes, 10, 30, 0))
	l.ApplyFill(fill("f2", "B", domain.OrderSideSell, domain.ContractYes, 5, 60, 0))

	marks := map[string]int64{"A": 35, "B": 55}
	// |10|*35 + |-5|*55 = 350 + 275.
	if got := l.TotalExposureCents(marks); got != 625 {
		t.Fatalf("exposure = %d, want 625", got)
	}
}
