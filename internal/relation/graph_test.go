package relation

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

func TestParseTicker(t *testing.T) {
	tests := []struct {
		ticker string
		series string
		date   string
		kind   domain.StrikeKind
		strike float64
	}{
		{"HIGHNY-22DEC23-T53.5", "HIGHNY", "22DEC23", domain.StrikeAbove, 53.5},
		{"HIGHNY-22DEC23-B53.5", "HIGHNY", "22DEC23", domain.StrikeBelow, 53.5},
		{"KXFED-23DEC-E2", "KXFED", "23DEC", domain.StrikeExactly, 2},
		{"KXFED-23DEC-R2.5", "KXFED", "23DEC", domain.StrikeBetween, 0},
		{"KXFED", "KXFED", "", domain.StrikeNone, 0},
		{"HIGHNY-22DEC23-X5", "HIGHNY", "22DEC23", domain.StrikeNone, 0},
	}
	for _, tt := range tests {
		t.Run(tt.ticker, func(t *testing.T) {
			got := ParseTicker(tt.ticker)
			if got.Series != tt.series || got.Date != tt.date || got.Kind != tt.kind || got.Strike != tt.strike {
				t.Errorf("ParseTicker(%q) = %+v", tt.ticker, got)
			}
		})
	}
}

func mkt(ticker string) domain.Market {
	return domain.Market{Ticker: ticker, Status: domain.MarketStatusActive}
}

func findRel(rels []domain.Relationship, a, b string) (domain.Relationship, bool) {
	for _, r := range rels {
		if r.A == a && r.B == b {
			return r, true
		}
	}
	return domain.Relationship{}, false
}

func TestClassifyAboveThresholds(t *testing.T) {
	rels := Classify([]domain.Market{
		mkt("HIGHNY-22DEC23-T53.5"),
		mkt("HIGHNY-22DEC23-T55.0"),
		mkt("HIGHNY-22DEC23-T60.0"),
	})

	// The stricter (higher) threshold must be the subset side.
	r, ok := findRel(rels, "HIGHNY-22DEC23-T55.0", "HIGHNY-22DEC23-T53.5")
	if !ok || r.Kind != domain.RelationSubset {
		t.Errorf("T55 subset T53.5 missing, got %+v", rels)
	}
	r, ok = findRel(rels, "HIGHNY-22DEC23-T60.0", "HIGHNY-22DEC23-T55.0")
	if !ok || r.Kind != domain.RelationSubset {
		t.Errorf("T60 subset T55 missing")
	}
}

func TestClassifyBelowAndExactly(t *testing.T) {
	rels := Classify([]domain.Market{
		mkt("HIGHNY-22DEC23-B50.0"),
		mkt("HIGHNY-22DEC23-B55.0"),
		mkt("KXFED-23DEC-E2"),
		mkt("KXFED-23DEC-E3"),
	})

	// Below: the lower threshold is stricter.
	r, ok := findRel(rels, "HIGHNY-22DEC23-B50.0", "HIGHNY-22DEC23-B55.0")
	if !ok || r.Kind != domain.RelationSubset {
		t.Errorf("B50 subset B55 missing, rels=%v", rels)
	}

	// Differing exactly-values are mutually exclusive.
	r, ok = findRel(rels, "KXFED-23DEC-E2", "KXFED-23DEC-E3")
	if !ok || r.Kind != domain.RelationDisjoint {
		t.Errorf("E2 disjoint E3 missing")
	}
}

func TestClassifySkipsDifferentFamilies(t *testing.T) {
	rels := Classify([]domain.Market{
		mkt("HIGHNY-22DEC23-T53.5"),
		mkt("HIGHNY-23DEC23-T55.0"), // different date
		mkt("HIGHCHI-22DEC23-T55.0"), // different series
		mkt("HIGHNY-22DEC23-B55.0"),  // different strike kind
	})
	if len(rels) != 0 {
		t.Errorf("Classify across families = %v, want none", rels)
	}
}

func TestSubsetChainCollapses(t *testing.T) {
	g := NewGraph(0, slog.Default())
	snap := g.Refresh([]domain.Market{
		mkt("HIGHNY-22DEC23-T53.5"),
		mkt("HIGHNY-22DEC23-T55.0"),
		mkt("HIGHNY-22DEC23-T60.0"),
	}, nil)

	// T60 subset T53.5 is only reachable transitively through T55.
	r, ok := findRel(snap.All(), "HIGHNY-22DEC23-T60.0", "HIGHNY-22DEC23-T53.5")
	if !ok || r.Kind != domain.RelationSubset {
		t.Errorf("transitive T60 subset T53.5 missing")
	}
}

func TestRefreshSwapsAtomically(t *testing.T) {
	g := NewGraph(0, slog.Default())

	first := g.Refresh([]domain.Market{
		mkt("HIGHNY-22DEC23-T53.5"),
		mkt("HIGHNY-22DEC23-T55.0"),
	}, nil)
	if first.Epoch != 1 {
		t.Fatalf("first epoch = %d, want 1", first.Epoch)
	}

	second := g.Refresh(nil, []domain.Relationship{
		{A: "X", B: "Y", Kind: domain.RelationComplement, Reason: "configured"},
	})
	if second.Epoch != 2 {
		t.Fatalf("second epoch = %d, want 2", second.Epoch)
	}

	cur, err := g.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if len(cur.Related("HIGHNY-22DEC23-T53.5")) != 0 {
		t.Error("old epoch edges visible after refresh")
	}
	if len(cur.Related("X")) != 1 {
		t.Error("configured complement missing from new epoch")
	}
}

func TestCurrentStale(t *testing.T) {
	g := NewGraph(time.Nanosecond, slog.Default())
	g.Refresh([]domain.Market{mkt("HIGHNY-22DEC23-T53.5")}, nil)
	time.Sleep(time.Millisecond)

	if _, err := g.Current(); !errors.Is(err, domain.ErrStaleGraph) {
		t.Fatalf("Current on overdue graph err = %v, want ErrStaleGraph", err)
	}

	// Fresh graph that has never been refreshed is also unusable.
	g2 := NewGraph(time.Hour, slog.Default())
	if _, err := g2.Current(); !errors.Is(err, domain.ErrStaleGraph) {
		t.Fatalf("Current before first refresh err = %v, want ErrStaleGraph", err)
	}
}
