package relation

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

// Snapshot is one immutable graph epoch. Refresh replaces the whole snapshot
// atomically; readers never observe a half-updated graph.
type Snapshot struct {
	Epoch    uint64
	BuiltAt  time.Time
	all      []domain.Relationship
	byTicker map[string][]domain.Relationship
}

// All returns every relationship in this epoch.
func (s *Snapshot) All() []domain.Relationship { return s.all }

// Related returns the relationships involving the given market, ordered
// deterministically by counterparty ticker then kind. The returned
// relationships preserve A/B roles as classified.
func (s *Snapshot) Related(ticker string) []domain.Relationship {
	return s.byTicker[ticker]
}

// Graph serves the current relationship snapshot. It flags itself stale when
// the last refresh is older than maxAge, which suspends detection for the
// affected markets rather than acting on an outdated graph.
type Graph struct {
	cur    atomic.Pointer[Snapshot]
	epoch  atomic.Uint64
	maxAge time.Duration
	logger *slog.Logger
}

// NewGraph creates an empty graph. maxAge <= 0 disables staleness checks.
func NewGraph(maxAge time.Duration, logger *slog.Logger) *Graph {
	g := &Graph{
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "relation_graph")),
	}
	g.cur.Store(&Snapshot{byTicker: map[string][]domain.Relationship{}})
	return g
}

// Refresh reclassifies the full market set plus any statically configured
// relationships and swaps in the new snapshot. Refresh is idempotent for a
// given input set.
func (g *Graph) Refresh(markets []domain.Market, static []domain.Relationship) *Snapshot {
	rels := Classify(markets)
	rels = append(rels, static...)
	rels = append(rels, subsetChains(rels, 4)...)

	byTicker := make(map[string][]domain.Relationship)
	for _, r := range rels {
		byTicker[r.A] = append(byTicker[r.A], r)
		byTicker[r.B] = append(byTicker[r.B], r)
	}
	for _, edges := range byTicker {
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].A != edges[j].A {
				return edges[i].A < edges[j].A
			}
			if edges[i].B != edges[j].B {
				return edges[i].B < edges[j].B
			}
			return edges[i].Kind < edges[j].Kind
		})
	}

	snap := &Snapshot{
		Epoch:    g.epoch.Add(1),
		BuiltAt:  time.Now().UTC(),
		all:      rels,
		byTicker: byTicker,
	}
	g.cur.Store(snap)
	g.logger.Info("relationship graph refreshed",
		slog.Uint64("epoch", snap.Epoch),
		slog.Int("markets", len(markets)),
		slog.Int("relationships", len(rels)),
	)
	return snap
}

// Current returns the active snapshot, or ErrStaleGraph when the refresh is
// overdue.
func (g *Graph) Current() (*Snapshot, error) {
	snap := g.cur.Load()
	if g.maxAge > 0 && !snap.BuiltAt.IsZero() && time.Since(snap.BuiltAt) > g.maxAge {
		return nil, fmt.Errorf("relation: epoch %d built %s ago: %w",
			snap.Epoch, time.Since(snap.BuiltAt).Truncate(time.Second), domain.ErrStaleGraph)
	}
	if snap.BuiltAt.IsZero() {
		return nil, fmt.Errorf("relation: no refresh yet: %w", domain.ErrStaleGraph)
	}
	return snap, nil
}

// Classify derives relationships between all comparable market pairs using
// the deterministic threshold rule: within one numeric-threshold family,
// the stricter condition is a subset of the looser one.
func Classify(markets []domain.Market) []domain.Relationship {
	infos := make([]TickerInfo, len(markets))
	for i, m := range markets {
		infos[i] = ParseTicker(m.Ticker)
	}

	var rels []domain.Relationship
	for i := range infos {
		for j := i + 1; j < len(infos); j++ {
			if r, ok := classifyPair(infos[i], infos[j]); ok {
				rels = append(rels, r)
			}
		}
	}
	return rels
}

// classifyPair returns the relationship between two parsed tickers, with A
// always the stricter market for subset relations.
func classifyPair(a, b TickerInfo) (domain.Relationship, bool) {
	if !a.Comparable(b) {
		return domain.Relationship{}, false
	}

	switch a.Kind {
	case domain.StrikeAbove:
		// "above 400" implies "above 300": higher threshold is stricter.
		switch {
		case a.Strike > b.Strike:
			return subsetRel(a, b), true
		case a.Strike < b.Strike:
			return subsetRel(b, a), true
		default:
			return identicalRel(a, b), true
		}
	case domain.StrikeBelow:
		// "below 300" implies "below 400": lower threshold is stricter.
		switch {
		case a.Strike < b.Strike:
			return subsetRel(a, b), true
		case a.Strike > b.Strike:
			return subsetRel(b, a), true
		default:
			return identicalRel(a, b), true
		}
	case domain.StrikeExactly:
		if a.Strike != b.Strike {
			return domain.Relationship{
				A:      a.Ticker,
				B:      b.Ticker,
				Kind:   domain.RelationDisjoint,
				Reason: fmt.Sprintf("cannot be both exactly %v and exactly %v", a.Strike, b.Strike),
			}, true
		}
		return identicalRel(a, b), true
	}
	return domain.Relationship{}, false
}

func subsetRel(strict, loose TickerInfo) domain.Relationship {
	return domain.Relationship{
		A:      strict.Ticker,
		B:      loose.Ticker,
		Kind:   domain.RelationSubset,
		Reason: fmt.Sprintf("%v is stricter than %v", strict.Strike, loose.Strike),
	}
}

func identicalRel(a, b TickerInfo) domain.Relationship {
	return domain.Relationship{
		A:      a.Ticker,
		B:      b.Ticker,
		Kind:   domain.RelationIdentical,
		Reason: fmt.Sprintf("same condition at %v", a.Strike),
	}
}

// subsetChains walks the subset digraph and emits the transitive endpoint
// pairs (A subset B subset C collapses to A subset C) up to maxDepth hops, so chained
// mispricings surface as ordinary pairwise opportunities.
func subsetChains(rels []domain.Relationship, maxDepth int) []domain.Relationship {
	next := make(map[string][]string)
	direct := make(map[string]bool)
	for _, r := range rels {
		if r.Kind != domain.RelationSubset {
			continue
		}
		next[r.A] = append(next[r.A], r.B)
		direct[r.A+"|"+r.B] = true
	}

	var chains []domain.Relationship
	seen := make(map[string]bool)
	var walk func(origin, cur string, depth int)
	walk = func(origin, cur string, depth int) {
		if depth >= maxDepth {
			return
		}
		for _, to := range next[cur] {
			if to == origin {
				continue
			}
			key := origin + "|" + to
			if depth >= 1 && !direct[key] && !seen[key] {
				seen[key] = true
				chains = append(chains, domain.Relationship{
					A:      origin,
					B:      to,
					Kind:   domain.RelationSubset,
					Reason: "transitive subset chain",
				})
			}
			walk(origin, to, depth+1)
		}
	}
	for origin := range next {
		walk(origin, origin, 0)
	}
	return chains
}
