// Package detector evaluates market pairs against the relationship graph on
// every book change and queues fee-adjusted opportunities for arbitration.
package detector

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/book"
	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/fees"
	"github.com/moltenlava16/kalshi-arbitrage/internal/metrics"
	"github.com/moltenlava16/kalshi-arbitrage/internal/relation"
)

// Config holds detection thresholds. Immutable after construction.
type Config struct {
	// MinNetProfitCents is the minimum fee-adjusted profit per contract
	// required to emit an opportunity.
	MinNetProfitCents int64
	// MaxLegSize caps the evaluated quantity per leg.
	MaxLegSize int64
	// ComplementToleranceCents is the band around 100 within which a
	// complement pair is considered fairly priced.
	ComplementToleranceCents int64
}

// Detector turns book-change notifications into ranked opportunities. It is
// stateless apart from the monotonic opportunity counter; detection for
// independent pairs may run concurrently.
type Detector struct {
	cfg    Config
	books  *book.Tracker
	graph  *relation.Graph
	fees   fees.Model
	queue  *Queue
	logger *slog.Logger

	nextID atomic.Uint64
	now    func() time.Time
}

// New creates a Detector publishing into queue.
func New(cfg Config, books *book.Tracker, graph *relation.Graph, feeModel fees.Model, queue *Queue, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		books:  books,
		graph:  graph,
		fees:   feeModel,
		queue:  queue,
		logger: logger.With(slog.String("component", "detector")),
		now:    time.Now,
	}
}

// OnBookChange evaluates every relationship involving ticker. It satisfies
// book.ChangeFunc and runs on the ingestion goroutine, so each pair is a
// constant amount of work against the best levels only.
func (d *Detector) OnBookChange(ticker string) {
	start := d.now()
	snap, err := d.graph.Current()
	if err != nil {
		if errors.Is(err, domain.ErrStaleGraph) {
			d.logger.Warn("skipping detection on stale graph", slog.String("ticker", ticker))
			return
		}
		d.logger.Error("relationship graph unavailable", slog.String("error", err.Error()))
		return
	}

	for _, rel := range snap.Related(ticker) {
		if opp := d.evaluate(rel); opp != nil {
			d.emit(opp)
		}
	}
	metrics.DetectionLatency.Observe(d.now().Sub(start).Seconds())
}

// evaluate checks one relationship and returns the best violation found, or
// nil when the pair prices within bounds or a book is not live.
func (d *Detector) evaluate(rel domain.Relationship) *domain.Opportunity {
	bookA, okA := d.books.Get(rel.A)
	bookB, okB := d.books.Get(rel.B)
	if !okA || !okB || !bookA.Live() || !bookB.Live() {
		return nil
	}

	var cands []candidate
	switch rel.Kind {
	case domain.RelationSubset:
		cands = d.subsetCandidates(rel, bookA, bookB)
	case domain.RelationIdentical:
		cands = d.identicalCandidates(rel, bookA, bookB)
	case domain.RelationDisjoint:
		cands = d.disjointCandidates(rel, bookA, bookB)
	case domain.RelationComplement:
		cands = d.complementCandidates(rel, bookA, bookB)
	}

	var best *domain.Opportunity
	for _, c := range cands {
		opp := d.price(rel, c)
		if opp == nil {
			continue
		}
		if best == nil || opp.NetPerContractCents > best.NetPerContractCents {
			best = opp
		}
	}
	return best
}

// candidate is a raw violation before fee adjustment and sizing.
type candidate struct {
	gross int64
	legs  []legQuote
}

// legQuote is one leg at the book level backing it.
type legQuote struct {
	ticker string
	side   domain.OrderSide
	level  domain.PriceLevel
}

// subsetCandidates checks SUBSET(A,B), A the stricter market, requiring
// P(A) <= P(B). Both price directions are checked because subset is
// directional but quotes move on both books.
func (d *Detector) subsetCandidates(rel domain.Relationship, bookA, bookB *book.Book) []candidate {
	var out []candidate

	// A quoted above B's bid: sell A, buy B.
	if askA, ok := bookA.BestAsk(); ok {
		if bidB, ok := bookB.BestBid(); ok && askA.PriceCents > bidB.PriceCents {
			out = append(out, candidate{
				gross: askA.PriceCents - bidB.PriceCents,
				legs: []legQuote{
					{ticker: rel.A, side: domain.OrderSideSell, level: askA},
					{ticker: rel.B, side: domain.OrderSideBuy, level: bidB},
				},
			})
		}
	}
	// Books crossed outright: sell A into its bid, lift B's ask.
	if bidA, ok := bookA.BestBid(); ok {
		if askB, ok := bookB.BestAsk(); ok && bidA.PriceCents > askB.PriceCents {
			out = append(out, candidate{
				gross: bidA.PriceCents - askB.PriceCents,
				legs: []legQuote{
					{ticker: rel.A, side: domain.OrderSideSell, level: bidA},
					{ticker: rel.B, side: domain.OrderSideBuy, level: askB},
				},
			})
		}
	}
	return out
}

// identicalCandidates checks P(A) = P(B): any crossing between the two books
// is exploitable in either direction.
func (d *Detector) identicalCandidates(rel domain.Relationship, bookA, bookB *book.Book) []candidate {
	var out []candidate
	if bidA, ok := bookA.BestBid(); ok {
		if askB, ok := bookB.BestAsk(); ok && bidA.PriceCents > askB.PriceCents {
			out = append(out, candidate{
				gross: bidA.PriceCents - askB.PriceCents,
				legs: []legQuote{
					{ticker: rel.A, side: domain.OrderSideSell, level: bidA},
					{ticker: rel.B, side: domain.OrderSideBuy, level: askB},
				},
			})
		}
	}
	if bidB, ok := bookB.BestBid(); ok {
		if askA, ok := bookA.BestAsk(); ok && bidB.PriceCents > askA.PriceCents {
			out = append(out, candidate{
				gross: bidB.PriceCents - askA.PriceCents,
				legs: []legQuote{
					{ticker: rel.B, side: domain.OrderSideSell, level: bidB},
					{ticker: rel.A, side: domain.OrderSideBuy, level: askA},
				},
			})
		}
	}
	return out
}

// disjointCandidates checks P(A) + P(B) <= 1. When the yes asks sum above
// 100, selling the combined both-yes position locks in the excess.
func (d *Detector) disjointCandidates(rel domain.Relationship, bookA, bookB *book.Book) []candidate {
	askA, okA := bookA.BestAsk()
	askB, okB := bookB.BestAsk()
	if !okA || !okB {
		return nil
	}
	sum := askA.PriceCents + askB.PriceCents
	if sum <= 100 {
		return nil
	}
	return []candidate{{
		gross: sum - 100,
		legs: []legQuote{
			{ticker: rel.A, side: domain.OrderSideSell, level: askA},
			{ticker: rel.B, side: domain.OrderSideSell, level: askB},
		},
	}}
}

// complementCandidates checks P(A) + P(B) = 1 within the configured
// tolerance; deviation is exploitable in either direction.
func (d *Detector) complementCandidates(rel domain.Relationship, bookA, bookB *book.Book) []candidate {
	askA, okA := bookA.BestAsk()
	askB, okB := bookB.BestAsk()
	if !okA || !okB {
		return nil
	}
	dev := askA.PriceCents + askB.PriceCents - 100
	switch {
	case dev > d.cfg.ComplementToleranceCents:
		// Overpriced as a pair: sell both yes.
		return []candidate{{
			gross: dev,
			legs: []legQuote{
				{ticker: rel.A, side: domain.OrderSideSell, level: askA},
				{ticker: rel.B, side: domain.OrderSideSell, level: askB},
			},
		}}
	case dev < -d.cfg.ComplementToleranceCents:
		// Underpriced: buy both yes, exactly one pays out 100.
		return []candidate{{
			gross: -dev,
			legs: []legQuote{
				{ticker: rel.A, side: domain.OrderSideBuy, level: askA},
				{ticker: rel.B, side: domain.OrderSideBuy, level: askB},
			},
		}}
	}
	return nil
}

// price sizes a candidate against available depth and adjusts for fees.
// Returns nil when net profit per contract falls below the threshold.
func (d *Detector) price(rel domain.Relationship, c candidate) *domain.Opportunity {
	qty := d.cfg.MaxLegSize
	for _, leg := range c.legs {
		if leg.level.Quantity < qty {
			qty = leg.level.Quantity
		}
	}
	if qty <= 0 {
		return nil
	}

	var feeTotal int64
	legs := make([]domain.OpportunityLeg, 0, len(c.legs))
	for _, leg := range c.legs {
		feeTotal += d.fees.TradingFeeCents(leg.level.PriceCents, qty, leg.ticker, false)
		legs = append(legs, domain.OpportunityLeg{
			Ticker:     leg.ticker,
			Side:       leg.side,
			Contract:   domain.ContractYes,
			PriceCents: leg.level.PriceCents,
			Quantity:   qty,
		})
	}

	net := c.gross*qty - feeTotal
	perContract := net / qty
	if perContract < d.cfg.MinNetProfitCents {
		return nil
	}

	return &domain.Opportunity{
		ID:                    d.nextID.Add(1),
		Relation:              rel,
		PairKey:               domain.PairKey(rel.A, rel.B),
		Legs:                  legs,
		Quantity:              qty,
		GrossPerContractCents: c.gross,
		FeeCents:              feeTotal,
		NetProfitCents:        net,
		NetPerContractCents:   perContract,
		DetectedAt:            d.now(),
	}
}

func (d *Detector) emit(opp *domain.Opportunity) {
	d.queue.Push(opp)
	metrics.OpportunitiesDetected.WithLabelValues(string(opp.Relation.Kind)).Inc()
	d.logger.Info("opportunity detected",
		slog.Uint64("id", opp.ID),
		slog.String("pair", opp.PairKey),
		slog.String("relation", string(opp.Relation.Kind)),
		slog.Int64("quantity", opp.Quantity),
		slog.Int64("net_cents", opp.NetProfitCents),
	)
}
