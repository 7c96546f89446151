// Package risk gates detected opportunities behind position, exposure,
// concentration and loss limits. All checks run against the post-trade
// projected state: the gate reserves capacity when it approves and releases
// it when the execution attempt reaches a terminal state, so two concurrent
// approvals can never jointly breach a limit.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/ledger"
	"github.com/moltenlava16/kalshi-arbitrage/internal/metrics"
)

// Limits is the immutable risk configuration.
type Limits struct {
	CapitalCents          int64 // total bankroll available for open positions
	MaxPositionPerMarket  int64 // absolute contracts per market
	MaxTotalExposureCents int64
	MaxConcentrationPct   int64 // one market's share of total exposure, percent
	MaxDailyLossCents     int64 // realized loss per UTC day, positive number
}

// MarketStatusFunc reports the lifecycle status of a market. The second
// return is false when the market is unknown.
type MarketStatusFunc func(ticker string) (domain.MarketStatus, bool)

// reservation is capacity held for an approved opportunity until its
// execution attempt terminates.
type reservation struct {
	capitalCents  int64
	exposureCents int64
	qtyByMarket   map[string]int64
}

// Gate is the single serialization point of the pipeline. Exposure checks
// are global, so every check holds the one mutex.
type Gate struct {
	limits Limits
	ledger *ledger.Ledger
	status MarketStatusFunc
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	reserved    map[uint64]reservation // opportunity ID -> held capacity
	denied      map[uint64]string      // opportunity ID -> reason, terminal
	deniedOrder []uint64               // insertion order, for bounded eviction
	frozen      map[string]string      // pair key -> freeze reason
}

// deniedHistoryLimit caps the denial memory. Opportunity IDs are issued
// monotonically, so once an ID ages past the window the detector can no
// longer resubmit it and the entry is safe to evict.
const deniedHistoryLimit = 4096

// NewGate creates a Gate reading positions from l.
func NewGate(limits Limits, l *ledger.Ledger, status MarketStatusFunc, logger *slog.Logger) *Gate {
	return &Gate{
		limits:   limits,
		ledger:   l,
		status:   status,
		logger:   logger.With(slog.String("component", "risk_gate")),
		now:      time.Now,
		reserved: make(map[uint64]reservation),
		denied:   make(map[uint64]string),
		frozen:   make(map[string]string),
	}
}

// Check approves or denies an opportunity. On approval the projected
// capacity is reserved under the opportunity ID and must be released via
// Release when the attempt terminates. A denial is terminal for that
// opportunity ID.
func (g *Gate) Check(opp *domain.Opportunity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if reason, ok := g.denied[opp.ID]; ok {
		return fmt.Errorf("risk: opportunity %d already denied (%s): %w", opp.ID, reason, domain.ErrRiskDenied)
	}
	if reason, ok := g.frozen[opp.PairKey]; ok {
		return fmt.Errorf("risk: pair %s frozen (%s): %w", opp.PairKey, reason, domain.ErrPairFrozen)
	}

	if check, err := g.evaluate(opp); err != nil {
		g.recordDenial(opp.ID, check)
		metrics.RiskDenials.WithLabelValues(check).Inc()
		g.logger.Warn("opportunity denied",
			slog.Uint64("id", opp.ID),
			slog.String("pair", opp.PairKey),
			slog.String("check", check),
		)
		return err
	}

	g.reserved[opp.ID] = g.project(opp)
	g.logger.Info("opportunity approved",
		slog.Uint64("id", opp.ID),
		slog.String("pair", opp.PairKey),
	)
	return nil
}

// recordDenial remembers a terminal denial, evicting the oldest entries past
// deniedHistoryLimit so the map cannot grow without bound over a long run.
// Callers hold g.mu.
func (g *Gate) recordDenial(id uint64, check string) {
	if _, ok := g.denied[id]; !ok {
		g.deniedOrder = append(g.deniedOrder, id)
	}
	g.denied[id] = check
	for len(g.deniedOrder) > deniedHistoryLimit {
		delete(g.denied, g.deniedOrder[0])
		g.deniedOrder = g.deniedOrder[1:]
	}
}

// evaluate runs the checks in order and returns the name of the first one
// that failed. Callers hold g.mu.
func (g *Gate) evaluate(opp *domain.Opportunity) (string, error) {
	res := g.project(opp)

	// Capital sufficiency against bankroll already committed to open
	// positions and outstanding reservations.
	committed := g.committedCapital()
	if committed+res.capitalCents > g.limits.CapitalCents {
		return "capital", g.denial(opp, "capital", "need %d cents, %d committed of %d",
			res.capitalCents, committed, g.limits.CapitalCents)
	}

	// Per-market position limit on projected net quantity.
	for ticker, qty := range res.qtyByMarket {
		projected := abs(g.ledger.Position(ticker).NetQuantity) + g.reservedQty(ticker) + qty
		if projected > g.limits.MaxPositionPerMarket {
			return "position", g.denial(opp, "position", "%s projected %d contracts, limit %d",
				ticker, projected, g.limits.MaxPositionPerMarket)
		}
	}

	// Aggregate exposure.
	current := g.ledger.TotalExposureCents(nil) + g.reservedExposure()
	total := current + res.exposureCents
	if total > g.limits.MaxTotalExposureCents {
		return "exposure", g.denial(opp, "exposure", "projected %d cents, limit %d",
			total, g.limits.MaxTotalExposureCents)
	}

	// Concentration: no single market may dominate projected exposure.
	if g.limits.MaxConcentrationPct > 0 && total > 0 {
		for ticker := range res.qtyByMarket {
			marketExp := g.marketExposure(ticker) + g.legExposure(opp, ticker)
			if marketExp*100 > g.limits.MaxConcentrationPct*total {
				return "concentration", g.denial(opp, "concentration", "%s at %d of %d cents exceeds %d%%",
					ticker, marketExp, total, g.limits.MaxConcentrationPct)
			}
		}
	}

	// Daily realized-loss limit.
	if realized := g.ledger.RealizedOnDayCents(g.now()); -realized >= g.limits.MaxDailyLossCents {
		return "daily_loss", g.denial(opp, "daily_loss", "realized %d cents today, limit %d",
			realized, g.limits.MaxDailyLossCents)
	}

	// Both legs must reference active markets.
	for _, leg := range opp.Legs {
		st, known := g.status(leg.Ticker)
		if !known || st != domain.MarketStatusActive {
			return "market_status", g.denial(opp, "market_status", "%s status %q", leg.Ticker, st)
		}
	}

	return "", nil
}

func (g *Gate) denial(opp *domain.Opportunity, check, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)
	return fmt.Errorf("risk: opportunity %d failed %s check: %s: %w", opp.ID, check, detail, domain.ErrRiskDenied)
}

// project computes the capacity an opportunity would consume. Buy legs cost
// their price; sell legs post the complement as collateral.
func (g *Gate) project(opp *domain.Opportunity) reservation {
	res := reservation{qtyByMarket: make(map[string]int64, len(opp.Legs))}
	for _, leg := range opp.Legs {
		if leg.Side == domain.OrderSideBuy {
			res.capitalCents += leg.PriceCents * leg.Quantity
		} else {
			res.capitalCents += (100 - leg.PriceCents) * leg.Quantity
		}
		res.exposureCents += leg.PriceCents * leg.Quantity
		res.qtyByMarket[leg.Ticker] += leg.Quantity
	}
	res.capitalCents += opp.FeeCents
	return res
}

// Release frees the capacity reserved for an approved opportunity. Safe to
// call for unknown IDs.
func (g *Gate) Release(oppID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.reserved[oppID]; !ok {
		return
	}
	delete(g.reserved, oppID)
	g.logger.Debug("reservation released", slog.Uint64("id", oppID))
}

// FreezePair blocks further approvals on a market pair until UnfreezePair.
// Used by the execution coordinator when an unwind exhausts its retries.
func (g *Gate) FreezePair(pairKey, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frozen[pairKey] = reason
	g.logger.Error("pair frozen pending manual intervention",
		slog.String("pair", pairKey),
		slog.String("reason", reason),
	)
}

// UnfreezePair re-enables a pair after manual intervention.
func (g *Gate) UnfreezePair(pairKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.frozen, pairKey)
	g.logger.Info("pair unfrozen", slog.String("pair", pairKey))
}

// FrozenPairs returns the pairs currently blocked.
func (g *Gate) FrozenPairs() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.frozen))
	for k, v := range g.frozen {
		out[k] = v
	}
	return out
}

// committedCapital sums capital tied up in open positions and reservations.
// Callers hold g.mu.
func (g *Gate) committedCapital() int64 {
	var total int64
	for _, p := range g.ledger.Positions() {
		total += p.CostBasisCents
	}
	for _, r := range g.reserved {
		total += r.capitalCents
	}
	return total
}

func (g *Gate) reservedExposure() int64 {
	var total int64
	for _, r := range g.reserved {
		total += r.exposureCents
	}
	return total
}

func (g *Gate) reservedQty(ticker string) int64 {
	var total int64
	for _, r := range g.reserved {
		total += r.qtyByMarket[ticker]
	}
	return total
}

// marketExposure values one market's open position plus its reservations at
// average entry.
func (g *Gate) marketExposure(ticker string) int64 {
	p := g.ledger.Position(ticker)
	exp := p.ExposureCents(int64(p.AvgEntryCents()))
	for _, r := range g.reserved {
		if qty, ok := r.qtyByMarket[ticker]; ok {
			// Reservations carry no mark; approximate at mid.
			exp += qty * 50
		}
	}
	return exp
}

func (g *Gate) legExposure(opp *domain.Opportunity, ticker string) int64 {
	var total int64
	for _, leg := range opp.Legs {
		if leg.Ticker == ticker {
			total += leg.PriceCents * leg.Quantity
		}
	}
	return total
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
