// Package ledger is the authoritative record of filled quantity and profit
// per market. It is updated only by confirmed fills and read by the risk
// gate; access is serialized because exposure checks are global.
package ledger

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

// Ledger tracks per-market signed net YES-equivalent quantity, cost basis,
// and realized PnL. Fills are idempotent by fill ID so a restart replaying
// notifications never double-counts.
type Ledger struct {
	mu            sync.Mutex
	positions     map[string]*domain.Position
	applied       map[string]struct{}
	realizedByDay map[string]int64 // UTC day -> realized PnL net of fees, cents
	logger        *slog.Logger
}

// New creates an empty ledger.
func New(logger *slog.Logger) *Ledger {
	return &Ledger{
		positions:     make(map[string]*domain.Position),
		applied:       make(map[string]struct{}),
		realizedByDay: make(map[string]int64),
		logger:        logger.With(slog.String("component", "ledger")),
	}
}

// ApplyFill records a confirmed fill. It returns false when the fill ID was
// already applied. NO-contract fills are normalized to their YES equivalent:
// buying NO at p is selling YES at 100-p.
func (l *Ledger) ApplyFill(f domain.Fill) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.applied[f.ID]; dup {
		l.logger.Debug("duplicate fill ignored", slog.String("fill_id", f.ID))
		return false
	}
	l.applied[f.ID] = struct{}{}

	deltaQty, price := normalize(f)
	pos, ok := l.positions[f.Ticker]
	if !ok {
		pos = &domain.Position{Ticker: f.Ticker}
		l.positions[f.Ticker] = pos
	}

	realized := applyToPosition(pos, deltaQty, price)
	pos.FeesPaidCents += f.FeeCents

	day := f.Timestamp.UTC().Format("2006-01-02")
	l.realizedByDay[day] += realized - f.FeeCents

	l.logger.Info("fill applied",
		slog.String("fill_id", f.ID),
		slog.String("ticker", f.Ticker),
		slog.Int64("delta_qty", deltaQty),
		slog.Int64("price_cents", price),
		slog.Int64("realized_cents", realized),
	)
	return true
}

// normalize converts a fill into a signed YES quantity delta and YES price.
// Buying NO at p is equivalent to selling YES at 100-p, and vice versa.
func normalize(f domain.Fill) (deltaQty, priceCents int64) {
	buying := f.Side == domain.OrderSideBuy
	price := f.PriceCents
	if f.Contract == domain.ContractNo {
		buying = !buying
		price = 100 - price
	}
	if buying {
		return f.Quantity, price
	}
	return -f.Quantity, price
}

// applyToPosition mutates pos and returns the realized PnL in cents from any
// closed quantity. Cost basis is the entry value of the open contracts.
func applyToPosition(pos *domain.Position, deltaQty, priceCents int64) int64 {
	if deltaQty == 0 {
		return 0
	}
	net := pos.NetQuantity

	// Same direction (or flat): extend the position.
	if net == 0 || (net > 0) == (deltaQty > 0) {
		pos.NetQuantity = net + deltaQty
		pos.CostBasisCents += abs(deltaQty) * priceCents
		return 0
	}

	// Opposite direction: close up to |net|, then open remainder.
	closed := min64(abs(deltaQty), abs(net))
	closedBasis := pos.CostBasisCents * closed / abs(net)

	var realized int64
	if net > 0 {
		realized = closed*priceCents - closedBasis
	} else {
		realized = closedBasis - closed*priceCents
	}
	pos.RealizedPnLCents += realized
	pos.CostBasisCents -= closedBasis
	if net > 0 {
		pos.NetQuantity = net - closed
	} else {
		pos.NetQuantity = net + closed
	}

	remainder := abs(deltaQty) - closed
	if remainder > 0 {
		if deltaQty > 0 {
			pos.NetQuantity += remainder
		} else {
			pos.NetQuantity -= remainder
		}
		pos.CostBasisCents = remainder * priceCents
	}
	return realized
}

// Position returns a copy of the position for a market (zero value if flat
// and never traded).
func (l *Ledger) Position(ticker string) domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[ticker]; ok {
		return *p
	}
	return domain.Position{Ticker: ticker}
}

// Positions returns all known positions sorted by ticker.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// TotalExposureCents sums absolute notional across positions using the given
// mark prices; positions without a mark fall back to average entry.
func (l *Ledger) TotalExposureCents(marks map[string]int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for ticker, p := range l.positions {
		mark, ok := marks[ticker]
		if !ok {
			mark = int64(p.AvgEntryCents())
		}
		total += p.ExposureCents(mark)
	}
	return total
}

// RealizedOnDayCents returns realized PnL net of fees for the UTC day of t.
func (l *Ledger) RealizedOnDayCents(t time.Time) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realizedByDay[t.UTC().Format("2006-01-02")]
}

// Snapshot serializes the ledger for persistence.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := domain.LedgerSnapshot{
		Positions:      make([]domain.Position, 0, len(l.positions)),
		AppliedFillIDs: make([]string, 0, len(l.applied)),
		RealizedByDay:  make(map[string]int64, len(l.realizedByDay)),
		TakenAt:        time.Now().UTC(),
	}
	for _, p := range l.positions {
		snap.Positions = append(snap.Positions, *p)
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].Ticker < snap.Positions[j].Ticker })
	for id := range l.applied {
		snap.AppliedFillIDs = append(snap.AppliedFillIDs, id)
	}
	sort.Strings(snap.AppliedFillIDs)
	for day, v := range l.realizedByDay {
		snap.RealizedByDay[day] = v
	}
	return snap
}

// Restore replaces the ledger state from a snapshot. Fill IDs carried in the
// snapshot stay deduplicated, so replayed notifications after a restart do
// not double-count.
func (l *Ledger) Restore(snap domain.LedgerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]*domain.Position, len(snap.Positions))
	for _, p := range snap.Positions {
		cp := p
		l.positions[p.Ticker] = &cp
	}
	l.applied = make(map[string]struct{}, len(snap.AppliedFillIDs))
	for _, id := range snap.AppliedFillIDs {
		l.applied[id] = struct{}{}
	}
	l.realizedByDay = make(map[string]int64, len(snap.RealizedByDay))
	for day, v := range snap.RealizedByDay {
		l.realizedByDay[day] = v
	}
	l.logger.Info("ledger restored",
		slog.Int("positions", len(l.positions)),
		slog.Int("applied_fills", len(l.applied)),
	)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
