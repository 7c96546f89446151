package app

import (
	"context"
	"errors"
	"sync"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

// marketRegistry decorates a MarketStore with an in-memory status map so the
// risk gate can consult market state synchronously on the hot path. Writes go
// through to the backing store; reads of status never touch the database.
type marketRegistry struct {
	inner domain.MarketStore

	mu     sync.RWMutex
	status map[string]domain.MarketStatus
}

func newMarketRegistry(inner domain.MarketStore) *marketRegistry {
	return &marketRegistry{
		inner:  inner,
		status: make(map[string]domain.MarketStatus),
	}
}

func (r *marketRegistry) remember(m domain.Market) {
	r.mu.Lock()
	r.status[m.Ticker] = m.Status
	r.mu.Unlock()
}

// Status reports the last known status for a ticker.
func (r *marketRegistry) Status(ticker string) (domain.MarketStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.status[ticker]
	return s, ok
}

func (r *marketRegistry) Upsert(ctx context.Context, m domain.Market) error {
	r.remember(m)
	return r.inner.Upsert(ctx, m)
}

func (r *marketRegistry) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	for _, m := range markets {
		r.remember(m)
	}
	return r.inner.UpsertBatch(ctx, markets)
}

func (r *marketRegistry) GetByTicker(ctx context.Context, ticker string) (domain.Market, error) {
	return r.inner.GetByTicker(ctx, ticker)
}

func (r *marketRegistry) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return r.inner.ListActive(ctx, opts)
}

func (r *marketRegistry) SetStatus(ctx context.Context, ticker string, status domain.MarketStatus) error {
	r.mu.Lock()
	r.status[ticker] = status
	r.mu.Unlock()

	err := r.inner.SetStatus(ctx, ticker, status)
	// Lifecycle messages can arrive before the market row exists; the status
	// map already has it, so that is not a failure.
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

var _ domain.MarketStore = (*marketRegistry)(nil)
