// Package feed is the ingestion boundary: it consumes the typed message
// stream from the venue connection and routes each variant into the book
// tracker, the execution coordinator, or the market store.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/moltenlava16/kalshi-arbitrage/internal/book"
	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/metrics"
)

// Source is the upstream connection. Implementations maintain the transport
// themselves (reconnect with bounded exponential backoff) and surface each
// successful reconnect so the ingestor can invalidate local book state.
type Source interface {
	// Messages delivers the typed feed stream. Closed when Run returns.
	Messages() <-chan domain.FeedMessage
	// Resubscribe requests a fresh snapshot for one market after a
	// sequence gap.
	Resubscribe(ctx context.Context, ticker string) error
	// Reconnects signals each re-established connection.
	Reconnects() <-chan struct{}
}

// FillHandler receives confirmed fills. Implemented by the coordinator.
type FillHandler interface {
	HandleFill(fill domain.Fill)
}

// Ingestor is the single writer of orderbook state. One goroutine runs the
// loop; per-market serialization follows from that ownership.
type Ingestor struct {
	source  Source
	tracker *book.Tracker
	markets domain.MarketStore
	fills   FillHandler
	events  domain.EventSink
	logger  *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{} // tickers already registered in the market store
}

// NewIngestor creates an Ingestor. events may be nil.
func NewIngestor(source Source, tracker *book.Tracker, markets domain.MarketStore, fills FillHandler, events domain.EventSink, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		source:  source,
		tracker: tracker,
		markets: markets,
		fills:   fills,
		events:  events,
		logger:  logger.With(slog.String("component", "feed_ingestor")),
		seen:    make(map[string]struct{}),
	}
}

// Run consumes the feed until ctx is canceled.
func (in *Ingestor) Run(ctx context.Context) error {
	in.logger.Info("feed ingestor started")
	defer in.logger.Info("feed ingestor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-in.source.Reconnects():
			// No partial trust of pre-disconnect state: every book is
			// stale until its fresh snapshot arrives.
			in.tracker.MarkAllStale()
			metrics.FeedResyncs.Inc()
			in.publish(ctx, domain.Event{
				Type:   domain.EventFeedResync,
				Detail: map[string]string{"cause": "reconnect"},
				At:     time.Now().UTC(),
			})

		case msg, ok := <-in.source.Messages():
			if !ok {
				return nil
			}
			in.handle(ctx, msg)
		}
	}
}

// handle dispatches one message. The variant set is closed; an unknown type
// is a programming error worth a loud log, not a crash.
func (in *Ingestor) handle(ctx context.Context, msg domain.FeedMessage) {
	switch m := msg.(type) {
	case domain.BookSnapshotMsg:
		in.ensureMarket(ctx, m.Ticker)
		in.tracker.ApplySnapshot(m)

	case domain.BookDeltaMsg:
		in.ensureMarket(ctx, m.Ticker)
		if err := in.tracker.ApplyDelta(m); err != nil {
			if errors.Is(err, domain.ErrSequenceGap) || errors.Is(err, domain.ErrBookStale) {
				in.resync(ctx, m.Ticker, err)
				return
			}
			in.logger.Error("delta apply failed",
				slog.String("ticker", m.Ticker),
				slog.String("error", err.Error()),
			)
		}

	case domain.FillMsg:
		in.fills.HandleFill(m.Fill)

	case domain.LifecycleMsg:
		in.logger.Info("market lifecycle change",
			slog.String("ticker", m.Ticker),
			slog.String("status", string(m.Status)),
		)
		if err := in.markets.SetStatus(ctx, m.Ticker, m.Status); err != nil {
			in.logger.Warn("market status update failed",
				slog.String("ticker", m.Ticker),
				slog.String("error", err.Error()),
			)
		}

	default:
		in.logger.Error("unknown feed message variant",
			slog.String("ticker", msg.MarketTicker()))
	}
}

// resync requests a fresh snapshot after a sequence gap. The gap is a
// routine resync trigger, not a fatal error.
func (in *Ingestor) resync(ctx context.Context, ticker string, cause error) {
	metrics.FeedResyncs.Inc()
	in.logger.Warn("requesting snapshot resync",
		slog.String("ticker", ticker),
		slog.String("cause", cause.Error()),
	)
	in.publish(ctx, domain.Event{
		Type:   domain.EventFeedResync,
		Ticker: ticker,
		Detail: map[string]string{"cause": cause.Error()},
		At:     time.Now().UTC(),
	})
	if err := in.source.Resubscribe(ctx, ticker); err != nil {
		in.logger.Error("resubscribe failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
	}
}

// ensureMarket registers a market in the store on first reference from the
// feed.
func (in *Ingestor) ensureMarket(ctx context.Context, ticker string) {
	in.mu.Lock()
	_, ok := in.seen[ticker]
	if !ok {
		in.seen[ticker] = struct{}{}
	}
	in.mu.Unlock()
	if ok {
		return
	}

	now := time.Now().UTC()
	err := in.markets.Upsert(ctx, domain.Market{
		Ticker:    ticker,
		Status:    domain.MarketStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		in.logger.Warn("market registration failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
	}
}

func (in *Ingestor) publish(ctx context.Context, ev domain.Event) {
	if in.events == nil {
		return
	}
	if err := in.events.Publish(ctx, ev); err != nil {
		in.logger.Warn("event publish failed", slog.String("error", err.Error()))
	}
}
