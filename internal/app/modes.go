package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moltenlava16/kalshi-arbitrage/internal/book"
	"github.com/moltenlava16/kalshi-arbitrage/internal/detector"
	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/executor"
	"github.com/moltenlava16/kalshi-arbitrage/internal/feed"
	"github.com/moltenlava16/kalshi-arbitrage/internal/fees"
	"github.com/moltenlava16/kalshi-arbitrage/internal/ledger"
	"github.com/moltenlava16/kalshi-arbitrage/internal/metrics"
	"github.com/moltenlava16/kalshi-arbitrage/internal/platform/kalshi"
	"github.com/moltenlava16/kalshi-arbitrage/internal/relation"
	"github.com/moltenlava16/kalshi-arbitrage/internal/risk"
)

const (
	// arbitrationLockKey guards the single risk-arbitration writer across
	// replicas. Only the holder pops the queue and submits orders.
	arbitrationLockKey = "kalshibot:arbitration"

	arbitrationLockTTL  = 30 * time.Second
	lockRefreshInterval = 10 * time.Second
	lockRetryInterval   = 5 * time.Second

	// maxOpportunityAge bounds how long a queued opportunity may wait
	// before it is considered priced on dead quotes.
	maxOpportunityAge = 2 * time.Second
)

// dropFills discards fill notifications. Monitor mode never places orders,
// so there is nothing to route fills to.
type dropFills struct{}

func (dropFills) HandleFill(domain.Fill) {}

// runPipeline assembles the feed -> detection -> arbitration -> execution
// pipeline and blocks until the context is cancelled or a stage fails. With
// trading false the execution stage is replaced by a log-only consumer.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, trading bool) error {
	led := ledger.New(a.logger)
	snap, err := deps.LedgerStore.LoadLatest(ctx)
	switch {
	case err == nil:
		led.Restore(snap)
		a.logger.InfoContext(ctx, "ledger restored",
			slog.Int("positions", len(snap.Positions)),
			slog.Time("taken_at", snap.TakenAt),
		)
	case errors.Is(err, domain.ErrNotFound):
		a.logger.InfoContext(ctx, "no ledger snapshot found, starting flat")
	default:
		return fmt.Errorf("app: restore ledger: %w", err)
	}

	graph := relation.NewGraph(3*a.cfg.Kalshi.RefreshInterval.Duration, a.logger)
	markets, err := a.loadMarkets(ctx, deps, graph)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		return fmt.Errorf("app: no open markets match series %v / tickers %v",
			a.cfg.Kalshi.Series, a.cfg.Kalshi.Tickers)
	}

	tickers := make([]string, 0, len(markets))
	for _, m := range markets {
		tickers = append(tickers, m.Ticker)
	}
	wsClient := kalshi.NewWSClient(a.cfg.Kalshi.WsURL, deps.Signer, tickers, a.logger)

	queue := detector.NewQueue(a.cfg.Detector.QueueCapacity)

	// The tracker's change callback closes over the detector, which needs
	// the tracker to be constructed first. The callback only fires from
	// the ingestor goroutine, started after both exist.
	var det *detector.Detector
	tracker := book.NewTracker(func(ticker string) {
		det.OnBookChange(ticker)
	}, a.logger)
	det = detector.New(detector.Config{
		MinNetProfitCents:        a.cfg.Detector.MinNetProfitCents,
		MaxLegSize:               a.cfg.Detector.MaxLegSize,
		ComplementToleranceCents: a.cfg.Detector.ComplementToleranceCents,
	}, tracker, graph, fees.NewSchedule(), queue, a.logger)

	gate := risk.NewGate(risk.Limits{
		CapitalCents:          a.cfg.Risk.CapitalCents,
		MaxPositionPerMarket:  a.cfg.Risk.MaxPositionPerMarket,
		MaxTotalExposureCents: a.cfg.Risk.MaxTotalExposureCents,
		MaxConcentrationPct:   a.cfg.Risk.MaxConcentrationPct,
		MaxDailyLossCents:     a.cfg.Risk.MaxDailyLossCents,
	}, led, deps.Markets.Status, a.logger)

	var fills feed.FillHandler = dropFills{}
	var coord *executor.Coordinator
	if trading {
		coord = executor.NewCoordinator(executor.Config{
			FillWaitTimeout:  a.cfg.Executor.FillWaitTimeout.Duration,
			UnwindMaxRetries: a.cfg.Executor.UnwindMaxRetries,
			UnwindBackoff:    a.cfg.Executor.UnwindBackoff.Duration,
		}, deps.KalshiClient, gate, led, deps.Attempts, deps.Events, deps.Notifier, a.logger)
		coord.OnAttempt = func(oppID uint64, attemptID string) {
			if err := deps.Opps.MarkExecuted(ctx, oppID, attemptID); err != nil {
				a.logger.Warn("opportunity attempt link failed",
					slog.Uint64("opportunity_id", oppID),
					slog.String("attempt_id", attemptID),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := coord.Restore(ctx); err != nil {
			return fmt.Errorf("app: resume open attempts: %w", err)
		}
		fills = coord
	}

	ingestor := feed.NewIngestor(wsClient, tracker, deps.Markets, fills, deps.Events, a.logger)

	if a.cfg.Metrics.Enabled {
		metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wsClient.Run(ctx) })
	g.Go(func() error { return ingestor.Run(ctx) })
	g.Go(func() error { return a.refreshMarkets(ctx, deps, graph) })
	g.Go(func() error { return a.snapshotLedger(ctx, deps, led) })
	if trading {
		g.Go(func() error { return a.arbitrate(ctx, deps, queue, gate, coord) })
	} else {
		g.Go(func() error { return a.observe(ctx, deps, queue) })
	}
	return g.Wait()
}

// loadMarkets fetches the open market universe, keeps the configured slice of
// it, persists the metadata and rebuilds the relationship graph.
func (a *App) loadMarkets(ctx context.Context, deps *Dependencies, graph *relation.Graph) ([]domain.Market, error) {
	all, err := deps.KalshiClient.Markets(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: fetch markets: %w", err)
	}
	markets := filterMarkets(all, a.cfg.Kalshi.Series, a.cfg.Kalshi.Tickers)
	if len(markets) == 0 {
		return markets, nil
	}
	if err := deps.Markets.UpsertBatch(ctx, markets); err != nil {
		return nil, fmt.Errorf("app: persist markets: %w", err)
	}

	snap := graph.Refresh(markets, nil)
	a.publish(ctx, deps, domain.Event{
		Type: domain.EventRelationRefresh,
		Detail: map[string]string{
			"markets":       fmt.Sprint(len(markets)),
			"relationships": fmt.Sprint(len(snap.All())),
		},
		At: time.Now().UTC(),
	})
	return markets, nil
}

// filterMarkets keeps markets whose series is configured or whose ticker is
// explicitly listed. Empty series and tickers keeps everything.
func filterMarkets(all []domain.Market, series, tickers []string) []domain.Market {
	if len(series) == 0 && len(tickers) == 0 {
		return all
	}
	wantSeries := make(map[string]struct{}, len(series))
	for _, s := range series {
		wantSeries[strings.ToUpper(s)] = struct{}{}
	}
	wantTicker := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		wantTicker[strings.ToUpper(t)] = struct{}{}
	}

	var out []domain.Market
	for _, m := range all {
		if _, ok := wantSeries[strings.ToUpper(m.SeriesTicker)]; ok {
			out = append(out, m)
			continue
		}
		if _, ok := wantTicker[strings.ToUpper(m.Ticker)]; ok {
			out = append(out, m)
		}
	}
	return out
}

// refreshMarkets periodically re-fetches market metadata and rebuilds the
// relationship graph so classifications never outlive their epoch. A failed
// refresh keeps the previous epoch; the graph ages it out on its own.
func (a *App) refreshMarkets(ctx context.Context, deps *Dependencies, graph *relation.Graph) error {
	ticker := time.NewTicker(a.cfg.Kalshi.RefreshInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.loadMarkets(ctx, deps, graph); err != nil {
				a.logger.Warn("market refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// snapshotLedger periodically persists the ledger, plus once more on
// shutdown so a restart replays as little as possible.
func (a *App) snapshotLedger(ctx context.Context, deps *Dependencies, led *ledger.Ledger) error {
	ticker := time.NewTicker(a.cfg.Ledger.SnapshotInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := deps.LedgerStore.SaveSnapshot(saveCtx, led.Snapshot())
			cancel()
			if err != nil {
				a.logger.Warn("final ledger snapshot failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := deps.LedgerStore.SaveSnapshot(ctx, led.Snapshot()); err != nil {
				a.logger.Warn("ledger snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

// arbitrate pops detected opportunities and hands approved ones to the
// coordinator. It runs only while holding the distributed arbitration lock,
// so at most one replica submits orders.
func (a *App) arbitrate(ctx context.Context, deps *Dependencies, queue *detector.Queue, gate *risk.Gate, coord *executor.Coordinator) error {
	token, err := a.acquireArbitrationLock(ctx, deps.LockManager)
	if err != nil {
		return err
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := deps.LockManager.Release(relCtx, arbitrationLockKey, token); err != nil {
			a.logger.Warn("arbitration lock release failed", slog.String("error", err.Error()))
		}
	}()

	refresh := time.NewTicker(lockRefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refresh.C:
			if err := deps.LockManager.Refresh(ctx, arbitrationLockKey, token, arbitrationLockTTL); err != nil {
				return fmt.Errorf("app: arbitration lock lost: %w", err)
			}
		case <-queue.Ready():
			a.drainQueue(ctx, deps, queue, gate, coord)
		}
	}
}

// acquireArbitrationLock blocks until the lock is held or ctx ends.
func (a *App) acquireArbitrationLock(ctx context.Context, locks domain.LockManager) (string, error) {
	for {
		token, err := locks.Acquire(ctx, arbitrationLockKey, arbitrationLockTTL)
		if err == nil {
			a.logger.InfoContext(ctx, "arbitration lock acquired")
			return token, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return "", fmt.Errorf("app: acquire arbitration lock: %w", err)
		}
		a.logger.Info("arbitration lock held elsewhere, standing by")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// drainQueue empties the opportunity queue, persisting each pop and running
// approved opportunities. Execution happens off this goroutine; the risk
// reservation taken by Check serializes conflicting opportunities until the
// attempt terminates.
func (a *App) drainQueue(ctx context.Context, deps *Dependencies, queue *detector.Queue, gate *risk.Gate, coord *executor.Coordinator) {
	for {
		opp, ok := queue.Pop()
		if !ok {
			return
		}

		if age := time.Since(opp.DetectedAt); age > maxOpportunityAge {
			metrics.OpportunitiesDropped.WithLabelValues("stale").Inc()
			a.publish(ctx, deps, domain.Event{
				Type:    domain.EventOpportunityDropped,
				PairKey: opp.PairKey,
				Detail:  map[string]string{"reason": "stale", "age": age.String()},
				At:      time.Now().UTC(),
			})
			continue
		}

		if err := deps.Opps.Insert(ctx, *opp); err != nil {
			a.logger.Warn("opportunity persist failed",
				slog.Uint64("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}

		if err := gate.Check(opp); err != nil {
			a.logger.Info("opportunity denied",
				slog.Uint64("opportunity_id", opp.ID),
				slog.String("pair", opp.PairKey),
				slog.String("reason", err.Error()),
			)
			a.publish(ctx, deps, domain.Event{
				Type:    domain.EventRiskDenied,
				PairKey: opp.PairKey,
				Detail:  map[string]string{"reason": err.Error()},
				At:      time.Now().UTC(),
			})
			continue
		}
		a.publish(ctx, deps, domain.Event{
			Type:    domain.EventRiskApproved,
			PairKey: opp.PairKey,
			Detail:  map[string]string{"net_profit_cents": fmt.Sprint(opp.NetProfitCents)},
			At:      time.Now().UTC(),
		})

		go func(opp *domain.Opportunity) {
			if err := coord.Execute(ctx, opp); err != nil {
				a.logger.Error("execution attempt failed",
					slog.Uint64("opportunity_id", opp.ID),
					slog.String("pair", opp.PairKey),
					slog.String("error", err.Error()),
				)
			}
		}(opp)
	}
}

// observe is the monitor-mode queue consumer: it records and logs what the
// detector finds without touching the risk gate or the exchange.
func (a *App) observe(ctx context.Context, deps *Dependencies, queue *detector.Queue) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-queue.Ready():
			for {
				opp, ok := queue.Pop()
				if !ok {
					break
				}
				if err := deps.Opps.Insert(ctx, *opp); err != nil {
					a.logger.Warn("opportunity persist failed",
						slog.Uint64("opportunity_id", opp.ID),
						slog.String("error", err.Error()),
					)
				}
				a.logger.Info("opportunity observed",
					slog.Uint64("opportunity_id", opp.ID),
					slog.String("pair", opp.PairKey),
					slog.String("relation", string(opp.Relation.Kind)),
					slog.Int64("quantity", opp.Quantity),
					slog.Int64("net_profit_cents", opp.NetProfitCents),
				)
			}
		}
	}
}

// publish forwards an event to the sink, logging failures.
func (a *App) publish(ctx context.Context, deps *Dependencies, ev domain.Event) {
	if deps.Events == nil {
		return
	}
	if err := deps.Events.Publish(ctx, ev); err != nil {
		a.logger.Warn("event publish failed", slog.String("error", err.Error()))
	}
}
