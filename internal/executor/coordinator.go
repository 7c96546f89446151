// Package executor coordinates multi-leg order execution. The venue offers
// no joint atomicity across legs, so the coordinator owns the attempt state
// machine: submit all legs, await fills, and on any partial outcome unwind
// the filled exposure rather than carry a naked leg.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/ledger"
	"github.com/moltenlava16/kalshi-arbitrage/internal/metrics"
	"github.com/moltenlava16/kalshi-arbitrage/internal/risk"
)

// OrderPlacer is the venue boundary for order submission. ClientID on the
// order is the idempotency key: resubmitting the same ClientID after an
// ambiguous response must not create a second order.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, exchangeID string) error
}

// Alerter delivers loud out-of-band alerts. Implemented by the notifier.
type Alerter interface {
	NotifyAll(ctx context.Context, subject, body string) error
}

// Config bounds the coordinator's external waits.
type Config struct {
	// FillWaitTimeout bounds how long a submitted leg may stay unfilled
	// before it is treated as unknown and routed into the unwind path.
	FillWaitTimeout time.Duration
	// UnwindMaxRetries bounds compensating-order attempts per leg.
	UnwindMaxRetries int
	// UnwindBackoff is the initial retry backoff, doubled per retry.
	UnwindBackoff time.Duration
}

// submitMaxRetries bounds retries of a transiently failed leg submission.
const submitMaxRetries = 2

// Coordinator runs execution attempts. Order submission and fill monitoring
// are asynchronous with respect to detection: Execute blocks only its own
// goroutine while awaiting fills.
type Coordinator struct {
	cfg      Config
	placer   OrderPlacer
	gate     *risk.Gate
	ledger   *ledger.Ledger
	attempts domain.AttemptStore
	events   domain.EventSink
	alerter  Alerter
	logger   *slog.Logger
	now      func() time.Time

	// OnAttempt, when set, is invoked once per Execute call with the
	// opportunity id and the attempt id created for it. Set before the
	// coordinator is shared between goroutines.
	OnAttempt func(oppID uint64, attemptID string)

	mu      sync.Mutex
	fillCh  map[string]chan domain.Fill // exchange order id -> routing channel
	pending map[string][]domain.Fill    // fills that arrived before registration
}

// NewCoordinator creates a Coordinator. events and alerter may be nil.
func NewCoordinator(cfg Config, placer OrderPlacer, gate *risk.Gate, l *ledger.Ledger, attempts domain.AttemptStore, events domain.EventSink, alerter Alerter, logger *slog.Logger) *Coordinator {
	if cfg.FillWaitTimeout <= 0 {
		cfg.FillWaitTimeout = 10 * time.Second
	}
	if cfg.UnwindMaxRetries <= 0 {
		cfg.UnwindMaxRetries = 3
	}
	if cfg.UnwindBackoff <= 0 {
		cfg.UnwindBackoff = 500 * time.Millisecond
	}
	return &Coordinator{
		cfg:      cfg,
		placer:   placer,
		gate:     gate,
		ledger:   l,
		attempts: attempts,
		events:   events,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "coordinator")),
		now:      time.Now,
		fillCh:   make(map[string]chan domain.Fill),
		pending:  make(map[string][]domain.Fill),
	}
}

// HandleFill routes a confirmed fill to the goroutine awaiting that order.
// Fills for orders not (yet) monitored are buffered so a fill racing the
// submission response is not lost.
func (c *Coordinator) HandleFill(fill domain.Fill) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.fillCh[fill.OrderID]; ok {
		select {
		case ch <- fill:
		default:
			c.logger.Warn("fill channel full, buffering",
				slog.String("order_id", fill.OrderID))
			c.pending[fill.OrderID] = append(c.pending[fill.OrderID], fill)
		}
		return
	}
	c.pending[fill.OrderID] = append(c.pending[fill.OrderID], fill)
}

// register opens the fill route for an order and replays buffered fills. The
// channel is sized past the replay so the sends below can never block while
// c.mu is held.
func (c *Coordinator) register(exchangeID string) chan domain.Fill {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan domain.Fill, len(c.pending[exchangeID])+16)
	c.fillCh[exchangeID] = ch
	for _, f := range c.pending[exchangeID] {
		ch <- f
	}
	delete(c.pending, exchangeID)
	return ch
}

func (c *Coordinator) unregister(exchangeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fillCh, exchangeID)
}

// Execute runs one approved opportunity to a terminal outcome. The risk
// reservation for opp is always released before return.
func (c *Coordinator) Execute(ctx context.Context, opp *domain.Opportunity) error {
	defer c.gate.Release(opp.ID)

	attempt := domain.ExecutionAttempt{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		PairKey:       opp.PairKey,
		State:         domain.AttemptCreated,
		CreatedAt:     c.now().UTC(),
		UpdatedAt:     c.now().UTC(),
	}
	for _, leg := range opp.Legs {
		attempt.Legs = append(attempt.Legs, domain.Order{
			ClientID:        uuid.New().String(),
			Ticker:          leg.Ticker,
			Side:            leg.Side,
			Contract:        leg.Contract,
			Quantity:        leg.Quantity,
			LimitPriceCents: leg.PriceCents,
			Status:          domain.OrderStatusPending,
			CreatedAt:       c.now().UTC(),
		})
	}
	c.persist(ctx, &attempt)
	if c.OnAttempt != nil {
		c.OnAttempt(opp.ID, attempt.ID)
	}

	// External cancellation is honored only before any leg is submitted;
	// afterwards it is redirected into the unwind path.
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.run(ctx, &attempt, opp)
}

// run drives an attempt from submission to a terminal state.
func (c *Coordinator) run(ctx context.Context, attempt *domain.ExecutionAttempt, opp *domain.Opportunity) error {
	log := c.logger.With(
		slog.String("attempt_id", attempt.ID),
		slog.String("pair", attempt.PairKey),
	)

	c.submitAndAwait(ctx, attempt, log)

	allFilled := true
	for i := range attempt.Legs {
		if !attempt.Legs[i].FullyFilled() {
			allFilled = false
		}
	}

	if allFilled {
		c.finalize(ctx, attempt, domain.AttemptComplete, log)
		c.publish(ctx, domain.Event{
			Type:    domain.EventExecutionComplete,
			PairKey: attempt.PairKey,
			Detail:  map[string]string{"attempt_id": attempt.ID},
			At:      c.now().UTC(),
		})
		return nil
	}

	attempt.State = domain.AttemptPartial
	c.persist(ctx, attempt)
	log.Warn("attempt partial, unwinding")

	if err := c.unwindAll(ctx, attempt, log); err != nil {
		// The naked leg could not be resolved automatically. Freeze the
		// pair and escalate; the attempt stays open for manual action.
		c.persist(ctx, attempt)
		c.gate.FreezePair(attempt.PairKey, fmt.Sprintf("unwind exhausted for attempt %s", attempt.ID))
		c.publish(ctx, domain.Event{
			Type:    domain.EventUnwindFailed,
			PairKey: attempt.PairKey,
			Detail:  map[string]string{"attempt_id": attempt.ID},
			At:      c.now().UTC(),
		})
		if c.alerter != nil {
			subject := "UNWIND FAILED: manual intervention required"
			body := fmt.Sprintf("attempt %s on pair %s has an unresolved leg; pair frozen", attempt.ID, attempt.PairKey)
			if nerr := c.alerter.NotifyAll(ctx, subject, body); nerr != nil {
				log.Error("unwind alert delivery failed", slog.String("error", nerr.Error()))
			}
		}
		metrics.ExecutionOutcomes.WithLabelValues("unwind_failed").Inc()
		return fmt.Errorf("executor: attempt %s: %w", attempt.ID, err)
	}

	c.finalize(ctx, attempt, domain.AttemptFailedUnwound, log)
	c.publish(ctx, domain.Event{
		Type:    domain.EventExecutionUnwound,
		PairKey: attempt.PairKey,
		Detail:  map[string]string{"attempt_id": attempt.ID},
		At:      c.now().UTC(),
	})
	return nil
}

// submitAndAwait places every leg as close to simultaneously as the boundary
// allows, then awaits fills per leg up to the configured timeout. Progress is
// recorded on the legs themselves.
func (c *Coordinator) submitAndAwait(ctx context.Context, attempt *domain.ExecutionAttempt, log *slog.Logger) {
	var wg sync.WaitGroup
	for i := range attempt.Legs {
		wg.Add(1)
		go func(leg *domain.Order) {
			defer wg.Done()
			c.submitLeg(ctx, leg, log)
		}(&attempt.Legs[i])
	}
	wg.Wait()

	attempt.State = domain.AttemptLegsSubmitted
	attempt.UpdatedAt = c.now().UTC()
	c.persist(ctx, attempt)

	for i := range attempt.Legs {
		if attempt.Legs[i].Status != domain.OrderStatusWorking &&
			attempt.Legs[i].Status != domain.OrderStatusPartiallyFilled {
			continue
		}
		wg.Add(1)
		go func(leg *domain.Order) {
			defer wg.Done()
			c.awaitLeg(ctx, leg, log)
		}(&attempt.Legs[i])
	}
	wg.Wait()
}

// definitive reports whether a submission error means the venue refused the
// order, so resubmitting the identical request cannot succeed.
func definitive(err error) bool {
	return errors.Is(err, domain.ErrInvalidOrder) || errors.Is(err, domain.ErrUnauthorized)
}

// submitLeg places one order and records the immediate outcome on the leg.
// A fill count in the submission response is trusted only when the response
// is terminal; for a still-working order the fill feed is the single source
// of executed quantity, so an acked partial is not pre-counted here and then
// counted again when its fill arrives.
func (c *Coordinator) submitLeg(ctx context.Context, leg *domain.Order, log *slog.Logger) {
	// Errors other than a venue refusal are ambiguous: the order may or may
	// not exist. Resubmit under the same client id, which the venue
	// deduplicates, until an acknowledgement resolves the ambiguity.
	var (
		res     domain.OrderResult
		err     error
		backoff = c.cfg.UnwindBackoff
	)
	for retry := 0; ; retry++ {
		res, err = c.placer.PlaceOrder(ctx, *leg)
		if err == nil || definitive(err) || retry >= submitMaxRetries {
			break
		}
		log.Warn("leg submission retrying",
			slog.String("ticker", leg.Ticker),
			slog.String("client_id", leg.ClientID),
			slog.Int("retry", retry+1),
			slog.Bool("should_retry", res.ShouldRetry),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}
	leg.UpdatedAt = c.now().UTC()
	if err != nil {
		if definitive(err) {
			log.Warn("leg refused",
				slog.String("ticker", leg.Ticker),
				slog.String("error", err.Error()),
			)
		} else {
			log.Error("leg submission unresolved after retries",
				slog.String("ticker", leg.Ticker),
				slog.String("client_id", leg.ClientID),
				slog.String("error", err.Error()),
			)
		}
		leg.Status = domain.OrderStatusRejected
		return
	}

	leg.ExchangeID = res.ExchangeID
	leg.Status = res.Status
	if res.Status == domain.OrderStatusFilled {
		leg.FilledQuantity = res.FilledCount
		leg.AvgFillCents = float64(res.AvgFillCents)
	}
	log.Info("leg submitted",
		slog.String("ticker", leg.Ticker),
		slog.String("exchange_id", leg.ExchangeID),
		slog.String("status", string(leg.Status)),
	)
}

// awaitLeg consumes fills for a working leg until it is fully filled or the
// fill wait times out. A timeout leaves the leg in its last known state; the
// caller decides between complete and unwind.
func (c *Coordinator) awaitLeg(ctx context.Context, leg *domain.Order, log *slog.Logger) {
	ch := c.register(leg.ExchangeID)
	defer c.unregister(leg.ExchangeID)

	timer := time.NewTimer(c.cfg.FillWaitTimeout)
	defer timer.Stop()

	// Running notional seeded from prior fills so the average stays correct
	// across a resume of a partially filled leg.
	notional := leg.AvgFillCents * float64(leg.FilledQuantity)
	for {
		select {
		case fill := <-ch:
			leg.FilledQuantity += fill.Quantity
			leg.FeeCents += fill.FeeCents
			notional += float64(fill.Quantity * fill.PriceCents)
			leg.AvgFillCents = notional / float64(leg.FilledQuantity)
			leg.UpdatedAt = c.now().UTC()
			if leg.FullyFilled() {
				leg.Status = domain.OrderStatusFilled
				return
			}
			leg.Status = domain.OrderStatusPartiallyFilled
		case <-timer.C:
			log.Warn("fill wait timed out",
				slog.String("exchange_id", leg.ExchangeID),
				slog.Int64("filled", leg.FilledQuantity),
				slog.Int64("quantity", leg.Quantity),
			)
			return
		case <-ctx.Done():
			return
		}
	}
}

// unwindAll resolves a partial attempt: cancel still-working legs, then flat
// any filled exposure with compensating orders. Returns ErrUnwindFailed when
// retries are exhausted on any leg.
func (c *Coordinator) unwindAll(ctx context.Context, attempt *domain.ExecutionAttempt, log *slog.Logger) error {
	var failed bool

	for i := range attempt.Legs {
		leg := &attempt.Legs[i]

		if leg.Status == domain.OrderStatusWorking || leg.Status == domain.OrderStatusPartiallyFilled {
			if err := c.placer.CancelOrder(ctx, leg.ExchangeID); err != nil {
				log.Error("cancel failed",
					slog.String("exchange_id", leg.ExchangeID),
					slog.String("error", err.Error()),
				)
			} else {
				leg.Status = domain.OrderStatusCanceled
			}
			leg.UpdatedAt = c.now().UTC()
		}

		if leg.FilledQuantity == 0 {
			continue
		}

		if err := c.unwindLeg(ctx, attempt, *leg, log); err != nil {
			failed = true
		}
	}

	if failed {
		return domain.ErrUnwindFailed
	}
	return nil
}

// unwindLeg submits a compensating order for a filled leg with bounded
// retries and exponential backoff. The limit crosses the whole book: a
// bounded loss beats carrying unintended directional risk.
func (c *Coordinator) unwindLeg(ctx context.Context, attempt *domain.ExecutionAttempt, leg domain.Order, log *slog.Logger) error {
	side := domain.OrderSideBuy
	limit := int64(99)
	if leg.Side == domain.OrderSideBuy {
		side = domain.OrderSideSell
		limit = 1
	}

	remaining := leg.FilledQuantity
	backoff := c.cfg.UnwindBackoff
	for retry := 0; retry <= c.cfg.UnwindMaxRetries; retry++ {
		if retry > 0 {
			metrics.UnwindRetries.Inc()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("executor: unwind canceled: %w", domain.ErrUnwindFailed)
			}
			backoff *= 2
		}

		// Each pass uses a fresh client id so the venue does not replay a
		// previous ambiguous unwind order.
		unwind := domain.Order{
			ClientID:        uuid.New().String(),
			Ticker:          leg.Ticker,
			Side:            side,
			Contract:        leg.Contract,
			Quantity:        remaining,
			LimitPriceCents: limit,
			Status:          domain.OrderStatusPending,
			CreatedAt:       c.now().UTC(),
		}

		c.submitLeg(ctx, &unwind, log)
		if unwind.Status == domain.OrderStatusRejected {
			continue
		}
		if unwind.Status != domain.OrderStatusFilled {
			c.awaitLeg(ctx, &unwind, log)
		}

		// Partially executed unwinds are recorded too so their fills reach
		// the ledger at finalize.
		if unwind.FilledQuantity > 0 {
			attempt.Unwinds = append(attempt.Unwinds, unwind)
			remaining -= unwind.FilledQuantity
		}
		if unwind.Status == domain.OrderStatusFilled || remaining <= 0 {
			return nil
		}
		_ = c.placer.CancelOrder(ctx, unwind.ExchangeID)
	}

	log.Error("unwind retries exhausted",
		slog.String("ticker", leg.Ticker),
		slog.Int64("exposed", remaining),
	)
	return fmt.Errorf("executor: unwind of %s exhausted after %d retries: %w",
		leg.Ticker, c.cfg.UnwindMaxRetries, domain.ErrUnwindFailed)
}

// finalize moves an attempt to a terminal state and applies its executed
// quantity to the ledger exactly once, guarded by LedgerApplied for restart
// safety. Fills are reconstructed from the persisted legs rather than from
// in-process state, so an attempt resumed after a crash still books the
// exposure it acquired before the crash.
func (c *Coordinator) finalize(ctx context.Context, attempt *domain.ExecutionAttempt, state domain.AttemptState, log *slog.Logger) {
	attempt.State = state
	now := c.now().UTC()
	attempt.UpdatedAt = now
	attempt.CompletedAt = &now

	fills := attemptFills(attempt, now)
	if !attempt.LedgerApplied {
		for _, f := range fills {
			c.ledger.ApplyFill(f)
		}
		attempt.LedgerApplied = true
	}
	c.persist(ctx, attempt)

	metrics.ExecutionOutcomes.WithLabelValues(string(state)).Inc()
	log.Info("attempt terminal",
		slog.String("state", string(state)),
		slog.Int("fills", len(fills)),
	)
}

// attemptFills flattens an attempt's executed legs and unwinds into fill
// records for the ledger. Ids are derived from the client order ids so a
// repeated application after a restart dedupes instead of double counting.
func attemptFills(attempt *domain.ExecutionAttempt, at time.Time) []domain.Fill {
	var fills []domain.Fill
	add := func(prefix string, o domain.Order) {
		if o.FilledQuantity <= 0 {
			return
		}
		fills = append(fills, domain.Fill{
			ID:         prefix + o.ClientID,
			OrderID:    o.ExchangeID,
			Ticker:     o.Ticker,
			Side:       o.Side,
			Contract:   o.Contract,
			Quantity:   o.FilledQuantity,
			PriceCents: int64(math.Round(o.AvgFillCents)),
			IsTaker:    true,
			FeeCents:   o.FeeCents,
			Timestamp:  at,
		})
	}
	for _, leg := range attempt.Legs {
		add("leg:", leg)
	}
	for _, u := range attempt.Unwinds {
		add("unwind:", u)
	}
	return fills
}

// Restore resumes monitoring of attempts that were in flight when the
// process stopped. Already-placed orders are never resubmitted; working legs
// go back to fill monitoring and partial attempts resume their unwind.
func (c *Coordinator) Restore(ctx context.Context) error {
	open, err := c.attempts.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("executor: list open attempts: %w", err)
	}
	for i := range open {
		attempt := open[i]
		c.logger.Info("resuming attempt",
			slog.String("attempt_id", attempt.ID),
			slog.String("state", string(attempt.State)),
		)
		go func() {
			opp := &domain.Opportunity{ID: attempt.OpportunityID, PairKey: attempt.PairKey}
			defer c.gate.Release(opp.ID)
			_ = c.resume(ctx, &attempt)
		}()
	}
	return nil
}

// resume picks an attempt up from its persisted state.
func (c *Coordinator) resume(ctx context.Context, attempt *domain.ExecutionAttempt) error {
	log := c.logger.With(
		slog.String("attempt_id", attempt.ID),
		slog.String("pair", attempt.PairKey),
	)

	var wg sync.WaitGroup
	for i := range attempt.Legs {
		leg := &attempt.Legs[i]
		if leg.Status != domain.OrderStatusWorking && leg.Status != domain.OrderStatusPartiallyFilled {
			continue
		}
		wg.Add(1)
		go func(leg *domain.Order) {
			defer wg.Done()
			c.awaitLeg(ctx, leg, log)
		}(leg)
	}
	wg.Wait()

	allFilled := true
	for i := range attempt.Legs {
		if !attempt.Legs[i].FullyFilled() {
			allFilled = false
		}
	}
	if allFilled {
		c.finalize(ctx, attempt, domain.AttemptComplete, log)
		return nil
	}

	attempt.State = domain.AttemptPartial
	c.persist(ctx, attempt)
	if err := c.unwindAll(ctx, attempt, log); err != nil {
		c.persist(ctx, attempt)
		c.gate.FreezePair(attempt.PairKey, fmt.Sprintf("unwind exhausted for attempt %s", attempt.ID))
		return fmt.Errorf("executor: resume attempt %s: %w", attempt.ID, err)
	}
	c.finalize(ctx, attempt, domain.AttemptFailedUnwound, log)
	return nil
}

func (c *Coordinator) persist(ctx context.Context, attempt *domain.ExecutionAttempt) {
	attempt.UpdatedAt = c.now().UTC()
	if err := c.attempts.Save(ctx, *attempt); err != nil {
		c.logger.Error("attempt persist failed",
			slog.String("attempt_id", attempt.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) publish(ctx context.Context, ev domain.Event) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, ev); err != nil {
		c.logger.Warn("event publish failed", slog.String("error", err.Error()))
	}
}
