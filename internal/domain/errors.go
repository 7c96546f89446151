package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// ErrSequenceGap signals a feed sequence discontinuity. Recovered via
	// resync, never fatal.
	ErrSequenceGap = errors.New("sequence gap")
	// ErrBookStale signals the book is awaiting a fresh snapshot.
	ErrBookStale = errors.New("orderbook stale")
	// ErrStaleGraph signals the relationship graph refresh is overdue;
	// detection is suspended for the affected markets.
	ErrStaleGraph = errors.New("relationship graph stale")
	// ErrRiskDenied is the expected rejection from the risk gate.
	ErrRiskDenied = errors.New("risk denied")
	// ErrPairFrozen means automated trading on the market pair is halted
	// until an operator acknowledges a prior unwind failure.
	ErrPairFrozen = errors.New("market pair frozen")
	// ErrUnwindFailed is fatal for the affected pair: a compensating order
	// could not be completed within the retry budget.
	ErrUnwindFailed = errors.New("unwind failed")
	// ErrMarketNotTradable means a leg's market is not active.
	ErrMarketNotTradable = errors.New("market not tradable")
)
