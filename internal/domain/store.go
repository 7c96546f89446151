package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// MarketStore persists market metadata.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByTicker(ctx context.Context, ticker string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	SetStatus(ctx context.Context, ticker string, status MarketStatus) error
}

// LedgerStore persists ledger snapshots. The storage engine behind it is an
// external collaborator; the core only requires that the latest snapshot can
// be saved and restored without double-counting fills.
type LedgerStore interface {
	SaveSnapshot(ctx context.Context, snap LedgerSnapshot) error
	LoadLatest(ctx context.Context) (LedgerSnapshot, error)
}

// AttemptStore persists execution attempts so an in-flight unwind survives a
// restart.
type AttemptStore interface {
	Save(ctx context.Context, attempt ExecutionAttempt) error
	GetByID(ctx context.Context, id string) (ExecutionAttempt, error)
	ListOpen(ctx context.Context) ([]ExecutionAttempt, error)
}

// OpportunityStore persists detected opportunity history.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkExecuted(ctx context.Context, id uint64, attemptID string) error
}

// LockManager provides distributed mutual exclusion, used to guarantee a
// single risk-arbitration writer across replicas.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Release(ctx context.Context, key, token string) error
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
}

// RateLimiter bounds the request rate against the venue API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}
