package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL. The
// table is an audit trail: detection ids restart with the process, so rows
// carry their own serial key and MarkExecuted targets the newest row for a
// detection id.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert records a detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	legs, err := json.Marshal(opp.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal opportunity legs: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO opportunities (
			detection_id, relation_kind, market_a, market_b, pair_key,
			legs, quantity, gross_cents, fee_cents, net_cents, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		int64(opp.ID), string(opp.Relation.Kind), opp.Relation.A, opp.Relation.B,
		opp.PairKey, legs, opp.Quantity,
		opp.GrossPerContractCents, opp.FeeCents, opp.NetProfitCents,
		opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %d: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted links the newest row for a detection id to its attempt.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id uint64, attemptID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET executed = TRUE, attempt_id = $2
		WHERE id = (
			SELECT id FROM opportunities
			WHERE detection_id = $1
			ORDER BY detected_at DESC, id DESC LIMIT 1
		)`,
		int64(id), attemptID,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity %d executed: %w", id, err)
	}
	return nil
}
