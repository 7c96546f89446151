package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

// AttemptStore implements domain.AttemptStore using PostgreSQL. Legs and
// unwinds are stored as JSON documents so the full order state survives a
// restart for resume.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates an AttemptStore backed by the given connection pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Save inserts or replaces an attempt by its id.
func (s *AttemptStore) Save(ctx context.Context, a domain.ExecutionAttempt) error {
	legs, err := json.Marshal(a.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal attempt legs: %w", err)
	}
	unwinds, err := json.Marshal(a.Unwinds)
	if err != nil {
		return fmt.Errorf("postgres: marshal attempt unwinds: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_attempts (
			id, opportunity_id, pair_key, state, ledger_applied,
			legs, unwinds, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state          = EXCLUDED.state,
			ledger_applied = EXCLUDED.ledger_applied,
			legs           = EXCLUDED.legs,
			unwinds        = EXCLUDED.unwinds,
			updated_at     = EXCLUDED.updated_at,
			completed_at   = EXCLUDED.completed_at`,
		a.ID, int64(a.OpportunityID), a.PairKey, string(a.State), a.LedgerApplied,
		legs, unwinds, a.CreatedAt, a.UpdatedAt, a.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save attempt %s: %w", a.ID, err)
	}
	return nil
}

const attemptCols = `id, opportunity_id, pair_key, state, ledger_applied,
	legs, unwinds, created_at, updated_at, completed_at`

func scanAttempt(row pgx.Row) (domain.ExecutionAttempt, error) {
	var (
		a             domain.ExecutionAttempt
		opportunityID int64
		state         string
		legs, unwinds []byte
	)
	err := row.Scan(
		&a.ID, &opportunityID, &a.PairKey, &state, &a.LedgerApplied,
		&legs, &unwinds, &a.CreatedAt, &a.UpdatedAt, &a.CompletedAt,
	)
	if err != nil {
		return domain.ExecutionAttempt{}, err
	}
	a.OpportunityID = uint64(opportunityID)
	a.State = domain.AttemptState(state)
	if err := json.Unmarshal(legs, &a.Legs); err != nil {
		return domain.ExecutionAttempt{}, fmt.Errorf("decode legs: %w", err)
	}
	if err := json.Unmarshal(unwinds, &a.Unwinds); err != nil {
		return domain.ExecutionAttempt{}, fmt.Errorf("decode unwinds: %w", err)
	}
	return a, nil
}

// GetByID retrieves one attempt.
func (s *AttemptStore) GetByID(ctx context.Context, id string) (domain.ExecutionAttempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptCols+` FROM execution_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionAttempt{}, domain.ErrNotFound
		}
		return domain.ExecutionAttempt{}, fmt.Errorf("postgres: get attempt %s: %w", id, err)
	}
	return a, nil
}

// ListOpen returns attempts that have not reached a terminal state, oldest
// first so resume replays them in creation order.
func (s *AttemptStore) ListOpen(ctx context.Context) ([]domain.ExecutionAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptCols+` FROM execution_attempts
		 WHERE state NOT IN ('complete', 'failed_unwound')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func collectAttempts(rows pgx.Rows) ([]domain.ExecutionAttempt, error) {
	var attempts []domain.ExecutionAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: attempts rows: %w", err)
	}
	return attempts, nil
}
