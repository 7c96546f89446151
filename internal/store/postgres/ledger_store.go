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

// LedgerStore implements domain.LedgerStore using PostgreSQL. Snapshots are
// append-only; restore always reads the most recent one.
type LedgerStore struct {
	pool *pgxpool.Pool

	// Keep retains this many most recent snapshots on save. Zero keeps all.
	Keep int
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool, Keep: 100}
}

// SaveSnapshot appends a snapshot and prunes history beyond Keep.
func (s *LedgerStore) SaveSnapshot(ctx context.Context, snap domain.LedgerSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal ledger snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ledger_snapshots (taken_at, data) VALUES ($1, $2)`,
		snap.TakenAt, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: save ledger snapshot: %w", err)
	}

	if s.Keep > 0 {
		_, err = s.pool.Exec(ctx, `
			DELETE FROM ledger_snapshots
			WHERE id NOT IN (
				SELECT id FROM ledger_snapshots ORDER BY taken_at DESC, id DESC LIMIT $1
			)`, s.Keep)
		if err != nil {
			return fmt.Errorf("postgres: prune ledger snapshots: %w", err)
		}
	}
	return nil
}

// LoadLatest returns the most recent snapshot, or domain.ErrNotFound when no
// snapshot has ever been saved.
func (s *LedgerStore) LoadLatest(ctx context.Context) (domain.LedgerSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM ledger_snapshots ORDER BY taken_at DESC, id DESC LIMIT 1`,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerSnapshot{}, domain.ErrNotFound
		}
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load ledger snapshot: %w", err)
	}

	var snap domain.LedgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: decode ledger snapshot: %w", err)
	}
	return snap, nil
}
