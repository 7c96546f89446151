package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketUpsert = `
	INSERT INTO markets (
		ticker, event_ticker, series_ticker, title,
		strike_kind, strike, event_date, status,
		created_at, updated_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8,
		$9, NOW()
	)
	ON CONFLICT (ticker) DO UPDATE SET
		event_ticker  = EXCLUDED.event_ticker,
		series_ticker = EXCLUDED.series_ticker,
		title         = EXCLUDED.title,
		strike_kind   = EXCLUDED.strike_kind,
		strike        = EXCLUDED.strike,
		event_date    = EXCLUDED.event_date,
		status        = EXCLUDED.status,
		updated_at    = NOW()`

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	_, err := s.pool.Exec(ctx, marketUpsert,
		m.Ticker, m.EventTicker, m.SeriesTicker, m.Title,
		string(m.StrikeKind), m.Strike, m.Date, string(m.Status),
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.Ticker, err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple markets in one batch round trip.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(marketUpsert,
			m.Ticker, m.EventTicker, m.SeriesTicker, m.Title,
			string(m.StrikeKind), m.Strike, m.Date, string(m.Status),
			m.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

const marketCols = `ticker, event_ticker, series_ticker, title,
	strike_kind, strike, event_date, status, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m          domain.Market
		strikeKind string
		status     string
	)
	err := row.Scan(
		&m.Ticker, &m.EventTicker, &m.SeriesTicker, &m.Title,
		&strikeKind, &m.Strike, &m.Date, &status,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.StrikeKind = domain.StrikeKind(strikeKind)
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// GetByTicker retrieves a market by its primary key.
func (s *MarketStore) GetByTicker(ctx context.Context, ticker string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE ticker = $1`, ticker)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", ticker, err)
	}
	return m, nil
}

// ListActive returns active markets, newest first.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = 'active'`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY ticker"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return markets, nil
}

// SetStatus records a lifecycle transition for one market.
func (s *MarketStore) SetStatus(ctx context.Context, ticker string, status domain.MarketStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2, updated_at = NOW() WHERE ticker = $1`,
		ticker, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: set market status %s: %w", ticker, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
