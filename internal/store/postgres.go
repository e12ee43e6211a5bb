package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/lending-engine/internal/model"
)

// Schema creates the snapshot table. Headline figures are NUMERIC for exact
// decimal precision and queryability; the full snapshot is kept as JSONB.
const Schema = `
CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	id            UUID PRIMARY KEY,
	account       TEXT NOT NULL,
	block_number  BIGINT NOT NULL DEFAULT 0,
	net_worth_usd NUMERIC,
	net_apy       NUMERIC,
	health_score  NUMERIC,
	risk          TEXT,
	payload       JSONB NOT NULL,
	computed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS portfolio_snapshots_account_idx
	ON portfolio_snapshots (account, computed_at DESC);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.PortfolioSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}

	var netWorth, netAPY, health, risk *string
	if c := snap.Combined; c != nil {
		nw, apy := c.NetWorthUSD.String(), c.NetAPY.String()
		netWorth, netAPY = &nw, &apy
		if c.HealthScore != nil {
			h := c.HealthScore.String()
			health = &h
		}
		if c.Risk != nil {
			r := string(*c.Risk)
			risk = &r
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO portfolio_snapshots
		    (id, account, block_number, net_worth_usd, net_apy, health_score, risk, payload, computed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
		snap.ID, AccountKey(snap.Account), int64(snap.BlockNumber),
		netWorth, netAPY, health, risk,
		payload, snap.ComputedAt,
	)
	return err
}

func (s *PostgresStore) GetLatestSnapshot(ctx context.Context, account string) (*model.PortfolioSnapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM portfolio_snapshots
		 WHERE account = $1 ORDER BY computed_at DESC LIMIT 1`,
		AccountKey(account)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", account, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get latest snapshot %s: %w", account, err)
	}

	var snap model.PortfolioSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", account, err)
	}
	return &snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, account string, limit int) ([]model.PortfolioSnapshot, error) {
	query := `SELECT payload FROM portfolio_snapshots
	          WHERE account = $1 ORDER BY computed_at DESC`
	args := []any{AccountKey(account)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := make([]model.PortfolioSnapshot, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var snap model.PortfolioSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot for %s: %w", account, err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}
