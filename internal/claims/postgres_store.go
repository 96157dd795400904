package claims

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists claim records in a PostgreSQL table so several relay
// instances can share them.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createClaimsTableSQL = `
CREATE TABLE IF NOT EXISTS faucet_claims (
    address TEXT PRIMARY KEY,
    last_claim_at TIMESTAMPTZ NOT NULL,
    claim_count BIGINT NOT NULL DEFAULT 1
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createClaimsTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) LastClaim(ctx context.Context, address common.Address) (time.Time, bool, error) {
	row := p.pool.QueryRow(ctx, `
SELECT last_claim_at
FROM faucet_claims
WHERE address = $1
`, address.Hex())

	var at time.Time
	if err := row.Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return at, true, nil
}

func (p *PostgresStore) RecordClaim(ctx context.Context, address common.Address, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO faucet_claims (address, last_claim_at)
VALUES ($1, $2)
ON CONFLICT (address) DO UPDATE
SET last_claim_at = EXCLUDED.last_claim_at,
    claim_count = faucet_claims.claim_count + 1
`, address.Hex(), at.UTC())
	return err
}
