package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/Rajchodisetti/regime-engine/internal/market"
)

const createTargetsTable = `
CREATE TABLE IF NOT EXISTS target_positions (
	id          TEXT PRIMARY KEY,
	run_id      TEXT        NOT NULL,
	instrument  TEXT        NOT NULL,
	contract    TEXT        NOT NULL,
	signal      TEXT        NOT NULL,
	quantity    DOUBLE PRECISION NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	regime      TEXT        NOT NULL,
	risk_state  TEXT        NOT NULL,
	reason      TEXT        NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertTarget = `
INSERT INTO target_positions (id, run_id, instrument, contract, signal, quantity, ts, regime, risk_state, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`

// Postgres stores targets in the target_positions table
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and ensures the table exists
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := pool.Exec(ctx, createTargetsTable); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create target_positions")
	}
	return &Postgres{pool: pool}, nil
}

// Write inserts the batch in one transaction
func (p *Postgres) Write(ctx context.Context, targets []market.TargetPosition) error {
	if len(targets) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return errors.Wrap(tx.SendBatch(ctx, targetBatch(targets)).Close(), "insert targets")
	})
}

// Close releases the pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func targetBatch(targets []market.TargetPosition) *pgx.Batch {
	b := &pgx.Batch{}
	for _, t := range targets {
		b.Queue(insertTarget,
			t.ID, t.RunID, t.Instrument.String(), t.Contract, t.Signal,
			t.Quantity, t.Timestamp, t.Regime, t.RiskState, t.Reason)
	}
	return b
}
