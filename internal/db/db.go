// Package db provides the PostgreSQL-backed message repository used by the
// database alert source and the alert authoring command. Repositories accept
// a DBTX interface that is satisfied by both *pgxpool.Pool and pgx.Tx.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool opens a pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Schema creates the message table when it does not exist. The columns match
// the rows written by the alert authoring tools.
const Schema = `
CREATE TABLE IF NOT EXISTS message (
	id              BIGSERIAL PRIMARY KEY,
	message         TEXT NOT NULL,
	created_by      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	site_uuid       TEXT,
	host            TEXT,
	host_site_id    TEXT,
	host_sensor_id  TEXT,
	trigger_type    TEXT,
	target_channels TEXT[],
	site_lat        DOUBLE PRECISION,
	site_long       DOUBLE PRECISION,
	tags            TEXT[],
	status          TEXT NOT NULL DEFAULT 'pending',
	failure_reason  TEXT,
	claim_token     TEXT,
	claimed_at      TIMESTAMPTZ,
	processed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_message_pending ON message (created_at, id) WHERE status = 'pending';
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("applying message schema: %w", err)
	}
	return nil
}
