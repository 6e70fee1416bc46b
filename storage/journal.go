package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MirrorOrder is one dispatch outcome appended to the journal. The engine
// only ever writes these; nothing in the pipeline reads them back.
type MirrorOrder struct {
	RunID    string
	Reason   string
	Mode     string
	Side     string
	TokenID  string
	Px       float64
	SrcPx    float64
	SrcUsdc  float64
	CopyUsdc float64
	Shares   float64
	LagMs    int64
	Success  bool
	Message  string
}

// Journal is the write-only sink for dispatch outcomes.
type Journal interface {
	RecordMirror(ctx context.Context, o MirrorOrder) error
	Close()
}

// PostgresJournal appends mirror orders to a single Postgres table.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// OpenJournal connects to dsn and ensures the journal table exists.
func OpenJournal(ctx context.Context, dsn string) (*PostgresJournal, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse journal DSN: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	j := &PostgresJournal{pool: pool}
	if err := j.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

func (j *PostgresJournal) ensureSchema(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mirror_orders (
			id         BIGSERIAL PRIMARY KEY,
			run_id     TEXT NOT NULL,
			reason     TEXT NOT NULL,
			mode       TEXT NOT NULL,
			side       TEXT NOT NULL,
			token_id   TEXT NOT NULL,
			px         DOUBLE PRECISION NOT NULL,
			src_px     DOUBLE PRECISION NOT NULL,
			src_usdc   DOUBLE PRECISION NOT NULL,
			copy_usdc  DOUBLE PRECISION NOT NULL,
			shares     DOUBLE PRECISION NOT NULL,
			lag_ms     BIGINT NOT NULL,
			success    BOOLEAN NOT NULL,
			message    TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure mirror_orders table: %w", err)
	}
	return nil
}

func (j *PostgresJournal) RecordMirror(ctx context.Context, o MirrorOrder) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO mirror_orders
			(run_id, reason, mode, side, token_id, px, src_px, src_usdc, copy_usdc, shares, lag_ms, success, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.RunID, o.Reason, o.Mode, o.Side, o.TokenID, o.Px, o.SrcPx, o.SrcUsdc, o.CopyUsdc, o.Shares, o.LagMs, o.Success, o.Message)
	if err != nil {
		return fmt.Errorf("failed to record mirror order: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Close() {
	j.pool.Close()
}
