package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a PostgreSQL table.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres establishes a connection pool and ensures the table exists.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agency_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create agency_kv table: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx, `SELECT value FROM agency_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store.
func (p *Postgres) Set(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO agency_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM agency_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap implements Swapper.
func (p *Postgres) CompareAndSwap(ctx context.Context, key string, old *string, next string) (bool, error) {
	var sql string
	var args []any
	if old == nil {
		sql = `INSERT INTO agency_kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`
		args = []any{key, next}
	} else {
		sql = `UPDATE agency_kv SET value = $2, updated_at = NOW() WHERE key = $1 AND value = $3`
		args = []any{key, next, *old}
	}
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("failed to swap %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompareAndDelete implements Swapper.
func (p *Postgres) CompareAndDelete(ctx context.Context, key, old string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM agency_kv WHERE key = $1 AND value = $2`, key, old)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}
