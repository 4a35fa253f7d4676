package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend is an optional durable Backend, adapted from the
// teacher's store.PostgresStore. It backs the command-id dedupe guard for
// deployments that want seen command ids to survive across hub restarts —
// a key/value table, not the per-command log spec's Non-goals explicitly
// rule out.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS hub_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at TIMESTAMPTZ
)`

// NewPostgresBackend connects using dsn and ensures the backing table
// exists.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres backend: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres backend: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("postgres backend: create table: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt *time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT value, expires_at FROM hub_kv WHERE key = $1`, key,
	).Scan(&value, &expiresAt)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return "", false, nil
		}
		return "", false, fmt.Errorf("postgres backend: get %s: %w", key, err)
	}
	if expiresAt != nil && time.Now().After(*expiresAt) {
		_, _ = p.pool.Exec(ctx, `DELETE FROM hub_kv WHERE key = $1`, key)
		return "", false, nil
	}
	return value, true, nil
}

func (p *PostgresBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO hub_kv (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = $3
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres backend: set %s: %w", key, err)
	}
	return nil
}

func (p *PostgresBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO hub_kv (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, value, expiresAt)
	if err != nil {
		return false, fmt.Errorf("postgres backend: setnx %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresBackend) Scan(ctx context.Context, prefix string) (map[string]string, error) {
	out := make(map[string]string)
	rows, err := p.pool.Query(ctx, `SELECT key, value FROM hub_kv WHERE key LIKE $1`, prefix+"%")
	if err != nil {
		return out, fmt.Errorf("postgres backend: scan %s: %w", prefix, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			continue
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
