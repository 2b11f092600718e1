// Package postgres provides a Postgres-backed fetch cache so several crawler
// hosts can share one cache.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/JakeFAU/report-archive-crawler/internal/cache"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool used for cache rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Backend implements cache.Backend against a single table.
type Backend struct {
	pool  pool
	table string
}

var _ cache.Backend = (*Backend)(nil)

// New connects to Postgres and creates the cache table when missing.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.DSN == "" {
		return nil, eris.New("cache.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, eris.Wrap(err, "parse postgres dsn")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "connect postgres")
	}
	b, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := b.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return b, nil
}

// NewWithPool constructs a backend from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Backend, error) {
	if p == nil {
		return nil, eris.New("pool is required")
	}
	if table == "" {
		table = "fetch_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, eris.Errorf("invalid table name %q", table)
	}
	return &Backend{pool: p, table: table}, nil
}

// EnsureSchema creates the cache table if it does not exist.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key       TEXT PRIMARY KEY,
	value     BYTEA NOT NULL,
	size      INTEGER NOT NULL,
	stored_at TIMESTAMPTZ NOT NULL
)`, b.table)
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return eris.Wrap(err, "create cache table")
	}
	return nil
}

// Get loads the blob stored under key.
func (b *Backend) Get(ctx context.Context, key string) (cache.Blob, bool, error) {
	query := fmt.Sprintf(`SELECT value, stored_at FROM %s WHERE key = $1`, b.table)
	var blob cache.Blob
	err := b.pool.QueryRow(ctx, query, key).Scan(&blob.Data, &blob.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return cache.Blob{}, false, nil
	}
	if err != nil {
		return cache.Blob{}, false, eris.Wrap(err, "select cache entry")
	}
	blob.StoredAt = blob.StoredAt.UTC()
	return blob, true, nil
}

// Put upserts blob under key.
func (b *Backend) Put(ctx context.Context, key string, blob cache.Blob) error {
	query := fmt.Sprintf(`
INSERT INTO %s (key, value, size, stored_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, size = EXCLUDED.size, stored_at = EXCLUDED.stored_at`, b.table)
	if _, err := b.pool.Exec(ctx, query, key, blob.Data, len(blob.Data), blob.StoredAt); err != nil {
		return eris.Wrap(err, "upsert cache entry")
	}
	return nil
}

// Delete removes key and reports whether a row existed.
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, b.table)
	tag, err := b.pool.Exec(ctx, query, key)
	if err != nil {
		return false, eris.Wrap(err, "delete cache entry")
	}
	return tag.RowsAffected() > 0, nil
}

// Close releases the underlying pool.
func (b *Backend) Close() error {
	if b == nil || b.pool == nil {
		return nil
	}
	b.pool.Close()
	return nil
}
