// Package sqlite stores fetch cache entries in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/report-archive-crawler/internal/cache"
)

// FileName is the database file created inside the cache directory.
const FileName = "fetch-cache.db"

const schema = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	key       TEXT PRIMARY KEY,
	value     BLOB NOT NULL,
	size      INTEGER NOT NULL,
	stored_at INTEGER NOT NULL
)`

// Backend implements cache.Backend on top of database/sql.
type Backend struct {
	db   *sql.DB
	path string
}

var _ cache.Backend = (*Backend)(nil)

// Open creates dir if needed and opens (or initialises) the cache database in it.
func Open(dir string) (*Backend, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, eris.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, eris.Wrap(err, "create cache directory")
	}
	path := filepath.Join(dir, FileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "open sqlite cache")
	}
	// modernc serialises writers per file; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db, path: path}
	if err := b.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) ensureSchema() error {
	if _, err := b.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return eris.Wrap(err, "enable WAL")
	}
	if _, err := b.db.Exec(schema); err != nil {
		return eris.Wrap(err, "create cache schema")
	}
	return nil
}

// Path returns the database file location.
func (b *Backend) Path() string { return b.path }

// Get loads the blob stored under key.
func (b *Backend) Get(ctx context.Context, key string) (cache.Blob, bool, error) {
	var (
		value    []byte
		storedAt int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT value, stored_at FROM fetch_cache WHERE key = ?`, key,
	).Scan(&value, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Blob{}, false, nil
	}
	if err != nil {
		return cache.Blob{}, false, eris.Wrap(err, "select cache entry")
	}
	return cache.Blob{Data: value, StoredAt: time.Unix(0, storedAt).UTC()}, true, nil
}

// Put upserts blob under key.
func (b *Backend) Put(ctx context.Context, key string, blob cache.Blob) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO fetch_cache (key, value, size, stored_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			size = excluded.size,
			stored_at = excluded.stored_at`,
		key, blob.Data, len(blob.Data), blob.StoredAt.UnixNano(),
	)
	if err != nil {
		return eris.Wrap(err, "upsert cache entry")
	}
	return nil
}

// Delete removes key and reports whether a row existed.
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM fetch_cache WHERE key = ?`, key)
	if err != nil {
		return false, eris.Wrap(err, "delete cache entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

// Close closes the database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}
