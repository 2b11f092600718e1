// Package local stores fetch cache entries as files, one per key.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/JakeFAU/report-archive-crawler/internal/cache"
)

// Backend writes each entry to <dir>/<sha256(key)[:2]>/<sha256(key)>. The
// file modification time records when the entry was stored.
type Backend struct {
	dir string
}

var _ cache.Backend = (*Backend)(nil)

// New creates dir if it does not exist and checks that it is writable.
func New(dir string) (*Backend, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, eris.New("cache directory is required")
	}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, eris.Wrap(mkErr, "create cache directory")
		}
	case err != nil:
		return nil, eris.Wrap(err, "stat cache directory")
	case !info.IsDir():
		return nil, eris.Errorf("cache path %s is not a directory", dir)
	}

	marker := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(marker, []byte("test"), 0o600); err != nil {
		return nil, eris.Wrap(err, "cache directory is not writable")
	}
	if err := os.Remove(marker); err != nil {
		return nil, eris.Wrap(err, "clean up marker file")
	}
	return &Backend{dir: dir}, nil
}

func (b *Backend) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(b.dir, name[:2], name)
}

// Get reads the entry for key.
func (b *Backend) Get(_ context.Context, key string) (cache.Blob, bool, error) {
	p := b.path(key)
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return cache.Blob{}, false, nil
	}
	if err != nil {
		return cache.Blob{}, false, eris.Wrap(err, "stat cache file")
	}
	data, err := os.ReadFile(p) // #nosec G304 -- path is derived from a hash under dir.
	if errors.Is(err, fs.ErrNotExist) {
		return cache.Blob{}, false, nil
	}
	if err != nil {
		return cache.Blob{}, false, eris.Wrap(err, "read cache file")
	}
	return cache.Blob{Data: data, StoredAt: info.ModTime().UTC()}, true, nil
}

// Put atomically replaces the entry for key.
func (b *Backend) Put(_ context.Context, key string, blob cache.Blob) error {
	p := b.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return eris.Wrap(err, "create cache shard")
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(blob.Data); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	if err := os.Chtimes(tmpName, blob.StoredAt, blob.StoredAt); err != nil {
		return eris.Wrap(err, "stamp cache file")
	}
	if err := os.Rename(tmpName, p); err != nil {
		return eris.Wrap(err, "rename cache file")
	}
	return nil
}

// Delete removes the entry for key.
func (b *Backend) Delete(_ context.Context, key string) (bool, error) {
	err := os.Remove(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "remove cache file")
	}
	return true, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
