package enumerate

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Checkpoint records which terms already have a persisted result.
type Checkpoint interface {
	Has(term string) bool
	Save(ctx context.Context, term string, data []byte) error
}

// DirCheckpoint stores one file per term, named <prefix><lower(term)>.json.
// Membership is answered from a set built by a single directory listing.
type DirCheckpoint struct {
	dir    string
	prefix string

	readOnly bool

	mu   sync.RWMutex
	done map[string]struct{}
}

// CheckpointOption adjusts OpenDirCheckpoint.
type CheckpointOption func(*DirCheckpoint)

// ReadOnly indexes existing results but records new ones in memory only.
// A missing directory is treated as empty and is not created.
func ReadOnly() CheckpointOption {
	return func(c *DirCheckpoint) { c.readOnly = true }
}

// OpenDirCheckpoint creates dir when needed and indexes its existing results.
func OpenDirCheckpoint(dir, prefix string, opts ...CheckpointOption) (*DirCheckpoint, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, eris.New("checkpoint directory is required")
	}
	cp := &DirCheckpoint{dir: dir, prefix: prefix, done: map[string]struct{}{}}
	for _, opt := range opts {
		opt(cp)
	}
	if !cp.readOnly {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, eris.Wrapf(err, "create checkpoint directory %s", dir)
		}
	}
	entries, err := os.ReadDir(dir)
	if cp.readOnly && errors.Is(err, fs.ErrNotExist) {
		return cp, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "list checkpoint directory %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		term := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		cp.done[strings.ToLower(term)] = struct{}{}
	}
	return cp, nil
}

// Has reports whether term has a persisted result.
func (c *DirCheckpoint) Has(term string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.done[strings.ToLower(term)]
	return ok
}

// Len is the number of persisted terms.
func (c *DirCheckpoint) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.done)
}

// Path is the result file for term.
func (c *DirCheckpoint) Path(term string) string {
	return filepath.Join(c.dir, c.prefix+strings.ToLower(term)+".json")
}

// Save writes data for term atomically and marks it done.
func (c *DirCheckpoint) Save(ctx context.Context, term string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.readOnly {
		c.markDone(term)
		return nil
	}
	target := c.Path(term)
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "create temp result")
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "write result")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close result")
	}
	if err := os.Rename(tmpName, target); err != nil {
		return eris.Wrapf(err, "persist result %s", target)
	}

	c.markDone(term)
	return nil
}

func (c *DirCheckpoint) markDone(term string) {
	c.mu.Lock()
	c.done[strings.ToLower(term)] = struct{}{}
	c.mu.Unlock()
}
