// Package memory provides an in-process cache backend for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/report-archive-crawler/internal/cache"
)

// Backend keeps blobs in a map guarded by a RWMutex.
type Backend struct {
	mu    sync.RWMutex
	blobs map[string]cache.Blob
}

// New constructs an empty Backend.
func New() *Backend {
	return &Backend{blobs: make(map[string]cache.Blob)}
}

// Get returns a copy of the blob stored under key.
func (b *Backend) Get(_ context.Context, key string) (cache.Blob, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	blob, ok := b.blobs[key]
	if !ok {
		return cache.Blob{}, false, nil
	}
	return cache.Blob{Data: append([]byte(nil), blob.Data...), StoredAt: blob.StoredAt}, true, nil
}

// Put stores a copy of blob under key.
func (b *Backend) Put(_ context.Context, key string, blob cache.Blob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = cache.Blob{Data: append([]byte(nil), blob.Data...), StoredAt: blob.StoredAt}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[key]; !ok {
		return false, nil
	}
	delete(b.blobs, key)
	return true, nil
}

// Len returns the number of stored keys.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
