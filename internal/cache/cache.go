// Package cache implements the persistent fetch cache: a key/value store keyed
// by URL whose values are framed, optionally zstd-compressed response bodies
// that expire after a fixed age.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Read when the key is absent or expired.
// Callers are expected to guard reads with Exists.
var ErrNotFound = errors.New("cache entry not found")

// DefaultMaxAge is how long an entry stays fresh.
const DefaultMaxAge = 72 * time.Hour

// DefaultMinCompressSize is the smallest payload that gets compressed.
const DefaultMinCompressSize = 300

// Blob is the unit a Backend persists.
type Blob struct {
	Data     []byte
	StoredAt time.Time
}

// Backend is the raw key/value store underneath Cache.
type Backend interface {
	Get(ctx context.Context, key string) (Blob, bool, error)
	Put(ctx context.Context, key string, blob Blob) error
	Delete(ctx context.Context, key string) (bool, error)
	Close() error
}

// Options tunes a Cache.
type Options struct {
	MaxAge          time.Duration
	MinCompressSize int
	Now             func() time.Time
	Logger          *zap.Logger
	Observer        Observer
}

// Observer receives hit/miss/eviction notifications (metrics).
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheEvicted()
	CacheWrite(bytes int)
}

type nopObserver struct{}

func (nopObserver) CacheHit()      {}
func (nopObserver) CacheMiss()     {}
func (nopObserver) CacheEvicted()  {}
func (nopObserver) CacheWrite(int) {}

// Cache is safe for concurrent use as long as its Backend is.
type Cache struct {
	backend  Backend
	codec    *Codec
	maxAge   time.Duration
	now      func() time.Time
	logger   *zap.Logger
	observer Observer
}

// New wraps backend with framing, compression and age-based eviction.
func New(backend Backend, opts Options) (*Cache, error) {
	if backend == nil {
		return nil, eris.New("cache backend is required")
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.MinCompressSize < 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	codec, err := NewCodec(opts.MinCompressSize)
	if err != nil {
		return nil, err
	}
	return &Cache{
		backend:  backend,
		codec:    codec,
		maxAge:   opts.MaxAge,
		now:      opts.Now,
		logger:   opts.Logger,
		observer: opts.Observer,
	}, nil
}

// Exists reports whether a fresh entry is stored under key.
// Expired entries are deleted on the way.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.lookup(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		c.observer.CacheHit()
	} else {
		c.observer.CacheMiss()
	}
	return ok, nil
}

// Read returns the decoded value stored under key.
func (c *Cache) Read(ctx context.Context, key string) ([]byte, error) {
	blob, ok, err := c.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "read %s", key)
	}
	return c.decode(key, blob)
}

// Get returns the decoded value under key with a single backend lookup.
// A missing or expired entry reports ok=false rather than ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	blob, ok, err := c.lookup(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.observer.CacheMiss()
		return nil, false, nil
	}
	c.observer.CacheHit()
	value, err := c.decode(key, blob)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *Cache) decode(key string, blob Blob) ([]byte, error) {
	value, err := c.codec.Decode(blob.Data)
	if err != nil {
		return nil, eris.Wrapf(err, "decode %s", key)
	}
	return value, nil
}

// Write stores value under key, replacing any previous entry.
func (c *Cache) Write(ctx context.Context, key string, value []byte) error {
	frame := c.codec.Encode(value)
	if err := c.backend.Put(ctx, key, Blob{Data: frame, StoredAt: c.now()}); err != nil {
		return eris.Wrapf(err, "write %s", key)
	}
	c.observer.CacheWrite(len(value))
	c.logger.Debug("cache write",
		zap.String("key", key),
		zap.Int("size", len(value)),
		zap.Int("stored", len(frame)),
	)
	return nil
}

// Remove deletes key and reports whether something was removed.
func (c *Cache) Remove(ctx context.Context, key string) (bool, error) {
	removed, err := c.backend.Delete(ctx, key)
	if err != nil {
		return false, eris.Wrapf(err, "remove %s", key)
	}
	return removed, nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	if err := c.backend.Close(); err != nil {
		return eris.Wrap(err, "close cache backend")
	}
	return nil
}

func (c *Cache) lookup(ctx context.Context, key string) (Blob, bool, error) {
	blob, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		return Blob{}, false, eris.Wrapf(err, "lookup %s", key)
	}
	if !ok {
		return Blob{}, false, nil
	}
	if c.now().Sub(blob.StoredAt) <= c.maxAge {
		return blob, true, nil
	}
	if _, err := c.backend.Delete(ctx, key); err != nil {
		return Blob{}, false, eris.Wrapf(err, "evict %s", key)
	}
	c.observer.CacheEvicted()
	c.logger.Debug("cache entry expired", zap.String("key", key), zap.Time("stored_at", blob.StoredAt))
	return Blob{}, false, nil
}
