// Package fetch puts the fetch cache in front of the HTTP session.
package fetch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-archive-crawler/internal/cache"
	"github.com/JakeFAU/report-archive-crawler/internal/httpclient"
)

// Client is the subset of httpclient.Session the fetcher needs.
type Client interface {
	Get(ctx context.Context, rawURL string, opts ...httpclient.RequestOption) (httpclient.Response, error)
}

// Observer receives per-URL outcomes (metrics).
type Observer interface {
	FetchOutcome(rawURL, outcome string, bytes int)
}

// Outcomes reported to Observer.
const (
	OutcomeCached  = "cached"
	OutcomeFetched = "fetched"
	OutcomeFailed  = "failed"
)

type nopObserver struct{}

func (nopObserver) FetchOutcome(string, string, int) {}

// Options tunes a Fetcher.
type Options struct {
	Workers  int
	Observer Observer
}

// Fetcher serves bodies from the cache and falls back to the network.
type Fetcher struct {
	cache    *cache.Cache
	client   Client
	logger   *zap.Logger
	workers  int
	observer Observer
}

// New wires a Fetcher.
func New(c *cache.Cache, client Client, logger *zap.Logger, opts Options) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Fetcher{
		cache:    c,
		client:   client,
		logger:   logger.Named("fetch"),
		workers:  opts.Workers,
		observer: opts.Observer,
	}
}

type getOptions struct {
	bypassCache bool
	saveCookies bool
}

// GetOption customises Get.
type GetOption func(*getOptions)

// WithBypassCache skips both the cache lookup and the cache write.
func WithBypassCache() GetOption {
	return func(o *getOptions) { o.bypassCache = true }
}

// WithSaveCookies persists session cookies after a successful fetch.
func WithSaveCookies() GetOption {
	return func(o *getOptions) { o.saveCookies = true }
}

// Get returns the body for rawURL. A cached entry is returned without any
// network call; otherwise the URL is fetched and a non-empty body is cached
// under rawURL. A failed fetch yields (nil, nil) and a warning; cache
// failures are returned.
func (f *Fetcher) Get(ctx context.Context, rawURL string, opts ...GetOption) ([]byte, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.bypassCache {
		body, ok, err := f.cached(ctx, rawURL)
		if err != nil || ok {
			return body, err
		}
	}

	resp, ok, err := f.fetch(ctx, rawURL, o.saveCookies)
	if err != nil || !ok {
		return nil, err
	}
	if !o.bypassCache && len(resp.Body) > 0 {
		if err := f.cache.Write(ctx, rawURL, resp.Body); err != nil {
			return nil, err
		}
	}
	return resp.Body, nil
}

// GetJSON decodes the body for rawURL into v. It reports false when there was
// no body to decode.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, v any, opts ...GetOption) (bool, error) {
	body, err := f.Get(ctx, rawURL, opts...)
	if err != nil {
		return false, err
	}
	if len(body) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, eris.Wrapf(err, "decode json from %s", rawURL)
	}
	return true, nil
}

// GetCanonical always fetches rawURL and caches the body under the URL the
// server finally answered from. It returns that canonical URL.
func (f *Fetcher) GetCanonical(ctx context.Context, rawURL string, opts ...GetOption) (string, []byte, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}
	resp, ok, err := f.fetch(ctx, rawURL, o.saveCookies)
	if err != nil || !ok {
		return rawURL, nil, err
	}
	canonical := resp.URL
	if canonical == "" {
		canonical = rawURL
	}
	if len(resp.Body) > 0 {
		if err := f.cache.Write(ctx, canonical, resp.Body); err != nil {
			return canonical, nil, err
		}
	}
	return canonical, resp.Body, nil
}

// Remove drops rawURL from the cache.
func (f *Fetcher) Remove(ctx context.Context, rawURL string) (bool, error) {
	return f.cache.Remove(ctx, rawURL)
}

// DropLast removes the last URL of an ordered list that is still cached, so
// the tail page of a paginated listing is fetched again. It returns the
// removed URL or "" when none of them was cached.
func (f *Fetcher) DropLast(ctx context.Context, urls []string) (string, error) {
	for i := len(urls) - 1; i >= 0; i-- {
		ok, err := f.cache.Exists(ctx, urls[i])
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if _, err := f.cache.Remove(ctx, urls[i]); err != nil {
			return "", err
		}
		f.logger.Info("dropped cached page", zap.String("url", urls[i]))
		return urls[i], nil
	}
	return "", nil
}

func (f *Fetcher) cached(ctx context.Context, rawURL string) ([]byte, bool, error) {
	body, ok, err := f.cache.Get(ctx, rawURL)
	if err != nil || !ok {
		return nil, false, err
	}
	f.observer.FetchOutcome(rawURL, OutcomeCached, len(body))
	return body, true, nil
}

// fetch performs one request. ok is false when the request failed at the
// HTTP level; err is set only for cancellation and local failures.
func (f *Fetcher) fetch(ctx context.Context, rawURL string, saveCookies bool) (httpclient.Response, bool, error) {
	var opts []httpclient.RequestOption
	if saveCookies {
		opts = append(opts, httpclient.WithSaveCookies())
	}
	resp, err := f.client.Get(ctx, rawURL, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return httpclient.Response{}, false, eris.Wrapf(ctx.Err(), "fetch %s", rawURL)
		}
		var fetchErr *httpclient.FetchError
		if errors.As(err, &fetchErr) {
			f.logger.Warn("fetch failed",
				zap.String("url", rawURL),
				zap.Int("status", fetchErr.StatusCode),
				zap.Error(err),
			)
			f.observer.FetchOutcome(rawURL, OutcomeFailed, 0)
			return httpclient.Response{}, false, nil
		}
		return httpclient.Response{}, false, err
	}
	if resp.Body == nil {
		resp.Body = []byte{}
	}
	f.observer.FetchOutcome(rawURL, OutcomeFetched, len(resp.Body))
	return resp, true, nil
}
