package fetch

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/report-archive-crawler/internal/cache"
	"github.com/JakeFAU/report-archive-crawler/internal/cache/memory"
	"github.com/JakeFAU/report-archive-crawler/internal/httpclient"
)

type fakeResponse struct {
	finalURL string
	body     []byte
	status   int
	err      error
}

type fakeClient struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     map[string]int
	opts      map[string]int
}

func newFakeClient(responses map[string]fakeResponse) *fakeClient {
	return &fakeClient{responses: responses, calls: map[string]int{}, opts: map[string]int{}}
}

func (c *fakeClient) Get(_ context.Context, rawURL string, opts ...httpclient.RequestOption) (httpclient.Response, error) {
	c.mu.Lock()
	c.calls[rawURL]++
	c.opts[rawURL] += len(opts)
	r, ok := c.responses[rawURL]
	c.mu.Unlock()

	if !ok {
		return httpclient.Response{}, &httpclient.FetchError{URL: rawURL, StatusCode: http.StatusNotFound}
	}
	if r.err != nil {
		return httpclient.Response{}, &httpclient.FetchError{URL: rawURL, Err: r.err}
	}
	if r.status != 0 && r.status != http.StatusOK {
		return httpclient.Response{}, &httpclient.FetchError{URL: rawURL, StatusCode: r.status}
	}
	final := r.finalURL
	if final == "" {
		final = rawURL
	}
	return httpclient.Response{RequestURL: rawURL, URL: final, StatusCode: http.StatusOK, Body: r.body}, nil
}

func (c *fakeClient) callCount(rawURL string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[rawURL]
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *recordingObserver) FetchOutcome(_, outcome string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

func newTestFetcher(t *testing.T, client Client, obs Observer) (*Fetcher, *cache.Cache) {
	t.Helper()
	c, err := cache.New(memory.New(), cache.Options{})
	require.NoError(t, err)
	return New(c, client, nil, Options{Workers: 3, Observer: obs}), c
}

func TestGetCachesAndServesFromCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeClient(map[string]fakeResponse{
		"https://www.annualreports.com/Companies": {body: []byte("<ul></ul>")},
	})
	obs := &recordingObserver{}
	f, c := newTestFetcher(t, client, obs)

	first, err := f.Get(ctx, "https://www.annualreports.com/Companies")
	require.NoError(t, err)
	second, err := f.Get(ctx, "https://www.annualreports.com/Companies")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.callCount("https://www.annualreports.com/Companies"))
	ok, err := c.Exists(ctx, "https://www.annualreports.com/Companies")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, obs.outcomes[OutcomeFetched])
	assert.Equal(t, 1, obs.outcomes[OutcomeCached])
}

func TestGetBypassCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeClient(map[string]fakeResponse{
		"https://ipinfo.io/json": {body: []byte(`{"ip":"1.2.3.4"}`)},
	})
	f, c := newTestFetcher(t, client, nil)

	require.NoError(t, c.Write(ctx, "https://ipinfo.io/json", []byte("stale")))
	body, err := f.Get(ctx, "https://ipinfo.io/json", WithBypassCache())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ip":"1.2.3.4"}`, string(body))

	cached, err := c.Read(ctx, "https://ipinfo.io/json")
	require.NoError(t, err)
	assert.Equal(t, "stale", string(cached))
}

func TestGetFailureReturnsNilBody(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeClient(map[string]fakeResponse{
		"https://example.com/down": {err: errors.New("connection refused")},
		"https://example.com/403":  {status: http.StatusForbidden},
	})
	f, c := newTestFetcher(t, client, nil)

	for _, u := range []string{"https://example.com/down", "https://example.com/403", "https://example.com/missing"} {
		body, err := f.Get(ctx, u)
		require.NoError(t, err, u)
		assert.Nil(t, body, u)
		ok, err := c.Exists(ctx, u)
		require.NoError(t, err)
		assert.False(t, ok, u)
	}
}

func TestGetEmptyBodyIsReturnedButNotCached(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeClient(map[string]fakeResponse{
		"https://example.com/empty": {body: nil},
	})
	f, c := newTestFetcher(t, client, nil)

	body, err := f.Get(ctx, "https://example.com/empty")
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Empty(t, body)

	ok, err := c.Exists(ctx, "https://example.com/empty")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetCanceledContextIsAnError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := newFakeClient(map[string]fakeResponse{
		"https://example.com": {err: context.Canceled},
	})
	f, _ := newTestFetcher(t, client, nil)

	_, err := f.Get(ctx, "https://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetSaveCookiesPassesOption(t *testing.T) {
	t.Parallel()

	client := newFakeClient(map[string]fakeResponse{
		"https://www.annualreports.com/": {body: []byte("home")},
	})
	f, _ := newTestFetcher(t, client, nil)

	_, err := f.Get(context.Background(), "https://www.annualreports.com/", WithSaveCookies())
	require.NoError(t, err)
	assert.Equal(t, 1, client.opts["https://www.annualreports.com/"])
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeClient(map[string]fakeResponse{
		"https://api/ok":  {body: []byte(`{"name":"Acme"}`)},
		"https://api/bad": {body: []byte(`{"name":`)},
	})
	f, _ := newTestFetcher(t, client, nil)

	var out struct {
		Name string `json:"name"`
	}
	ok, err := f.GetJSON(ctx, "https://api/ok", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Acme", out.Name)

	ok, err = f.GetJSON(ctx, "https://api/missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.GetJSON(ctx, "https://api/bad", &out)
	require.Error(t, err)
}

func TestGetCanonicalCachesUnderFinalURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeClient(map[string]fakeResponse{
		"https://www.annualreports.com/Company/acme": {
			finalURL: "https://www.annualreports.com/Company/acme-corp",
			body:     []byte("detail"),
		},
	})
	f, c := newTestFetcher(t, client, nil)

	canonical, body, err := f.GetCanonical(ctx, "https://www.annualreports.com/Company/acme")
	require.NoError(t, err)
	assert.Equal(t, "https://www.annualreports.com/Company/acme-corp", canonical)
	assert.Equal(t, "detail", string(body))

	ok, err := c.Exists(ctx, canonical)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Exists(ctx, "https://www.annualreports.com/Company/acme")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = f.GetCanonical(ctx, "https://www.annualreports.com/Company/acme")
	require.NoError(t, err)
	assert.Equal(t, 2, client.callCount("https://www.annualreports.com/Company/acme"))
}

func TestDropLast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, c := newTestFetcher(t, newFakeClient(nil), nil)
	pages := []string{"https://x/p1", "https://x/p2", "https://x/p3"}
	require.NoError(t, c.Write(ctx, pages[0], []byte("1")))
	require.NoError(t, c.Write(ctx, pages[1], []byte("2")))

	removed, err := f.DropLast(ctx, pages)
	require.NoError(t, err)
	assert.Equal(t, "https://x/p2", removed)

	ok, err := c.Exists(ctx, pages[0])
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err = f.DropLast(ctx, []string{"https://x/none"})
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestPrefetch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	responses := map[string]fakeResponse{
		"https://x/a": {body: []byte("a"), finalURL: "https://x/a-final"},
		"https://x/b": {body: []byte("b")},
		"https://x/c": {status: http.StatusBadGateway},
		"https://x/d": {err: errors.New("timeout")},
	}
	client := newFakeClient(responses)
	f, c := newTestFetcher(t, client, nil)
	require.NoError(t, c.Write(ctx, "https://x/cached", []byte("already")))

	report, err := f.Prefetch(ctx, []string{
		"https://x/cached", "https://x/a", "https://x/b", "https://x/a", "https://x/c", "https://x/d",
	})
	require.NoError(t, err)

	assert.Equal(t, 6, report.Requested)
	assert.Equal(t, 1, report.Cached)
	assert.Equal(t, 2, report.Fetched)
	require.Len(t, report.Failed, 2)

	failed := report.FailedURLs()
	sort.Strings(failed)
	assert.Equal(t, []string{"https://x/c", "https://x/d"}, failed)
	for _, res := range report.Failed {
		var fetchErr *httpclient.FetchError
		require.ErrorAs(t, res.Err, &fetchErr)
	}

	assert.Equal(t, 0, client.callCount("https://x/cached"))
	assert.Equal(t, 1, client.callCount("https://x/a"))

	body, err := c.Read(ctx, "https://x/a")
	require.NoError(t, err)
	assert.Equal(t, "a", string(body))
	ok, err := c.Exists(ctx, "https://x/a-final")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrefetchNothingMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeClient(nil)
	f, c := newTestFetcher(t, client, nil)
	require.NoError(t, c.Write(ctx, "https://x/a", []byte("a")))

	report, err := f.Prefetch(ctx, []string{"https://x/a"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cached)
	assert.Zero(t, report.Fetched)
	assert.Empty(t, report.Failed)
}

type failingBackend struct{ *memory.Backend }

func (failingBackend) Put(context.Context, string, cache.Blob) error {
	return errors.New("disk full")
}

func TestPrefetchAbortsOnCacheWriteFailure(t *testing.T) {
	t.Parallel()

	c, err := cache.New(failingBackend{Backend: memory.New()}, cache.Options{})
	require.NoError(t, err)
	client := newFakeClient(map[string]fakeResponse{
		"https://x/a": {body: []byte("a")},
		"https://x/b": {body: []byte("b")},
	})
	f := New(c, client, nil, Options{Workers: 1})

	_, err = f.Prefetch(context.Background(), []string{"https://x/a", "https://x/b"})
	require.Error(t, err)
}

func TestCacheTimestampsUseCacheClock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	c, err := cache.New(memory.New(), cache.Options{MaxAge: time.Hour, Now: func() time.Time { return now }})
	require.NoError(t, err)
	client := newFakeClient(map[string]fakeResponse{"https://x": {body: []byte("v")}})
	f := New(c, client, nil, Options{})

	_, err = f.Get(ctx, "https://x")
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)
	_, err = f.Get(ctx, "https://x")
	require.NoError(t, err)
	assert.Equal(t, 2, client.callCount("https://x"))
}

type lookupCountingBackend struct {
	cache.Backend
	mu   sync.Mutex
	gets int
}

func (b *lookupCountingBackend) Get(ctx context.Context, key string) (cache.Blob, bool, error) {
	b.mu.Lock()
	b.gets++
	b.mu.Unlock()
	return b.Backend.Get(ctx, key)
}

func TestGetCacheHitIsOneLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := &lookupCountingBackend{Backend: memory.New()}
	c, err := cache.New(backend, cache.Options{})
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, "https://x/Companies", []byte("<ul></ul>")))
	client := newFakeClient(nil)
	f := New(c, client, nil, Options{})

	body, err := f.Get(ctx, "https://x/Companies")
	require.NoError(t, err)
	assert.Equal(t, "<ul></ul>", string(body))
	assert.Equal(t, 1, backend.gets)
	assert.Zero(t, client.callCount("https://x/Companies"))
}

func TestPrefetchLogsPoolSize(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	c, err := cache.New(memory.New(), cache.Options{})
	require.NoError(t, err)
	client := newFakeClient(map[string]fakeResponse{"https://x/a": {body: []byte("a")}})
	f := New(c, client, zap.New(core), Options{Workers: 7})

	_, err = f.Prefetch(context.Background(), []string{"https://x/a"})
	require.NoError(t, err)

	started := logs.FilterMessage("prefetch starting").All()
	require.Len(t, started, 1)
	assert.Equal(t, int64(7), started[0].ContextMap()["workers"])
}
