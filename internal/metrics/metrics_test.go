package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	Init()
	Init()

	if cacheLookupsTotal == nil || fetchPagesTotal == nil || enumerateTermsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss"))
	evicted := testutil.ToFloat64(cacheEvictionsTotal)
	written := testutil.ToFloat64(cacheWriteBytesTotal)
	r.CacheHit()
	r.CacheMiss()
	r.CacheMiss()
	r.CacheEvicted()
	r.CacheWrite(128)
	assert.InDelta(t, hits+1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")), 0)
	assert.InDelta(t, misses+2, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss")), 0)
	assert.InDelta(t, evicted+1, testutil.ToFloat64(cacheEvictionsTotal), 0)
	assert.InDelta(t, written+128, testutil.ToFloat64(cacheWriteBytesTotal), 0)

	pages := testutil.ToFloat64(fetchPagesTotal.WithLabelValues("www.annualreports.com", "fetched"))
	bytesServed := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("www.annualreports.com"))
	r.FetchOutcome("https://WWW.annualreports.com/Company/acme", "fetched", 512)
	assert.InDelta(t, pages+1, testutil.ToFloat64(fetchPagesTotal.WithLabelValues("www.annualreports.com", "fetched")), 0)
	assert.InDelta(t, bytesServed+512, testutil.ToFloat64(fetchBytesTotal.WithLabelValues("www.annualreports.com")), 0)

	saved := testutil.ToFloat64(enumerateTermsTotal.WithLabelValues("saved"))
	r.TermOutcome("saved")
	assert.InDelta(t, saved+1, testutil.ToFloat64(enumerateTermsTotal.WithLabelValues("saved")), 0)
}

func TestObservePrefetch(t *testing.T) {
	Init()
	failed := testutil.ToFloat64(prefetchBatchesTotal.WithLabelValues("failed"))
	ObservePrefetch(3, 2, 1)
	assert.InDelta(t, failed+1, testutil.ToFloat64(prefetchBatchesTotal.WithLabelValues("failed")), 0)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
