// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookupsTotal          *prometheus.CounterVec
	cacheEvictionsTotal        prometheus.Counter
	cacheWriteBytesTotal       prometheus.Counter
	fetchPagesTotal            *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	prefetchBatchesTotal       *prometheus.CounterVec
	enumerateTermsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_cache_lookups_total",
				Help: "Fetch cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		cacheEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fetch_cache_evictions_total",
				Help: "Entries dropped from the fetch cache because they exceeded the max age.",
			},
		)

		cacheWriteBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fetch_cache_write_bytes_total",
				Help: "Uncompressed bytes written to the fetch cache.",
			},
		)

		fetchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages served, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes served, labeled by site.",
			},
			[]string{"site"},
		)

		prefetchBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_prefetch_urls_total",
				Help: "URLs handled by prefetch batches, labeled by result.",
			},
			[]string{"result"},
		)

		enumerateTermsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_search_terms_total",
				Help: "Search terms processed by the enumerator, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one served page.
func ObserveFetch(site, outcome string, bytesServed int) {
	sanitizedSite := SanitizeSite(site)
	fetchPagesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesServed > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesServed))
	}
}

// ObservePrefetch adds the tallies of one prefetch batch.
func ObservePrefetch(cached, fetched, failed int) {
	prefetchBatchesTotal.WithLabelValues("cached").Add(float64(cached))
	prefetchBatchesTotal.WithLabelValues("fetched").Add(float64(fetched))
	prefetchBatchesTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Recorder feeds cache, fetch and enumeration events into the collectors.
// It satisfies cache.Observer, fetch.Observer and enumerate.Observer.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// CacheHit implements cache.Observer.
func (Recorder) CacheHit() { cacheLookupsTotal.WithLabelValues("hit").Inc() }

// CacheMiss implements cache.Observer.
func (Recorder) CacheMiss() { cacheLookupsTotal.WithLabelValues("miss").Inc() }

// CacheEvicted implements cache.Observer.
func (Recorder) CacheEvicted() { cacheEvictionsTotal.Inc() }

// CacheWrite implements cache.Observer.
func (Recorder) CacheWrite(size int) { cacheWriteBytesTotal.Add(float64(size)) }

// FetchOutcome implements fetch.Observer.
func (Recorder) FetchOutcome(rawURL, outcome string, size int) {
	ObserveFetch(rawURL, outcome, size)
}

// TermOutcome implements enumerate.Observer.
func (Recorder) TermOutcome(outcome string) {
	enumerateTermsTotal.WithLabelValues(outcome).Inc()
}
