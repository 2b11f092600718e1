// Package httpclient wraps a colly collector into a long-lived browser-like
// HTTP session: shared cookie jar, default headers, optional proxy.
package httpclient

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// Config controls the session.
type Config struct {
	UserAgent          string
	Timeout            time.Duration
	InsecureSkipVerify bool
	MaxBodyBytes       int
	CookieFile         string
	Cookies            map[string]string
	Proxy              Proxy
	// TLSFingerprint names the browser ClientHello used for HTTPS; "" means
	// chrome and "none" keeps the Go handshake.
	TLSFingerprint string
	// ReadOnlyCookies loads CookieFile but never writes it back.
	ReadOnlyCookies bool
}

// Response is a completed 200 response.
type Response struct {
	// RequestURL is the URL the caller asked for.
	RequestURL string
	// URL is the canonical URL after redirects.
	URL        string
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Session issues requests through one shared collector backend.
type Session struct {
	cfg       Config
	logger    *zap.Logger
	collector *colly.Collector

	mu      sync.RWMutex
	headers http.Header
	cookies map[string]string
}

type requestOptions struct {
	header      http.Header
	saveCookies bool
}

// RequestOption customises a single request.
type RequestOption func(*requestOptions)

// WithHeader adds a header to one request.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Set(key, value)
	}
}

// WithSaveCookies persists the jar's cookies for the URL after a 200.
func WithSaveCookies() RequestOption {
	return func(o *requestOptions) { o.saveCookies = true }
}

// New builds a Session. Cookies from cfg.CookieFile (if present) and
// cfg.Cookies are imported, and cfg.Proxy is applied when it has a host.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	hello, impersonate, err := ParseFingerprint(cfg.TLSFingerprint)
	if err != nil {
		return nil, err
	}

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	transport := newHTTPTransport(cfg.InsecureSkipVerify)
	if impersonate {
		// Used for direct HTTPS only; proxied requests keep crypto/tls.
		transport.DialTLSContext = (&helloDialer{
			dialer:   newDialer(),
			hello:    hello,
			insecure: cfg.InsecureSkipVerify,
		}).DialTLSContext
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, eris.Wrap(err, "create cookie jar")
	}
	c.SetCookieJar(jar)

	s := &Session{
		cfg:       cfg,
		logger:    logger.Named("http"),
		collector: c,
		headers:   http.Header{},
		cookies:   map[string]string{},
	}

	stored, err := loadCookieFile(cfg.CookieFile)
	if err != nil {
		return nil, err
	}
	s.ImportCookies(stored)
	s.ImportCookies(cfg.Cookies)

	if cfg.Proxy.Host != "" {
		if err := s.SetProxy(cfg.Proxy); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get issues a GET request.
func (s *Session) Get(ctx context.Context, rawURL string, opts ...RequestOption) (Response, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return s.do(ctx, http.MethodGet, rawURL, nil, o)
}

// Post issues a form-encoded POST with extra headers.
func (s *Session) Post(ctx context.Context, rawURL string, form url.Values, hdr http.Header) (Response, error) {
	o := requestOptions{header: hdr}
	return s.do(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), o)
}

// SetReferer makes later requests carry Referer=rawURL and Host=its authority.
func (s *Session) SetReferer(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return eris.Errorf("referer must be an absolute URL, got %q", rawURL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers.Set("Referer", rawURL)
	s.headers.Set("Host", strings.ToLower(u.Host))
	return nil
}

// SetHeader sets a default header for every later request.
func (s *Session) SetHeader(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers.Set(key, value)
}

// SetProxy routes HTTP and HTTPS traffic through p.
func (s *Session) SetProxy(p Proxy) error {
	if strings.TrimSpace(p.Host) == "" {
		return eris.New("proxy host is required")
	}
	proxyURL := BuildProxyURL(p)
	if err := s.collector.SetProxy(proxyURL); err != nil {
		return eris.Wrap(err, "set proxy")
	}
	s.logger.Info("proxy enabled",
		zap.String("protocol", p.Protocol),
		zap.String("host", p.Host),
		zap.Int("port", p.Port),
	)
	return nil
}

// ImportCookies adds name/value cookies sent with every request.
func (s *Session) ImportCookies(cookies map[string]string) {
	if len(cookies) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, value := range cookies {
		s.cookies[name] = value
	}
}

// Cookies returns the cookies the session would send to rawURL.
func (s *Session) Cookies(rawURL string) map[string]string {
	out := map[string]string{}
	s.mu.RLock()
	for name, value := range s.cookies {
		out[name] = value
	}
	s.mu.RUnlock()
	for _, c := range s.collector.Cookies(rawURL) {
		out[c.Name] = c.Value
	}
	return out
}

// SaveCookies writes the cookies for rawURL to the configured cookie file.
func (s *Session) SaveCookies(rawURL string) error {
	if s.cfg.CookieFile == "" {
		return eris.New("no cookie file configured")
	}
	cookies := s.Cookies(rawURL)
	if s.cfg.ReadOnlyCookies {
		s.logger.Debug("cookie file is read-only, not saving", zap.Int("count", len(cookies)))
		return nil
	}
	if err := writeCookieFile(s.cfg.CookieFile, cookies); err != nil {
		return err
	}
	s.logger.Debug("cookies saved", zap.String("path", s.cfg.CookieFile), zap.Int("count", len(cookies)))
	return nil
}

func (s *Session) do(ctx context.Context, method, rawURL string, body io.Reader, o requestOptions) (Response, error) {
	collector := s.collector.Clone()
	collector.Context = ctx

	var resp Response
	collector.OnResponse(func(r *colly.Response) {
		data := make([]byte, len(r.Body))
		copy(data, r.Body)
		resp = Response{
			RequestURL: rawURL,
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       data,
			Header:     r.Headers.Clone(),
		}
	})

	start := time.Now()
	hdr := s.requestHeaders(o.header)
	err := runCollector(ctx, func() error {
		return collector.Request(method, rawURL, body, nil, hdr)
	})
	if err != nil {
		s.logger.Debug("request failed", zap.String("method", method), zap.String("url", rawURL), zap.Error(err))
		return Response{}, &FetchError{URL: rawURL, Err: err}
	}
	s.logger.Debug("request complete",
		zap.String("method", method),
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", time.Since(start)),
	)
	if resp.StatusCode != http.StatusOK {
		return resp, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if o.saveCookies {
		if err := s.SaveCookies(rawURL); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// requestHeaders snapshots browser defaults, session headers, imported
// cookies and per-request extras, in increasing precedence.
func (s *Session) requestHeaders(extra http.Header) http.Header {
	hdr := browserHeaders(s.cfg.UserAgent)

	s.mu.RLock()
	for k, v := range s.headers {
		hdr[k] = append([]string(nil), v...)
	}
	if len(s.cookies) > 0 {
		names := make([]string, 0, len(s.cookies))
		for name := range s.cookies {
			names = append(names, name)
		}
		sort.Strings(names)
		pairs := make([]string, 0, len(names))
		for _, name := range names {
			pairs = append(pairs, (&http.Cookie{Name: name, Value: s.cookies[name]}).String())
		}
		hdr.Set("Cookie", strings.Join(pairs, "; "))
	}
	s.mu.RUnlock()

	for k, v := range extra {
		hdr[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	return hdr
}

func runCollector(ctx context.Context, visit func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "request canceled")
	case err := <-done:
		if err != nil {
			return eris.Wrap(err, "colly request failed")
		}
		return nil
	}
}

func newHTTPTransport(insecure bool) *http.Transport {
	return &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: newDialer().DialContext,
		// #nosec G402 -- the directory sites serve broken chains; verification is configurable.
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecure, MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

func newDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
}
