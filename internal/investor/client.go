// Package investor talks to the investor-profile API.
package investor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-archive-crawler/internal/httpclient"
)

// Poster is the subset of httpclient.Session the client needs.
type Poster interface {
	Post(ctx context.Context, rawURL string, form url.Values, hdr http.Header) (httpclient.Response, error)
}

// Config describes the API endpoint and the headers it expects.
type Config struct {
	APIURL        string
	Origin        string
	Platform      string
	Authorization string
	PerPage       int
}

// Client issues search and info calls. Responses are returned verbatim.
type Client struct {
	cfg    Config
	poster Poster
	logger *zap.Logger
}

// New validates cfg and wires a Client.
func New(cfg Config, poster Poster, logger *zap.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.APIURL); err != nil {
		return nil, eris.Wrapf(err, "invalid investor api url %q", cfg.APIURL)
	}
	if poster == nil {
		return nil, eris.New("investor client requires an http session")
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 25
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{cfg: cfg, poster: poster, logger: logger.Named("investor")}, nil
}

// SearchURL is the search endpoint for term.
func (c *Client) SearchURL(term string) string {
	q := url.Values{}
	q.Set("per-page", strconv.Itoa(c.cfg.PerPage))
	q.Set("page", "1")
	q.Set("sort", "name")
	q.Set("param", term)
	return c.cfg.APIURL + "/search?" + q.Encode()
}

// InfoURL is the profile endpoint for a company id.
func (c *Client) InfoURL(id string) string {
	q := url.Values{}
	q.Set("id", id)
	q.Set("expand", "securityListings.quote")
	return c.cfg.APIURL + "/info?" + q.Encode()
}

// Search returns the raw search response for term.
func (c *Client) Search(ctx context.Context, term string) ([]byte, error) {
	return c.call(ctx, c.SearchURL(term))
}

// Info returns the raw profile for id.
func (c *Client) Info(ctx context.Context, id string) ([]byte, error) {
	return c.call(ctx, c.InfoURL(id))
}

func (c *Client) headers() http.Header {
	hdr := http.Header{}
	hdr.Set("Origin", c.cfg.Origin)
	hdr.Set("Referer", c.cfg.Origin)
	hdr.Set("isdrplatform", c.cfg.Platform)
	hdr.Set("Authorization", c.cfg.Authorization)
	hdr.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	return hdr
}

// call posts to rawURL and returns the body when it is valid JSON.
func (c *Client) call(ctx context.Context, rawURL string) ([]byte, error) {
	c.logger.Debug("calling api", zap.String("url", rawURL))
	resp, err := c.poster.Post(ctx, rawURL, nil, c.headers())
	if err != nil {
		return nil, err
	}
	if !json.Valid(resp.Body) {
		return nil, eris.Errorf("response from %s is not JSON", rawURL)
	}
	return resp.Body, nil
}
