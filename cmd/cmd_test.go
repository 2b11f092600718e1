package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-archive-crawler/internal/app"
	"github.com/JakeFAU/report-archive-crawler/internal/config"
	sinkmemory "github.com/JakeFAU/report-archive-crawler/internal/sink/memory"
)

const listingHTML = `<ul>
<li class="header_section"><span class="companyName">Name</span></li>
<li><span class="companyName"><a href="/Company/acme">Acme</a></span><span class="sectorName">Industrials</span></li>
<li><span class="companyName"><a href="/Company/gone">Gone Inc</a></span></li>
</ul>`

const acmeHTML = `<ul><li class="top_content_list"><span class="ticker_name">ACME</span>
<div class="right"><span class="blue_txt">x</span>NYSE</div></li></ul>
<div class="archived_report_content_block"><ul>
<li><span class="heading">2019 Annual Report</span>
  <span class="download"><a href="/HostedData/AnnualReportArchive/a/NYSE_ACME_2019.pdf">d</a></span></li>
<li><span class="heading">2018 Annual Report</span>
  <span class="download"><a href="/HostedData/AnnualReportArchive/a/NYSE_ACME_2018.pdf">d</a></span></li>
</ul></div>`

type fixture struct {
	srv         *httptest.Server
	cfg         config.Config
	searchCalls atomic.Int32
	pageCalls   atomic.Int32
	lastApp     *app.App
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	mux := http.NewServeMux()
	mux.HandleFunc("/Companies", func(w http.ResponseWriter, _ *http.Request) {
		f.pageCalls.Add(1)
		_, _ = io.WriteString(w, listingHTML)
	})
	mux.HandleFunc("/Company/acme", func(w http.ResponseWriter, _ *http.Request) {
		f.pageCalls.Add(1)
		_, _ = io.WriteString(w, acmeHTML)
	})
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls.Add(1)
		_, _ = io.WriteString(w, `{"term":"`+r.URL.Query().Get("param")+`"}`)
	})
	mux.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"`+r.URL.Query().Get("id")+`"}`)
	})
	mux.HandleFunc("/ip", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ip":"203.0.113.7"}`)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Cache.Backend = "local"
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.HTTP.CookieFile = filepath.Join(dir, "cookies.json")
	cfg.Sink.Backends = []string{"memory"}
	cfg.Sites.Annual.BaseURL = f.srv.URL
	cfg.Sites.Responsibility.BaseURL = f.srv.URL
	cfg.Investor.APIURL = f.srv.URL + "/api"
	cfg.Investor.StorageDir = filepath.Join(dir, "investor")
	f.cfg = cfg

	previous := newApp
	newApp = func(ctx context.Context, _ string, dryRun bool) (*app.App, error) {
		a, err := app.New(ctx, f.cfg, app.Options{Logger: zap.NewNop(), DryRun: dryRun})
		f.lastApp = a
		return a, err
	}
	t.Cleanup(func() { newApp = previous })
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (f *fixture) document(t *testing.T, name string) sinkmemory.Document {
	t.Helper()
	mem, ok := f.lastApp.Sink.(*sinkmemory.Sink)
	require.True(t, ok)
	doc, ok := mem.Get(name)
	require.True(t, ok, "document %s not written", name)
	return doc
}

func TestCompaniesCommand(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "companies", "--site", "annual")
	require.NoError(t, err)

	var companies []map[string]any
	require.NoError(t, json.Unmarshal(f.document(t, "companies-ar.json").Data, &companies))
	require.Len(t, companies, 2)
	assert.Equal(t, "acme", companies[0]["slug"])
	assert.Equal(t, "Industrials", companies[0]["sector"])
	assert.Nil(t, companies[1]["sector"])
}

func TestReportsCommand(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "reports", "--site", "annual")
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(f.document(t, "companies/acme-ar.json").Data, &rec))
	assert.Equal(t, "ACME", rec["ticker_name"])
	assert.Equal(t, "NYSE", rec["exchange"])
	assert.Equal(t, "a/NYSE_ACME", rec["report_key"])
	assert.Equal(t, []any{float64(2018), float64(2019)}, rec["years"])

	links := string(f.document(t, "links.txt").Data)
	assert.Equal(t, f.srv.URL+"/HostedData/AnnualReportArchive/a/NYSE_ACME_2018.pdf\n"+
		f.srv.URL+"/HostedData/AnnualReportArchive/a/NYSE_ACME_2019.pdf", links)

	mem := f.lastApp.Sink.(*sinkmemory.Sink)
	for _, doc := range mem.Documents() {
		assert.NotContains(t, doc.Name, "gone", "missing pages produce no record")
	}

	calls := f.pageCalls.Load()
	_, err = f.run(t, "reports", "--site", "annual")
	require.NoError(t, err)
	assert.Equal(t, calls, f.pageCalls.Load(), "second run is served from the cache")
}

func TestInvestorsSearchResumes(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "investors", "search", "--max-len", "1")
	require.NoError(t, err)
	assert.Equal(t, int32(36), f.searchCalls.Load())

	entries, err := os.ReadDir(f.cfg.Investor.StorageDir)
	require.NoError(t, err)
	assert.Len(t, entries, 36)
	data, err := os.ReadFile(filepath.Join(f.cfg.Investor.StorageDir, "index_q.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"term":"q"}`, string(data))

	_, err = f.run(t, "investors", "search", "--max-len", "1")
	require.NoError(t, err)
	assert.Equal(t, int32(36), f.searchCalls.Load())
}

func TestInvestorsInfo(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "investors", "info", "ABC")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(f.cfg.Investor.StorageDir, "info", "abc.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ABC"}`, string(data))
}

func TestCacheCommands(t *testing.T) {
	f := newFixture(t)
	listing := f.srv.URL + "/Companies"

	_, err := f.run(t, "companies", "--site", "annual")
	require.NoError(t, err)

	out, err := f.run(t, "cache", "rm-last", listing, f.srv.URL+"/Company/acme")
	require.NoError(t, err)
	assert.Equal(t, "removed\t"+listing+"\n", out)

	out, err = f.run(t, "cache", "rm", listing)
	require.NoError(t, err)
	assert.Equal(t, "not cached\t"+listing+"\n", out)

	out, err = f.run(t, "cache", "rm-last", listing)
	require.NoError(t, err)
	assert.Contains(t, out, "none of the pages is cached")
}

func TestIPInfoCommand(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "ipinfo", "--url", f.srv.URL+"/ip")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, `"ip": "203.0.113.7"`))
}

func TestUnknownSite(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "companies", "--site", "quarterly")
	require.Error(t, err)
}

func TestDryRunPersistsNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "--dry-run", "investors", "search", "--max-len", "1")
	require.NoError(t, err)
	assert.Equal(t, int32(36), f.searchCalls.Load())
	assert.NoDirExists(t, f.cfg.Investor.StorageDir)

	_, err = f.run(t, "--dry-run", "investors", "info", "ABC")
	require.NoError(t, err)
	assert.NoDirExists(t, f.cfg.Investor.StorageDir)

	_, err = f.run(t, "--dry-run", "companies", "--site", "annual", "--save-cookies")
	require.NoError(t, err)
	assert.NoFileExists(t, f.cfg.HTTP.CookieFile)
	assert.NoDirExists(t, f.cfg.Cache.Dir)

	_, err = f.run(t, "companies", "--site", "annual", "--save-cookies")
	require.NoError(t, err)
	assert.FileExists(t, f.cfg.HTTP.CookieFile)
}
