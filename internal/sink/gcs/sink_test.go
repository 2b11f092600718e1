package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/report-archive-crawler/internal/sink/gcs"
)

func newTestSink(t *testing.T, handler http.Handler, prefix string) *gcs.Sink {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, err := gcs.New(client, gcs.Config{Bucket: "reports", Prefix: prefix}, nil)
	require.NoError(t, err)
	return s
}

func TestPutUploadsObject(t *testing.T) {
	t.Parallel()

	var (
		path string
		name string
		body string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		name = r.URL.Query().Get("name")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		fmt.Fprintln(w, `{"name": "`+name+`", "bucket": "reports"}`)
	})

	s := newTestSink(t, handler, "/runs/1/")
	uri, err := s.Put(context.Background(), "companies/acme-ar.json", "application/json", []byte(`{"slug":"acme"}`))
	require.NoError(t, err)

	assert.Equal(t, "gs://reports/runs/1/companies/acme-ar.json", uri)
	assert.Contains(t, path, "/upload/storage/v1/b/reports/o")
	assert.Equal(t, "runs/1/companies/acme-ar.json", name)
	assert.True(t, strings.Contains(body, `{"slug":"acme"}`))
	assert.Contains(t, body, "application/json")
}

func TestPutReportsServerErrors(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	s := newTestSink(t, handler, "")
	_, err := s.Put(context.Background(), "x.json", "application/json", []byte("{}"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"}, nil)
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{}, nil)
	require.Error(t, err)

	s, err := gcs.New(client, gcs.Config{Bucket: "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x.json", s.ObjectName("x.json"))
	_, err = s.Put(context.Background(), " ", "", nil)
	require.Error(t, err)
	require.NoError(t, s.Close())
}

func TestOpenChecksBucket(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/b/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintln(w, `{"name": "reports"}`)
	}))
	defer server.Close()

	opts := []option.ClientOption{option.WithEndpoint(server.URL), option.WithoutAuthentication()}
	s, err := gcs.Open(context.Background(), gcs.Config{Bucket: "reports"}, nil, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = gcs.Open(context.Background(), gcs.Config{Bucket: "missing"}, nil, opts...)
	require.Error(t, err)
}
