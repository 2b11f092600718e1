package sink_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/report-archive-crawler/internal/sink"
	"github.com/JakeFAU/report-archive-crawler/internal/sink/memory"
)

func TestWriteJSONIndents(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	uri, err := sink.WriteJSON(context.Background(), mem, "companies-ar.json", map[string]any{"slug": "acme"})
	require.NoError(t, err)
	assert.Equal(t, "memory://companies-ar.json", uri)

	doc, ok := mem.Get("companies-ar.json")
	require.True(t, ok)
	assert.Equal(t, sink.ContentTypeJSON, doc.ContentType)
	assert.Equal(t, "{\n  \"slug\": \"acme\"\n}", string(doc.Data))
}

func TestWriteJSONRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := sink.WriteJSON(context.Background(), memory.New(), "bad.json", make(chan int))
	require.Error(t, err)
}

func TestWriteLines(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	_, err := sink.WriteLines(context.Background(), mem, "links.txt", []string{"a", "b"})
	require.NoError(t, err)
	doc, ok := mem.Get("links.txt")
	require.True(t, ok)
	assert.Equal(t, "a\nb", string(doc.Data))
	assert.Equal(t, sink.ContentTypeText, doc.ContentType)
}

type failingSink struct{ closed bool }

func (f *failingSink) Put(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("unavailable")
}

func (f *failingSink) Close() error {
	f.closed = true
	return errors.New("close failed")
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a, b := memory.New(), memory.New()
	uri, err := sink.Multi{a, b}.Put(context.Background(), "x.json", sink.ContentTypeJSON, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "memory://x.json", uri)
	assert.Len(t, a.Documents(), 1)
	assert.Len(t, b.Documents(), 1)
}

func TestMultiStopsOnFailure(t *testing.T) {
	t.Parallel()

	after := memory.New()
	failing := &failingSink{}
	m := sink.Multi{failing, after}
	_, err := m.Put(context.Background(), "x.json", sink.ContentTypeJSON, []byte("{}"))
	require.Error(t, err)
	assert.Empty(t, after.Documents())

	require.Error(t, m.Close())
	assert.True(t, failing.closed)
}
