// Package sink defines where extracted records are written.
package sink

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Content types used by the crawler's outputs.
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain; charset=utf-8"
)

// Sink persists named documents and returns a URI for the stored copy.
type Sink interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	Close() error
}

// WriteJSON stores v as indented JSON under name.
func WriteJSON(ctx context.Context, s Sink, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", eris.Wrapf(err, "marshal %s", name)
	}
	return s.Put(ctx, name, ContentTypeJSON, data)
}

// WriteLines stores lines joined by newlines under name.
func WriteLines(ctx context.Context, s Sink, name string, lines []string) (string, error) {
	var buf bytes.Buffer
	for i, line := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
	}
	return s.Put(ctx, name, ContentTypeText, buf.Bytes())
}

// Multi writes to every sink in order and returns the first sink's URI.
type Multi []Sink

// Put implements Sink. The first failure stops the fan-out.
func (m Multi) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	var first string
	for i, s := range m {
		uri, err := s.Put(ctx, name, contentType, data)
		if err != nil {
			return "", err
		}
		if i == 0 {
			first = uri
		}
	}
	return first, nil
}

// Close closes every sink and returns the first error.
func (m Multi) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
