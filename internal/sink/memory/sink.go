// Package memory keeps written documents in memory for tests and dry runs.
package memory

import (
	"context"
	"sync"
)

// Document is one recorded Put call.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Sink records documents in write order.
type Sink struct {
	mu   sync.RWMutex
	docs []Document
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{}
}

// Put records a copy of data.
func (s *Sink) Put(_ context.Context, name, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, Document{Name: name, ContentType: contentType, Data: append([]byte(nil), data...)})
	return "memory://" + name, nil
}

// Documents returns the recorded documents.
func (s *Sink) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// Get returns the latest document stored under name.
func (s *Sink) Get(name string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.docs) - 1; i >= 0; i-- {
		if s.docs[i].Name == name {
			return s.docs[i], true
		}
	}
	return Document{}, false
}

// Close is a no-op.
func (s *Sink) Close() error { return nil }
