package extract

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Field is a value that may be absent from the source document. Absent
// fields marshal as JSON null.
type Field[T any] struct {
	value T
	ok    bool
}

// Some returns a populated field.
func Some[T any](v T) Field[T] {
	return Field[T]{value: v, ok: true}
}

// None returns an absent field.
func None[T any]() Field[T] {
	return Field[T]{}
}

// Get returns the value and whether it is present.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.ok
}

// Valid reports whether the field is present.
func (f Field[T]) Valid() bool {
	return f.ok
}

// OrZero returns the value, or T's zero value when absent.
func (f Field[T]) OrZero() T {
	return f.value
}

// Map applies fn to a present value.
func Map[T, U any](f Field[T], fn func(T) U) Field[U] {
	if !f.ok {
		return None[U]()
	}
	return Some(fn(f.value))
}

// MarshalJSON implements json.Marshaler.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.ok {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Field[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Some(v)
	return nil
}

// text collapses runs of whitespace and reports absence for empty strings.
func text(s string) Field[string] {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return None[string]()
	}
	return Some(s)
}
