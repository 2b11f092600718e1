package httpclient

import (
	"errors"
	"fmt"
)

// ErrStatus marks a response whose status code was not 200.
var ErrStatus = errors.New("unexpected http status")

// FetchError describes a failed request: either a non-200 status or a
// transport failure (StatusCode is zero in that case).
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	if e.Err == nil && e.StatusCode != 0 {
		return ErrStatus
	}
	return e.Err
}

// Transport reports whether the request never produced a response.
func (e *FetchError) Transport() bool {
	return e.StatusCode == 0
}
