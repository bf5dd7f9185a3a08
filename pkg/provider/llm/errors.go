package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyReply is returned when a backend answered successfully but the reply
// text is empty after trimming whitespace.
var ErrEmptyReply = errors.New("llm: empty reply")

// ErrMalformedReply is returned when a backend answered with a 2xx status but
// the body is empty, is not JSON, or lacks the expected reply field.
var ErrMalformedReply = errors.New("llm: malformed reply")

// StatusError reports a non-2xx HTTP status from a backend. Body holds at most
// the first few KiB of the response and is meant for logs only.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("llm: unexpected status %d: %s", e.StatusCode, e.Body)
}
