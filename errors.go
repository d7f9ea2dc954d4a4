package quip

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitExhausted is returned when a path has collected more
	// rate-limit responses than the client allows.
	ErrRateLimitExhausted = errors.New("quip: rate limit retries exhausted")

	// ErrResponseTooLarge is returned when a response body exceeds the
	// configured maximum size.
	ErrResponseTooLarge = errors.New("quip: response body too large")
)

// StatusError reports a non-success response that is not retried.
type StatusError struct {
	Status int
	Path   string
	Body   []byte
}

func (e *StatusError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("quip: GET %s: HTTP %d", e.Path, e.Status)
	}
	return fmt.Sprintf("quip: GET %s: HTTP %d: %s", e.Path, e.Status, e.Body)
}
