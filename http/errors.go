package http

import (
	"errors"
	"fmt"
	"time"

	"ytingest/quota"
)

// RateLimitError is a 429 or 503 answer. RetryAfter is the pause the
// limiter settled on, at least the server's Retry-After hint.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return fmt.Sprintf("throttled by upstream (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("throttled by upstream (status %d), pausing %v", e.StatusCode, e.RetryAfter)
}

// HTTPError is any other non-2xx answer. Body holds at most the first 64 KiB.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream answered %d", e.StatusCode)
}

// QuotaError is an upstream quota rejection. It matches quota.ErrExceeded so
// callers treat it like a local budget breach.
type QuotaError struct {
	StatusCode int
	// Reason is the Google API error reason, e.g. "quotaExceeded".
	Reason  string
	Message string
}

func (e *QuotaError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("upstream quota exceeded (status %d, %s)", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("upstream quota exceeded (status %d)", e.StatusCode)
}

// Is makes errors.Is(err, quota.ErrExceeded) hold.
func (e *QuotaError) Is(target error) bool { return target == quota.ErrExceeded }

var (
	// ErrNoResponse means the request finished without an answer to return.
	ErrNoResponse = errors.New("http: no response")
	// ErrRequestFailed wraps transport failures such as a refused connection.
	ErrRequestFailed = errors.New("http: request failed")
)
