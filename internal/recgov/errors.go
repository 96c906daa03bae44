package recgov

import (
	"fmt"
	"net/http"
	"time"
)

// TransportError means the request did not succeed at the network or HTTP
// level: a connection failure, a timeout, or a non-2xx status.
type TransportError struct {
	URL        string
	StatusCode int    // 0 when no response was received
	Detail     string // raw error text or response body excerpt
	Err        error

	retryAfter time.Duration
	permanent  bool
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("request to %s failed with status %d: %s", e.URL, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("request to %s failed: %s", e.URL, e.Detail)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed: network errors,
// timeouts, 429 and 5xx are retryable, other statuses are not
func (e *TransportError) Retryable() bool {
	if e.permanent {
		return false
	}
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// DecodeError means the response body could not be decoded as JSON
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to parse response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
