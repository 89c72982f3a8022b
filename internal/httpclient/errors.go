package httpclient

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned when no connection slot is available for the
// target host. It is distinct from transport errors so callers can apply
// backpressure instead of blind retry.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// CircuitOpenError is returned when the circuit for a host is open.
// No network attempt was made.
type CircuitOpenError struct {
	Host string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for host %s", e.Host)
}

// TransportError is a network-level or retryable-status failure surfaced
// after retries are exhausted. StatusCode is zero when the failure happened
// below the HTTP layer.
type TransportError struct {
	Host       string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s failed after %d attempts: HTTP %d", e.Host, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.Host, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ClientError is a non-retryable 4xx response, surfaced immediately.
type ClientError struct {
	Host       string
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("host %s returned HTTP %d", e.Host, e.StatusCode)
}
