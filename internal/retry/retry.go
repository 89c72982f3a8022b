// Package retry provides retry policies with exponential backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"syscall"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1 // ensure fits in int64
	return int64(v % uint64(n))                //nolint:gosec // n>0, v%n < n, safe
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Policy decides whether a failed HTTP attempt should be retried and
// computes the delay before the next attempt. Immutable after construction.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt,
	// so a request makes at most MaxRetries+1 attempts.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// ExponentialBase is the backoff multiplier per attempt.
	ExponentialBase float64
	// Jitter randomizes each delay by a uniform factor in [0.5, 1.0]
	// to avoid clients retrying in lockstep.
	Jitter bool
	// RetryableStatuses is the set of HTTP status codes worth retrying.
	RetryableStatuses map[int]bool
}

// defaultRetryableStatuses covers timeouts, throttling, and upstream
// failures. 4xx codes other than 408/429 are never retried.
var defaultRetryableStatuses = map[int]bool{
	http.StatusRequestTimeout:     true, // 408
	http.StatusTooManyRequests:    true, // 429
	http.StatusBadGateway:         true, // 502
	http.StatusServiceUnavailable: true, // 503
	http.StatusGatewayTimeout:     true, // 504
}

// InternalPolicy returns the gentler profile used for service-to-service
// calls: internal services recover fast, so long waits just burn latency
// budget.
func InternalPolicy() Policy {
	return Policy{
		MaxRetries:        2,
		BaseDelay:         250 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		ExponentialBase:   1.5,
		Jitter:            true,
		RetryableStatuses: defaultRetryableStatuses,
	}
}

// ExternalPolicy returns the profile for general-purpose external APIs.
func ExternalPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		ExponentialBase:   2,
		Jitter:            true,
		RetryableStatuses: defaultRetryableStatuses,
	}
}

// RetryableError reports whether a transport-level error is worth retrying:
// timeouts, refused or reset connections, and truncated responses. Anything
// else (TLS failures, malformed URLs, protocol errors) fails immediately.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EPIPE,
		syscall.ETIMEDOUT,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	// Server closed the connection mid-response.
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// RetryableStatus reports whether an HTTP status code is worth retrying.
func (p Policy) RetryableStatus(code int) bool {
	statuses := p.RetryableStatuses
	if statuses == nil {
		statuses = defaultRetryableStatuses
	}
	return statuses[code]
}

// Delay computes the backoff before retrying the given 0-indexed attempt:
// min(base * expBase^attempt, max), optionally scaled by jitter in [0.5, 1.0].
func (p Policy) Delay(attempt int) time.Duration {
	base := p.ExponentialBase
	if base <= 0 {
		base = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(base, float64(attempt)))
	if d > p.MaxDelay || d < 0 { // negative on float overflow
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		// Uniform factor in [0.5, 1.0).
		half := int64(d) / 2
		d = time.Duration(half + cryptoInt64n(half+1))
	}
	return d
}

// Sleep blocks for the backoff of the given attempt, returning early with
// the context error if ctx is cancelled.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do calls fn up to maxAttempts times with exponential backoff and jitter.
// It stops early if:
//   - fn returns nil (success)
//   - fn returns a *PermanentError (not retryable)
//   - ctx is cancelled
//
// baseDelay is doubled on each retry with +-25% jitter.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't retry permanent errors.
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		// Don't sleep after the last attempt.
		if attempt == maxAttempts-1 {
			break
		}

		// Exponential backoff with +-25% jitter.
		jitter := delay / 4
		sleep := delay - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
	}

	return err
}
