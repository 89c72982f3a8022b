package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestPolicy_DelayMonotonicNoJitter(t *testing.T) {
	p := Policy{
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2,
	}

	prev := time.Duration(-1)
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Delay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > p.MaxDelay {
			t.Fatalf("delay %v exceeds max %v at attempt %d", d, p.MaxDelay, attempt)
		}
		prev = d
	}
}

func TestPolicy_DelayCapsAtMax(t *testing.T) {
	p := Policy{
		BaseDelay:       time.Second,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2,
	}
	if d := p.Delay(10); d != 5*time.Second {
		t.Fatalf("expected capped delay 5s, got %v", d)
	}
	// Large attempt numbers must not overflow past the cap.
	if d := p.Delay(200); d != 5*time.Second {
		t.Fatalf("expected capped delay 5s on huge attempt, got %v", d)
	}
}

func TestPolicy_JitterWithinBounds(t *testing.T) {
	p := Policy{
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		ExponentialBase: 2,
		Jitter:          true,
	}
	for i := 0; i < 50; i++ {
		d := p.Delay(0)
		if d < 500*time.Millisecond || d > time.Second {
			t.Fatalf("jittered delay %v outside [0.5s, 1s]", d)
		}
	}
}

func TestPolicy_RetryableStatuses(t *testing.T) {
	p := InternalPolicy()

	for _, code := range []int{408, 429, 502, 503, 504} {
		if !p.RetryableStatus(code) {
			t.Errorf("expected %d to be retryable", code)
		}
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422, 500} {
		if p.RetryableStatus(code) {
			t.Errorf("expected %d to not be retryable", code)
		}
	}
}

func TestPolicy_InternalGentlerThanExternal(t *testing.T) {
	in, ex := InternalPolicy(), ExternalPolicy()
	if in.MaxRetries >= ex.MaxRetries {
		t.Errorf("internal retries %d should be fewer than external %d", in.MaxRetries, ex.MaxRetries)
	}
	if in.BaseDelay >= ex.BaseDelay {
		t.Errorf("internal base delay %v should be below external %v", in.BaseDelay, ex.BaseDelay)
	}
	if in.ExponentialBase >= ex.ExponentialBase {
		t.Errorf("internal exponent %f should be below external %f", in.ExponentialBase, ex.ExponentialBase)
	}
	if in.MaxDelay >= ex.MaxDelay {
		t.Errorf("internal max delay %v should be below external %v", in.MaxDelay, ex.MaxDelay)
	}
}

func TestPolicy_SleepHonorsCancellation(t *testing.T) {
	p := Policy{BaseDelay: time.Minute, MaxDelay: time.Minute, ExponentialBase: 2}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.Sleep(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep did not return promptly on cancellation")
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessOnRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_AllAttemptsExhausted(t *testing.T) {
	var calls int
	sentinel := errors.New("always fails")
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorStopsRetry(t *testing.T) {
	var calls int
	sentinel := errors.New("permanent failure")
	err := Do(context.Background(), 5, 10*time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (permanent error should stop retries), got %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	go func() {
		// Cancel after first attempt has time to run.
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls.Add(1)
		return errors.New("fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// Should have run 1-2 times before context cancelled during sleep.
	if c := calls.Load(); c > 3 {
		t.Fatalf("expected at most 3 calls, got %d", c)
	}
}

func TestPermanent_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	pe := Permanent(inner)
	if !errors.Is(pe, inner) {
		t.Fatal("Permanent error should unwrap to inner error")
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("request: %w", context.DeadlineExceeded), true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"connection reset", syscall.ECONNRESET, true},
		{"broken pipe", syscall.EPIPE, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"plain error", errors.New("something else"), false},
		{"context cancelled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryableError(tt.err); got != tt.want {
				t.Errorf("RetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
