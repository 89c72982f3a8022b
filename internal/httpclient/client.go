// Package httpclient provides a resilient HTTP client for service-to-service
// communication: pooled connections, per-host circuit breakers, retries with
// exponential backoff, and request metrics.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mbd888/sentinel/internal/circuitbreaker"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/retry"
	"github.com/mbd888/sentinel/internal/traces"
)

const maxResponseSize = 5 * 1024 * 1024 // 5MB

// Config composes the client's fault-tolerance knobs.
type Config struct {
	Breaker   circuitbreaker.Config
	Policy    retry.Policy
	Pool      PoolConfig
	UserAgent string
}

// DefaultConfig returns the profile for internal service traffic.
func DefaultConfig() Config {
	return Config{
		Breaker:   circuitbreaker.DefaultConfig(),
		Policy:    retry.InternalPolicy(),
		Pool:      DefaultPoolConfig(),
		UserAgent: "sentinel-client/1.0",
	}
}

// Response is the parsed result of a request. JSON holds the decoded body
// when the response was valid JSON; otherwise Raw holds the body text.
// A non-JSON body is never an error by itself.
type Response struct {
	StatusCode int
	JSON       map[string]interface{}
	Raw        string
	Latency    time.Duration
}

// Client executes logical HTTP requests with pooling, circuit breaking,
// retries, and metrics. Safe for concurrent use; construct once at the
// composition root and inject it where needed.
type Client struct {
	cfg      Config
	pool     *Pool
	breaker  *circuitbreaker.Breaker
	recorder *Recorder
	logger   *slog.Logger
}

// New creates a resilient HTTP client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	return &Client{
		cfg:      cfg,
		pool:     NewPool(cfg.Pool),
		breaker:  circuitbreaker.New(cfg.Breaker),
		recorder: NewRecorder(),
		logger:   logger,
	}
}

// Breaker exposes the per-host circuit breakers for read-only snapshotting
// by the monitor.
func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

// Recorder exposes the request metrics recorder.
func (c *Client) Recorder() *Recorder {
	return c.recorder
}

// Stats returns a computed snapshot of request metrics.
func (c *Client) Stats() Stats {
	return c.recorder.Stats()
}

// CloseIdle closes idle pooled connections. Called during shutdown.
func (c *Client) CloseIdle() {
	c.pool.CloseIdle()
}

// BreakerSnapshot returns a point-in-time copy of one host's breaker state.
func (c *Client) BreakerSnapshot(host string) circuitbreaker.Snapshot {
	return c.breaker.Snapshot(host)
}

// AvgLatencyMS returns the average recorded latency for a host in
// milliseconds, over the bounded sample window.
func (c *Client) AvgLatencyMS(host string) float64 {
	return c.recorder.AvgLatencyMS(host)
}

// requestOptions collects per-request settings.
type requestOptions struct {
	reqType RequestType
	headers map[string]string
	body    interface{}
	timeout time.Duration // overrides the profile's total timeout when > 0
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

// WithType selects the timeout profile for the request.
func WithType(rt RequestType) RequestOption {
	return func(o *requestOptions) { o.reqType = rt }
}

// WithHeaders adds headers to the request.
func WithHeaders(h map[string]string) RequestOption {
	return func(o *requestOptions) { o.headers = h }
}

// WithJSON sets a JSON request body.
func WithJSON(v interface{}) RequestOption {
	return func(o *requestOptions) { o.body = v }
}

// WithTimeout overrides the profile's total timeout.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodGet, rawURL, opts...)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPost, rawURL, opts...)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPut, rawURL, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, rawURL, opts...)
}

// Request executes one logical HTTP request end to end: the target host's
// circuit breaker gates execution, the pool bounds concurrency, transient
// failures are retried per the policy, and the outcome is recorded exactly
// once against the breaker and the metrics recorder.
func (c *Client) Request(ctx context.Context, method, rawURL string, opts ...RequestOption) (*Response, error) {
	o := requestOptions{reqType: TypeQuery}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	// Each literal host:port string is its own breaker scope.
	host := u.Host

	if !c.breaker.Allow(host) {
		metrics.ClientBlockedTotal.WithLabelValues(host).Inc()
		c.logger.Warn("request blocked by open circuit", "host", host, "method", method)
		return nil, &CircuitOpenError{Host: host}
	}

	ctx, span := traces.StartSpan(ctx, "httpclient.request",
		traces.Host(host), traces.ReqType(string(o.reqType)))
	defer span.End()

	var bodyBytes []byte
	if o.body != nil {
		bodyBytes, err = json.Marshal(o.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	profile := ProfileFor(o.reqType)
	total := profile.Total
	if o.timeout > 0 {
		total = o.timeout
	}

	start := time.Now()
	resp, retried, err := c.attemptLoop(ctx, method, rawURL, host, o, bodyBytes, total)
	elapsed := time.Since(start)

	success := err == nil
	if success {
		c.breaker.RecordSuccess(host)
	} else {
		var coe *CircuitOpenError
		if !errors.As(err, &coe) && !errors.Is(err, ErrPoolExhausted) && !errors.Is(err, context.Canceled) {
			// One breaker failure per logical request, not per attempt.
			c.breaker.RecordFailure(host)
		}
	}
	c.recorder.Record(host, o.reqType, success, elapsed, retried)

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	metrics.ClientRequestsTotal.WithLabelValues(host, string(o.reqType), outcome).Inc()
	metrics.ClientRequestDuration.WithLabelValues(host, string(o.reqType)).Observe(elapsed.Seconds())

	if err != nil {
		return nil, err
	}
	resp.Latency = elapsed
	return resp, nil
}

// attemptLoop runs up to MaxRetries+1 attempts, sleeping per the backoff
// policy between retryable failures. The returned bool reports whether at
// least one retry happened.
func (c *Client) attemptLoop(ctx context.Context, method, rawURL, host string, o requestOptions, body []byte, total time.Duration) (*Response, bool, error) {
	var lastErr error
	lastStatus := 0
	retried := false

	maxAttempts := c.cfg.Policy.MaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, status, err := c.attempt(ctx, method, rawURL, host, o, body, total)
		if err == nil && status < 400 {
			// Success: status < 400 (3xx counts as success).
			return resp, retried, nil
		}

		if err == nil {
			// HTTP-level failure. 4xx other than 408/429 is a hard error.
			if !c.cfg.Policy.RetryableStatus(status) && status < 500 {
				return nil, retried, &ClientError{Host: host, StatusCode: status, Body: resp.Raw}
			}
			lastStatus = status
			lastErr = fmt.Errorf("HTTP %d from %s", status, host)
		} else {
			if errors.Is(err, ErrPoolExhausted) {
				metrics.PoolExhaustedTotal.WithLabelValues(host).Inc()
				return nil, retried, err
			}
			var pe *retry.PermanentError
			if errors.As(err, &pe) {
				return nil, retried, pe.Err
			}
			if ctx.Err() != nil {
				return nil, retried, ctx.Err()
			}
			if !retry.RetryableError(err) {
				return nil, retried, &TransportError{Host: host, Attempts: attempt + 1, Err: err}
			}
			lastErr = err
			lastStatus = 0
		}

		// Retryable failure: back off unless this was the final attempt.
		if attempt < maxAttempts-1 {
			retried = true
			metrics.ClientRetriesTotal.WithLabelValues(host).Inc()
			c.logger.Debug("retrying request",
				"host", host, "method", method, "attempt", attempt+1,
				"status", lastStatus, "error", lastErr)
			if err := c.cfg.Policy.Sleep(ctx, attempt); err != nil {
				return nil, retried, err
			}
		}
	}

	c.logger.Warn("request failed after retries",
		"host", host, "method", method, "attempts", maxAttempts,
		"status", lastStatus, "error", lastErr)
	return nil, retried, &TransportError{Host: host, Attempts: maxAttempts, StatusCode: lastStatus, Err: lastErr}
}

// attempt issues a single HTTP attempt bounded by the total timeout.
func (c *Client) attempt(ctx context.Context, method, rawURL, host string, o requestOptions, body []byte, total time.Duration) (*Response, int, error) {
	release, err := c.pool.Acquire(host)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	attemptCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, reader)
	if err != nil {
		return nil, 0, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	httpResp, err := (&http.Client{Transport: c.pool.Transport()}).Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s: %w", host, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	limited := io.LimitReader(httpResp.Body, maxResponseSize)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return nil, 0, fmt.Errorf("read response from %s: %w", host, err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode}
	if len(respBody) > 0 {
		var parsed map[string]interface{}
		if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr == nil {
			resp.JSON = parsed
		} else {
			// Not JSON: degrade to raw text, never an error.
			resp.Raw = string(respBody)
		}
	}
	return resp, httpResp.StatusCode, nil
}
