// Package httpclient provides a rate-limited HTTP client: local
// admission through an engine.Pool before each request, plus
// interpretation of the server's rate-limit response headers.
//
// # Architecture
//
// Each request flows through two gates:
//
//	1. Do(req) → admit through the local pool (client-side budget)
//	2. If admitted → perform the HTTP request
//	3. Parse X-RateLimit-* / Retry-After from the response
//	4. On 429 → honor the server's Retry-After, then retry
//
// The local gate protects the server from this process's bursts; the
// header parsing closes the loop on limits the server enforces anyway.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use by multiple
// goroutines. Metrics are protected by a mutex.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ratekeeper/go/pkg/engine"
	"github.com/ratekeeper/go/pkg/limiter"
)

// Client is an HTTP client gated by a local limiter pool.
type Client struct {
	pool       *engine.Pool
	httpClient *http.Client
	key        string
	maxRetries int
	backoff    time.Duration

	// Metrics (protected by mu)
	mu      sync.Mutex
	metrics Metrics
}

// Metrics tracks the outcomes of rate-limited requests.
type Metrics struct {
	// Allowed counts admissions by the local pool.
	Allowed int64

	// Rejected counts refusals by the local pool.
	Rejected int64

	// Throttled counts 429 responses from the server.
	Throttled int64

	// Failed counts transport-level request failures.
	Failed int64

	// Retries counts waits taken after a local refusal or server 429.
	Retries int64
}

// String returns a human-readable summary of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("Metrics{Allowed: %d, Rejected: %d, Throttled: %d, Failed: %d, Retries: %d}",
		m.Allowed, m.Rejected, m.Throttled, m.Failed, m.Retries)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client (default: 30s
// timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries bounds the retry loop after local refusals and server
// 429s (default 3).
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff sets the wait used when neither the local limiter nor
// the server supplied a retry-after hint (default 1s).
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// NewClient creates a Client that admits requests under the given key
// in the pool.
func NewClient(pool *engine.Pool, key string, opts ...Option) (*Client, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool must not be nil")
	}
	if key == "" {
		return nil, fmt.Errorf("key must not be empty")
	}
	c := &Client{
		pool:       pool,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		key:        key,
		maxRetries: 3,
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do performs one rate-limited request.
//
// The request is admitted through the local pool first; a refusal
// waits out the limiter's retry-after hint and tries again, up to the
// retry budget. A 429 from the server likewise honors the server's
// Retry-After. The parsed header info of the final response is
// returned alongside it.
//
// The caller owns the response body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, RateLimitInfo, error) {
	var lastWait time.Duration

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, RateLimitInfo{}, ctx.Err()
		default:
		}

		if err := c.pool.Admit(ctx, c.key); err != nil {
			re, isLimit := limiter.AsExceeded(err)
			if !isLimit {
				return nil, RateLimitInfo{}, err
			}
			c.recordRejected()
			if attempt >= c.maxRetries {
				return nil, RateLimitInfo{}, fmt.Errorf("rate limit exceeded after %d retries: %w", attempt, re)
			}
			lastWait = re.RetryAfter
			if lastWait <= 0 {
				lastWait = c.backoff
			}
			if err := c.wait(ctx, lastWait); err != nil {
				return nil, RateLimitInfo{}, err
			}
			continue
		}
		c.recordAllowed()

		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			c.recordFailed()
			return nil, RateLimitInfo{}, fmt.Errorf("HTTP request failed: %w", err)
		}
		info := ParseRateLimitHeaders(resp.Header, time.Now())

		if resp.StatusCode == http.StatusTooManyRequests {
			c.recordThrottled()
			resp.Body.Close()
			if attempt >= c.maxRetries {
				return nil, info, fmt.Errorf("server throttled after %d retries", attempt)
			}
			lastWait = c.backoff
			if info.RetryAfter != nil && *info.RetryAfter > 0 {
				lastWait = *info.RetryAfter
			} else if info.Reset != nil && *info.Reset > 0 {
				lastWait = *info.Reset
			}
			if err := c.wait(ctx, lastWait); err != nil {
				return nil, info, err
			}
			continue
		}

		return resp, info, nil
	}
}

// Get is shorthand for a rate-limited GET.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, RateLimitInfo, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, RateLimitInfo{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	return c.Do(ctx, req)
}

// Metrics returns a snapshot of the client's counters.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// ResetMetrics clears all counters.
func (c *Client) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = Metrics{}
}

// wait sleeps for d, counting a retry, unless the context ends first.
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	c.recordRetry()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) recordAllowed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Allowed++
}

func (c *Client) recordRejected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Rejected++
}

func (c *Client) recordThrottled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Throttled++
}

func (c *Client) recordFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Failed++
}

func (c *Client) recordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Retries++
}
