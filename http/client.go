// Package http provides the upstream HTTP client used for the YouTube Data API
// and the caption endpoint, with retry, rate limiting, a circuit breaker and a
// bounded connection pool.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"ytingest/internal/retry"
)

// Client wraps an HTTP client with retry logic and rate limit handling.
type Client struct {
	base           *http.Client
	config         *Config
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
}

// Config holds HTTP client configuration including retry and rate limit settings.
type Config struct {
	// Timeout for individual HTTP requests
	Timeout time.Duration

	// Retry configuration
	Retry retry.Config

	// User agent for HTTP requests
	UserAgent string

	// ForbiddenIsQuota classifies every 403 as a quota error. The Data API
	// answers 403 only for quota and key problems; the caption endpoint uses
	// 403 for disabled captions, so it leaves this off.
	ForbiddenIsQuota bool

	// Rate limiter configuration
	RateLimiter RateLimiterConfig

	// Circuit breaker configuration
	CircuitBreaker CircuitBreakerConfig

	// Connection pool configuration
	Transport TransportConfig
}

// TransportConfig configures the HTTP transport (connection pooling).
type TransportConfig struct {
	// MaxIdleConns is the maximum number of idle connections across all hosts.
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections per host.
	MaxIdleConnsPerHost int

	// MaxConnsPerHost bounds concurrent connections per host. This is the
	// pool size that caps outstanding upstream requests regardless of how
	// many pipeline tasks are waiting on them.
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle connection can remain open.
	IdleConnTimeout time.Duration

	// ForceAttemptHTTP2 forces HTTP/2 for connections to servers that don't explicitly support it.
	ForceAttemptHTTP2 bool
}

// DefaultConfig returns sensible defaults for HTTP client configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		Retry:          retry.DefaultConfig(),
		UserAgent:      "ytingest/1.0",
		RateLimiter:    DefaultRateLimiterConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Transport:      DefaultTransportConfig(),
	}
}

// DefaultTransportConfig returns sensible defaults for HTTP transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        40,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Transport.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		ForceAttemptHTTP2:   cfg.Transport.ForceAttemptHTTP2,
	}

	return &Client{
		base: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config:         cfg,
		rateLimiter:    NewRateLimiter(cfg.RateLimiter),
		circuitBreaker: NewCircuitBreaker(cfg.CircuitBreaker),
	}
}

// Response represents an HTTP response with status code and body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NotModified reports whether the server answered a conditional request with 304.
func (r *Response) NotModified() bool {
	return r != nil && r.StatusCode == http.StatusNotModified
}

// Get performs a GET request with retry logic.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

// GetConditional performs a GET with If-None-Match set to etag when non-empty.
// A 304 answer is returned as a Response, not as an error.
func (c *Client) GetConditional(ctx context.Context, url, etag string) (*Response, error) {
	var headers map[string]string
	if etag != "" {
		headers = map[string]string{"If-None-Match": etag}
	}
	return c.Do(ctx, http.MethodGet, url, headers)
}

// Do performs an HTTP request with retry logic and rate limit handling.
// Transient failures are retried; quota rejections and other 4xx answers are
// returned immediately. The circuit breaker fails fast when a domain keeps
// failing.
func (c *Client) Do(ctx context.Context, method, urlStr string, headers map[string]string) (*Response, error) {
	domain := hostOf(urlStr)

	if err := c.circuitBreaker.Allow(domain); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.WaitThrottle(ctx, urlStr); err != nil {
		return nil, err
	}

	var result *Response

	err := retry.Do(ctx, c.config.Retry, c.isRetryableHTTPError, func(ctx context.Context) error {
		if err := c.rateLimiter.Wait(ctx, urlStr); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.base.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRequestFailed, err)
		}

		switch {
		case resp.StatusCode == http.StatusForbidden:
			return c.classifyForbidden(resp)

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			defer resp.Body.Close()
			retryAfter := c.parseRetryAfter(resp.Header)
			if recommended := c.rateLimiter.Throttled(urlStr, retryAfter); recommended > retryAfter {
				retryAfter = recommended
			}
			return &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: retryAfter}

		case resp.StatusCode == http.StatusNotModified:
			resp.Body.Close()
			result = &Response{StatusCode: resp.StatusCode, Header: resp.Header}
			return nil

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			return &HTTPError{StatusCode: resp.StatusCode, Body: body}
		}

		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		result = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		return nil
	})

	if err == nil && result == nil {
		err = ErrNoResponse
	}
	c.circuitBreaker.Record(domain, err)
	if err != nil {
		return nil, err
	}

	c.rateLimiter.Succeeded(urlStr)
	return result, nil
}

// classifyForbidden turns a 403 into a QuotaError or a plain HTTPError.
func (c *Client) classifyForbidden(resp *http.Response) error {
	apiErr := parseGoogleError(resp)
	if c.config.ForbiddenIsQuota || apiErr.isQuota() {
		return &QuotaError{StatusCode: resp.StatusCode, Reason: apiErr.reason(), Message: apiErr.Message}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Body: []byte(apiErr.Body)}
}

// isRetryableHTTPError determines if an HTTP error is retryable.
func (c *Client) isRetryableHTTPError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}

	switch e := err.(type) {
	case *RateLimitError:
		return true
	case *HTTPError:
		return IsServerError(e.StatusCode)
	}
	return true
}

// parseRetryAfter extracts the Retry-After header value.
// Returns the number of seconds to wait, or 0 if not present.
func (c *Client) parseRetryAfter(header http.Header) time.Duration {
	retryAfter := header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}

	return 0
}

// Close closes the HTTP client connections and releases all resources.
func (c *Client) Close() error {
	if c.base != nil {
		c.base.CloseIdleConnections()
	}
	return nil
}

// TransportConfig returns the transport configuration being used.
func (c *Client) TransportConfig() TransportConfig {
	return c.config.Transport
}
