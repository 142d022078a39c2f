// Package httpx is the HTTP transport for scraping endpoints: per-host rate
// limiting, a per-host circuit breaker, retries on transient failures, and
// typed errors for throttled responses.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"ytcatalog/internal/retry"
)

// Config holds HTTP client configuration.
type Config struct {
	// Timeout for individual HTTP requests.
	Timeout time.Duration
	// Retry applies to network errors and 5xx responses.
	Retry retry.Config
	// RetryRateLimited also retries 429/403/503 responses. When false they are
	// returned at once so a caller can rotate to another source.
	RetryRateLimited bool
	UserAgent        string
	// RequestsPerSecond per host; 0 disables throttling.
	RequestsPerSecond float64
	// FailureThreshold and RecoveryTimeout configure the circuit breaker.
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		Retry:             retry.DefaultConfig(),
		UserAgent:         "ytcatalog/1.0",
		RequestsPerSecond: 2.5,
		FailureThreshold:  DefaultFailureThreshold,
		RecoveryTimeout:   DefaultRecoveryTimeout,
	}
}

// Client wraps an HTTP client with retry, throttling and failure tracking.
type Client struct {
	base    *http.Client
	cfg     Config
	limiter *RateLimiter
	breaker *CircuitBreaker
	log     logrus.FieldLogger
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// New creates a client.
func New(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.Retry.Log == nil {
		cfg.Retry.Log = log
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &Client{
		base:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RequestsPerSecond, nil),
		breaker: NewCircuitBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout),
		log:     log,
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, nil)
}

// Do performs a request. body may be nil; it is re-sent on every attempt.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*Response, error) {
	host := hostOf(url)
	if err := c.breaker.Allow(host); err != nil {
		return nil, fmt.Errorf("%s: %w", host, err)
	}

	var out *Response
	err := retry.Do(ctx, c.cfg.Retry, c.isRetryable, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx, url); err != nil {
			return retry.Permanent(err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.base.Do(req)
		if err != nil {
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusForbidden:
			c.limiter.RecordRateLimit(url)
			return &RateLimitError{
				StatusCode:     resp.StatusCode,
				RetryAfter:     parseRetryAfter(resp.Header),
				IsBotDetection: resp.StatusCode == http.StatusForbidden,
			}
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &HTTPError{StatusCode: resp.StatusCode, Body: data}
		}
		out = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
		return nil
	})
	if err != nil {
		if isTransient(err) {
			c.breaker.RecordFailure(host)
		}
		c.log.WithFields(logrus.Fields{"method": method, "url": url}).WithError(err).Debug("http request failed")
		return nil, err
	}

	c.limiter.RecordSuccess(url)
	c.breaker.RecordSuccess(host)
	return out, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.base.CloseIdleConnections()
	return nil
}

func (c *Client) isRetryable(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return c.cfg.RetryRateLimited
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return true
}

// isTransient reports whether err should count against a host's circuit.
// Throttling and client errors say nothing about the host being down.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return true
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date.
func parseRetryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		return time.Until(t)
	}
	return 0
}
