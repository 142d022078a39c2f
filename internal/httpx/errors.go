package httpx

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError indicates the server throttled the request (429, 503) or
// refused it as automated traffic (403).
type RateLimitError struct {
	StatusCode     int
	RetryAfter     time.Duration
	IsBotDetection bool
}

func (e *RateLimitError) Error() string {
	if e.IsBotDetection {
		return fmt.Sprintf("bot detection (status %d): too many requests", e.StatusCode)
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d): too many requests, retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d): too many requests", e.StatusCode)
}

// RetryDelay exposes the Retry-After hint to retry.Do.
func (e *RateLimitError) RetryDelay() time.Duration { return e.RetryAfter }

// HTTPError is any other non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: status %d", e.StatusCode)
}

// ErrCircuitOpen is returned while a host's circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")
