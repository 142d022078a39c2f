package httpx

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// minRateFactor is the floor a host's rate is reduced to after repeated throttling.
	minRateFactor = 0.25
	// cooldownPeriod is how long a host must stay quiet before its rate is restored.
	cooldownPeriod = 5 * time.Minute
)

// RateLimiter throttles requests per host with a token bucket and slows a
// host down after it answers with a rate limit.
type RateLimiter struct {
	mu       sync.Mutex
	rps      float64
	custom   map[string]float64
	limiters map[string]*rate.Limiter
	throttle map[string]*throttleState
}

type throttleState struct {
	consecutive int
	lastError   time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second to each
// host. custom overrides the rate per host; a rate of 0 means unlimited.
func NewRateLimiter(rps float64, custom map[string]float64) *RateLimiter {
	if custom == nil {
		custom = make(map[string]float64)
	}
	return &RateLimiter{
		rps:      rps,
		custom:   custom,
		limiters: make(map[string]*rate.Limiter),
		throttle: make(map[string]*throttleState),
	}
}

// Wait blocks until a request to rawURL may proceed.
func (rl *RateLimiter) Wait(ctx context.Context, rawURL string) error {
	if rl == nil {
		return nil
	}
	limiter := rl.limiter(hostOf(rawURL))
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// RecordRateLimit reduces the host's rate to 75%, 50% and finally 25% of the
// configured one on consecutive throttled responses.
func (rl *RateLimiter) RecordRateLimit(rawURL string) {
	if rl == nil {
		return
	}
	host := hostOf(rawURL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.throttle[host]
	if !ok {
		state = &throttleState{}
		rl.throttle[host] = state
	}
	state.consecutive++
	state.lastError = time.Now()

	factor := minRateFactor
	switch state.consecutive {
	case 1:
		factor = 0.75
	case 2:
		factor = 0.5
	}
	if limiter, ok := rl.limiters[host]; ok {
		limiter.SetLimit(rate.Limit(rl.rateFor(host) * factor))
	}
}

// RecordSuccess restores the host's configured rate once it has been quiet
// for the cooldown period.
func (rl *RateLimiter) RecordSuccess(rawURL string) {
	if rl == nil {
		return
	}
	host := hostOf(rawURL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.throttle[host]
	if !ok || time.Since(state.lastError) < cooldownPeriod {
		return
	}
	if limiter, ok := rl.limiters[host]; ok {
		limiter.SetLimit(rate.Limit(rl.rateFor(host)))
	}
	delete(rl.throttle, host)
}

// Limit returns the current rate for the host of rawURL, or 0 when unlimited.
func (rl *RateLimiter) Limit(rawURL string) float64 {
	host := hostOf(rawURL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok := rl.limiters[host]; ok {
		return float64(limiter.Limit())
	}
	return rl.rateFor(host)
}

func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limiters[host]; ok {
		return limiter
	}
	rps := rl.rateFor(host)
	if rps <= 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[host] = limiter
	return limiter
}

func (rl *RateLimiter) rateFor(host string) float64 {
	if rps, ok := rl.custom[host]; ok {
		return rps
	}
	return rl.rps
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
