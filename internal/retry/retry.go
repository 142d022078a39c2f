// Package retry re-runs single transport calls with exponential backoff and
// jitter. The provider-level backoff schedule in package fallback is a
// separate mechanism that waits hours, not seconds.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps every delay, including server hints.
	MaxBackoff time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
	// JitterFraction spreads each delay by up to +/- this fraction.
	JitterFraction float64
	// Log receives one debug entry per retried attempt. Optional.
	Log logrus.FieldLogger
	// Sleep waits between attempts. Defaults to a timer that honors ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the transport defaults used by the Data API and
// innertube clients.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.2,
	}
}

// Delay returns the un-jittered wait before retry number attempt (0-based).
func (c Config) Delay(attempt int) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialBackoff) * math.Pow(mult, float64(attempt))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	return time.Duration(d)
}

// ErrorClassifier reports whether an error is worth another attempt.
type ErrorClassifier func(error) bool

// DelayHinter is implemented by errors that carry a server-provided wait,
// such as a Retry-After header.
type DelayHinter interface {
	RetryDelay() time.Duration
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as final. Do returns the unmarked error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsRetryable is the default classifier: context errors and errors marked
// Permanent are final, everything else is retried.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsPermanent(err)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. A DelayHinter error stretches the next wait up to
// MaxBackoff.
func Do(ctx context.Context, cfg Config, classifier ErrorClassifier, fn func(context.Context) error) error {
	if classifier == nil {
		classifier = IsRetryable
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || !classifier(err) {
			return unwrapPermanent(err)
		}
		if attempt >= cfg.MaxRetries {
			return &ExhaustedError{Attempts: attempt + 1, Err: err}
		}

		wait := cfg.Delay(attempt)
		var hint DelayHinter
		if errors.As(err, &hint) && hint.RetryDelay() > wait {
			wait = hint.RetryDelay()
		}
		wait += jitter(wait, cfg.JitterFraction)
		if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}
		if cfg.Log != nil {
			cfg.Log.WithFields(logrus.Fields{"attempt": attempt + 1, "backoff": wait}).
				WithError(err).Debug("retrying after transient error")
		}
		if err := cfg.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func unwrapPermanent(err error) error {
	if p, ok := err.(*permanentError); ok {
		return p.err
	}
	return err
}

// jitter returns a random duration in [-fraction*d, +fraction*d].
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return 0
	}
	spread := float64(d) * fraction
	return time.Duration((rand.Float64()*2 - 1) * spread)
}
