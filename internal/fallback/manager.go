package fallback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Window defaults for systemic-failure detection.
const (
	DefaultWindowSize    = 50
	DefaultSystemicMin   = 20
	DefaultSystemicRatio = 0.5
)

// DefaultSchedule is the global backoff schedule used when none is given.
var DefaultSchedule = []time.Duration{time.Hour, 3 * time.Hour, 6 * time.Hour, 12 * time.Hour}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Options configures a Manager.
type Options struct {
	// Schedule holds successive global wait durations. The last entry repeats.
	Schedule []time.Duration
	// MaxWaitCycles caps the number of global waits in a run. Zero means unlimited.
	MaxWaitCycles int
	// Wait replaces the real sleep, mainly for tests.
	Wait WaitFunc

	WindowSize    int
	SystemicMin   int
	SystemicRatio float64
}

// Health is a snapshot of the run-scoped provider state.
type Health struct {
	Blocked  []string
	Disabled []string
	Window   int
	Cursor   int
	Waits    int
}

// Manager tries providers in order for each item. Its health state lives
// for one run and is not safe for concurrent Fetch calls.
type Manager[P any] struct {
	providers []Provider[P]
	opts      Options
	log       logrus.FieldLogger

	blocked  map[string]bool
	disabled map[string]bool
	window   []string
	cursor   int
	waits    int
}

// NewManager creates a manager over providers in priority order.
func NewManager[P any](providers []Provider[P], opts Options, log logrus.FieldLogger) (*Manager[P], error) {
	if len(providers) == 0 {
		return nil, errors.New("fallback: at least one provider is required")
	}
	names := lo.Map(providers, func(p Provider[P], _ int) string { return p.Name() })
	if dup := lo.FindDuplicates(names); len(dup) > 0 {
		return nil, fmt.Errorf("fallback: duplicate provider names %v", dup)
	}
	if len(opts.Schedule) == 0 {
		opts.Schedule = DefaultSchedule
	}
	if opts.Wait == nil {
		opts.Wait = sleep
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.SystemicMin <= 0 {
		opts.SystemicMin = DefaultSystemicMin
	}
	if opts.SystemicRatio <= 0 {
		opts.SystemicRatio = DefaultSystemicRatio
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager[P]{
		providers: providers,
		opts:      opts,
		log:       log.WithField("component", "fallback"),
		blocked:   make(map[string]bool),
		disabled:  make(map[string]bool),
	}, nil
}

// Fetch returns the first successful provider result for id. Rate-limited
// providers are skipped until the next global wait, missing providers for
// the rest of the run. An invalid-id failure is returned immediately.
func (m *Manager[P]) Fetch(ctx context.Context, id string) Result[P] {
	log := m.log.WithField("item_id", id)

	for {
		var last, lastOrdinary *Failure
		restart := false

		for _, p := range m.providers {
			name := p.Name()
			if m.blocked[name] || m.disabled[name] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return Failure{Kind: KindCanceled, Message: err.Error(), Provider: managerSource}
			}

			res := p.Fetch(ctx, id)
			switch r := res.(type) {
			case Success[P]:
				if r.Provider == "" {
					r.Provider = name
				}
				m.window = m.window[:0]
				return r
			case Failure:
				if r.Provider == "" {
					r.Provider = name
				}
				f := r
				last = &f
				switch r.Kind {
				case KindRateLimited:
					m.blocked[name] = true
					log.WithField("provider", name).Warnf("Provider rate limited: %s", r.Message)
				case KindProviderMissing:
					m.disabled[name] = true
					log.WithField("provider", name).Warnf("Provider disabled for this run: %s", r.Message)
				case KindInvalid:
					return r
				default:
					lastOrdinary = &f
					log.WithField("provider", name).Debugf("Provider failed: %s", r.Message)
					if m.recordFailure(r.Message) {
						log.WithField("reason", r.Message).Warn("Systemic failure detected")
						if stop := m.wait(ctx, log); stop != nil {
							return *stop
						}
						m.window = m.window[:0]
						restart = true
					}
				}
			default:
				f := Failure{Kind: KindOpaque, Message: "provider returned no result", Provider: name}
				last, lastOrdinary = &f, &f
			}
			if restart {
				break
			}
		}
		if restart {
			continue
		}

		if len(m.disabled) == len(m.providers) {
			return Failure{Kind: KindNoProviders, Message: "all providers are disabled", Provider: managerSource}
		}
		if len(m.blocked) > 0 && len(m.blocked)+len(m.disabled) == len(m.providers) {
			log.WithField("blocked", lo.Keys(m.blocked)).Warn("All providers rate limited")
			if stop := m.wait(ctx, log); stop != nil {
				return *stop
			}
			clear(m.blocked)
			continue
		}
		if lastOrdinary != nil {
			return *lastOrdinary
		}
		if last != nil {
			return *last
		}
		return Failure{Kind: KindNoProviders, Message: "no provider attempted the item", Provider: managerSource}
	}
}

// Health reports the current provider state.
func (m *Manager[P]) Health() Health {
	return Health{
		Blocked:  sortedKeys(m.blocked),
		Disabled: sortedKeys(m.disabled),
		Window:   len(m.window),
		Cursor:   m.cursor,
		Waits:    m.waits,
	}
}

// recordFailure appends reason to the sliding window and reports whether it
// now dominates a sufficiently full window.
func (m *Manager[P]) recordFailure(reason string) bool {
	if reason == "" {
		reason = "unknown"
	}
	m.window = append(m.window, reason)
	if over := len(m.window) - m.opts.WindowSize; over > 0 {
		m.window = append(m.window[:0], m.window[over:]...)
	}
	if len(m.window) < m.opts.SystemicMin {
		return false
	}
	same := lo.Count(m.window, reason)
	return float64(same)/float64(len(m.window)) >= m.opts.SystemicRatio
}

// wait performs one global backoff. A non-nil Failure means the caller must
// stop.
func (m *Manager[P]) wait(ctx context.Context, log logrus.FieldLogger) *Failure {
	if m.opts.MaxWaitCycles > 0 && m.waits >= m.opts.MaxWaitCycles {
		return &Failure{
			Kind:     KindWaitsExhausted,
			Message:  fmt.Sprintf("reached %d backoff waits", m.waits),
			Provider: managerSource,
		}
	}

	d := m.opts.Schedule[min(m.cursor, len(m.opts.Schedule)-1)]
	if m.cursor < len(m.opts.Schedule)-1 {
		m.cursor++
	}
	m.waits++

	log.WithFields(logrus.Fields{"wait": d, "cycle": m.waits}).Warn("Backing off before retrying providers")
	if err := m.opts.Wait(ctx, d); err != nil {
		return &Failure{Kind: KindCanceled, Message: err.Error(), Provider: managerSource}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := lo.Keys(set)
	slices.Sort(keys)
	return keys
}
