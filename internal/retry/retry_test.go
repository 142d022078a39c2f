package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// recorder replaces the real sleep and keeps every requested wait.
type recorder struct {
	waits []time.Duration
	err   error
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return r.err
}

func testConfig(r *recorder) Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
		Sleep:          r.sleep,
	}
}

type hinted struct{ after time.Duration }

func (h hinted) Error() string              { return "throttled" }
func (h hinted) RetryDelay() time.Duration { return h.after }

func TestDo(t *testing.T) {
	transient := errors.New("connection reset")
	final := errors.New("not found")

	tests := []struct {
		name       string
		failures   []error
		classifier ErrorClassifier
		wantCalls  int
		wantWaits  []time.Duration
		wantErr    error
		exhausted  bool
	}{
		{
			name:      "first attempt succeeds",
			wantCalls: 1,
		},
		{
			name:      "recovers after transient errors",
			failures:  []error{transient, transient},
			wantCalls: 3,
			wantWaits: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
		},
		{
			name:      "gives up after max retries",
			failures:  []error{transient, transient, transient, transient, transient},
			wantCalls: 4,
			wantWaits: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
			wantErr:   transient,
			exhausted: true,
		},
		{
			name:      "permanent marker stops at once",
			failures:  []error{Permanent(final)},
			wantCalls: 1,
			wantErr:   final,
		},
		{
			name:       "classifier rejects",
			failures:   []error{final},
			classifier: func(err error) bool { return !errors.Is(err, final) },
			wantCalls:  1,
			wantErr:    final,
		},
		{
			name:      "context error is final",
			failures:  []error{fmt.Errorf("call: %w", context.DeadlineExceeded)},
			wantCalls: 1,
			wantErr:   context.DeadlineExceeded,
		},
		{
			name:      "server hint stretches the wait",
			failures:  []error{hinted{after: 700 * time.Millisecond}},
			wantCalls: 2,
			wantWaits: []time.Duration{700 * time.Millisecond},
		},
		{
			name:      "server hint is capped",
			failures:  []error{hinted{after: time.Minute}},
			wantCalls: 2,
			wantWaits: []time.Duration{time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			calls := 0
			err := Do(context.Background(), testConfig(r), tt.classifier, func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})

			if tt.wantErr == nil && err != nil {
				t.Fatalf("Do() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Do() error = %v, want %v", err, tt.wantErr)
			}
			var ex *ExhaustedError
			if got := errors.As(err, &ex); got != tt.exhausted {
				t.Errorf("ExhaustedError = %v, want %v", got, tt.exhausted)
			}
			if IsPermanent(err) {
				t.Errorf("Do() leaked the permanent marker: %v", err)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if fmt.Sprint(r.waits) != fmt.Sprint(tt.wantWaits) {
				t.Errorf("waits = %v, want %v", r.waits, tt.wantWaits)
			}
		})
	}
}

func TestDo_SleepInterrupted(t *testing.T) {
	r := &recorder{err: context.Canceled}
	calls := 0
	err := Do(context.Background(), testConfig(r), nil, func(context.Context) error {
		calls++
		return errors.New("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RealSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	cfg := Config{MaxRetries: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 2}

	start := time.Now()
	err := Do(ctx, cfg, nil, func(context.Context) error { return errors.New("flaky") })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Do() blocked for %v after the deadline", elapsed)
	}
}

func TestConfig_Delay(t *testing.T) {
	cfg := Config{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for attempt, w := range want {
		if got := cfg.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	d := time.Second
	for i := 0; i < 200; i++ {
		j := jitter(d, 0.2)
		if j < -200*time.Millisecond || j > 200*time.Millisecond {
			t.Fatalf("jitter = %v, outside +/-20%%", j)
		}
	}
	if j := jitter(d, 0); j != 0 {
		t.Errorf("jitter with zero fraction = %v", j)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 5 || cfg.InitialBackoff != time.Second || cfg.MaxBackoff != 30*time.Second {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}
