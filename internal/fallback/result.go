// Package fallback tries an ordered list of interchangeable providers for
// one item at a time, tracking provider health across the run and backing
// off when every provider is rate limited or a failure turns systemic.
package fallback

import (
	"context"
	"fmt"
)

// FailureKind classifies a failed provider attempt.
type FailureKind string

const (
	// KindRateLimited is transient; the provider is blocked until the next backoff wait.
	KindRateLimited FailureKind = "rate_limited"
	// KindProviderMissing means the provider lacks a capability; it is disabled for the run.
	KindProviderMissing FailureKind = "provider_missing"
	// KindInvalid is about the item id, so no other provider is tried.
	KindInvalid FailureKind = "invalid"
	// KindOpaque is any unclassified failure.
	KindOpaque FailureKind = "error"
	// KindNoProviders is returned when every provider has been disabled.
	KindNoProviders FailureKind = "no_providers_available"
	// KindWaitsExhausted is returned when the configured wait-cycle cap is reached.
	KindWaitsExhausted FailureKind = "wait_cycles_exhausted"
	// KindCanceled is returned when the context ends during a backoff wait.
	KindCanceled FailureKind = "canceled"
)

// Result is the outcome of one fetch: either Success[P] or Failure.
type Result[P any] interface {
	// Source names the provider, or "manager" for manager-level outcomes.
	Source() string
	sealed()
}

// Success carries a provider payload.
type Success[P any] struct {
	Payload  P
	Provider string
}

// Source implements Result.
func (s Success[P]) Source() string { return s.Provider }
func (Success[P]) sealed()          {}

// Failure describes why a fetch did not produce a payload.
type Failure struct {
	Kind     FailureKind
	Message  string
	Provider string
}

// Source implements Result.
func (f Failure) Source() string { return f.Provider }
func (Failure) sealed()          {}

// Retryable reports whether a later run could succeed for the same item.
func (f Failure) Retryable() bool {
	switch f.Kind {
	case KindInvalid, KindProviderMissing, KindNoProviders:
		return false
	default:
		return true
	}
}

// Error lets a Failure travel as an error.
func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Provider, f.Kind, f.Message)
}

// Provider answers enrichment requests for one item id.
type Provider[P any] interface {
	Name() string
	Fetch(ctx context.Context, id string) Result[P]
}

const managerSource = "manager"
