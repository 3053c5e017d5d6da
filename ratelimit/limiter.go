// Package ratelimit implements a fixed-window counting throttle for
// sensitive operations.
//
// The window is fixed, not sliding: the counter resets wholesale when
// the window elapses. The call that crosses the attempt budget is
// itself counted and reported as rejected — callers must treat that
// response as the rejection, not a prior one.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/mkhalev/authcore/internal/metrics"
)

// ErrStoreUnavailable wraps backend failures. Rate decisions themselves
// are never errors; see Result.Allowed.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Result is the outcome of a generic Allow call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Decision is the action-scoped outcome of CheckAction.
type Decision struct {
	Allowed    bool
	Attempts   int
	RetryAfter time.Duration
}

// Policy is the attempt budget for one named action.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultPolicies is the built-in per-action policy table. The default
// entry applies to any action without its own row.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		"forgot_password": {MaxAttempts: 5, Window: 15 * time.Minute},
		"verify_code":     {MaxAttempts: 10, Window: 5 * time.Minute},
		"login":           {MaxAttempts: 10, Window: 15 * time.Minute},
		"default":         {MaxAttempts: 10, Window: 15 * time.Minute},
	}
}

// Store owns the bucket counters. Incr must serialize concurrent
// increments for the same key: a lost update would let a caller exceed
// its quota.
type Store interface {
	// Incr increments the key's counter, starting a new window of the
	// given length if none is active, and returns the count within the
	// current window together with the window's reset time.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// Limiter enforces fixed-window attempt budgets over a bucket store.
type Limiter struct {
	store    Store
	policies map[string]Policy
	metrics  *metrics.Metrics
}

// New creates a Limiter. A nil policies map selects DefaultPolicies.
func New(store Store, policies map[string]Policy, m *metrics.Metrics) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Limiter{store: store, policies: policies, metrics: m}
}

// Allow counts one attempt for the identifier and reports whether it is
// within budget. Exceeding calls are counted too, so attempt counts
// observed by callers never decrease within a window.
func (l *Limiter) Allow(ctx context.Context, identifier string, maxAttempts int, window time.Duration) (Result, error) {
	count, resetAt, err := l.store.Incr(ctx, identifier, window)
	if err != nil {
		return Result{}, err
	}

	remaining := maxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   count <= int64(maxAttempts),
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		l.metrics.Inc(metrics.RateLimitRejected)
	}
	return res, nil
}

// CheckAction applies the policy table for the named action to the
// identifier. Unknown actions use the "default" policy.
func (l *Limiter) CheckAction(ctx context.Context, identifier, action string) (Decision, error) {
	policy, ok := l.policies[action]
	if !ok {
		policy = l.policies["default"]
	}
	if policy.MaxAttempts <= 0 || policy.Window <= 0 {
		policy = Policy{MaxAttempts: 10, Window: 15 * time.Minute}
	}

	res, err := l.Allow(ctx, action+":"+identifier, policy.MaxAttempts, policy.Window)
	if err != nil {
		return Decision{}, err
	}

	retry := time.Until(res.ResetAt)
	if retry < 0 {
		retry = 0
	}
	return Decision{
		Allowed:    res.Allowed,
		Attempts:   policy.MaxAttempts - res.Remaining,
		RetryAfter: retry,
	}, nil
}
