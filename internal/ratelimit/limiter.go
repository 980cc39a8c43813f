// Package ratelimit is an in-process sliding-window admission controller keyed by
// (action name, identifier).
package ratelimit

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Policy bounds how many requests one identifier may make for an action within Window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// ErrInvalidPolicy is returned for policies without a positive budget and window.
var ErrInvalidPolicy = errors.New("policy requires positive max requests and window")

func (p Policy) valid() bool {
	return p.MaxRequests > 0 && p.Window > 0
}

// Decision is the outcome of a CheckLimit call. A rejection is a normal result, not an error.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
	Remaining         int
}

// Usage is the read-only view of a key's budget used for client-side warnings.
type Usage struct {
	Action            string `json:"action"`
	Limit             int    `json:"limit"`
	Used              int    `json:"used"`
	Remaining         int    `json:"remaining"`
	WindowSeconds     int    `json:"window_seconds"`
	ResetAfterSeconds int    `json:"reset_after_seconds"`
	ApproachingLimit  bool   `json:"approaching_limit"`
}

// ApproachingThreshold is the fraction of remaining budget at or below which a key
// is reported as approaching its limit.
const ApproachingThreshold = 0.2

// Observer receives every admission decision, e.g. for metrics.
type Observer func(action string, allowed bool)

type key struct {
	action     string
	identifier string
}

// Limiter tracks admitted request timestamps per key. Records older than the policy
// window are purged lazily on every check.
type Limiter struct {
	mu            sync.Mutex
	records       map[key][]time.Time
	policies      map[string]Policy
	defaultPolicy Policy
	now           func() time.Time
	observer      Observer
	logger        zerolog.Logger
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithPolicy registers a policy for an action name.
func WithPolicy(action string, policy Policy) Option {
	return func(l *Limiter) {
		if policy.valid() {
			l.policies[action] = policy
		}
	}
}

// WithDefaultPolicy replaces the fallback policy used for unregistered actions.
func WithDefaultPolicy(policy Policy) Option {
	return func(l *Limiter) {
		if policy.valid() {
			l.defaultPolicy = policy
		}
	}
}

// WithObserver installs a decision observer.
func WithObserver(observer Observer) Option {
	return func(l *Limiter) {
		l.observer = observer
	}
}

// NewLimiter constructs a limiter seeded with DefaultPolicies.
func NewLimiter(logger zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		records:       make(map[key][]time.Time),
		policies:      DefaultPolicies(),
		defaultPolicy: FallbackPolicy,
		now:           time.Now,
		logger:        logger.With().Str("component", "admission_controller").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PolicyFor resolves the policy applied to an action.
func (l *Limiter) PolicyFor(action string) Policy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.policyLocked(action)
}

// SetPolicy registers or replaces an action policy at runtime. Records already
// admitted for the action are judged against the new policy from the next check.
func (l *Limiter) SetPolicy(action string, policy Policy) error {
	if action == "" || !policy.valid() {
		return ErrInvalidPolicy
	}
	l.mu.Lock()
	l.policies[action] = policy
	l.mu.Unlock()
	l.logger.Info().Str("action", action).Int("max_requests", policy.MaxRequests).Dur("window", policy.Window).Msg("admission policy updated")
	return nil
}

func (l *Limiter) policyLocked(action string) Policy {
	if policy, ok := l.policies[action]; ok {
		return policy
	}
	return l.defaultPolicy
}

// CheckLimit admits or rejects one request. Admitted requests are recorded; rejected
// ones are not.
func (l *Limiter) CheckLimit(action, identifier string) Decision {
	l.mu.Lock()

	now := l.now()
	policy := l.policyLocked(action)
	k := key{action: action, identifier: identifier}
	active := l.purgeLocked(k, policy, now)

	var decision Decision
	if len(active) >= policy.MaxRequests {
		decision = Decision{
			Allowed:           false,
			RetryAfterSeconds: retryAfter(active[0], policy, now),
		}
	} else {
		l.records[k] = append(active, now)
		decision = Decision{Allowed: true, Remaining: policy.MaxRequests - len(active) - 1}
	}
	l.mu.Unlock()

	if !decision.Allowed {
		l.logger.Debug().
			Str("action", action).
			Str("identifier", identifier).
			Int("retry_after_seconds", decision.RetryAfterSeconds).
			Msg("request rejected by admission control")
	}
	if l.observer != nil {
		l.observer(action, decision.Allowed)
	}

	return decision
}

// GetRemainingRequests returns how many more requests the key may make right now.
func (l *Limiter) GetRemainingRequests(action, identifier string) int {
	return l.Usage(action, identifier).Remaining
}

// GetRequestCount returns the number of unexpired admitted requests for the key.
func (l *Limiter) GetRequestCount(action, identifier string) int {
	return l.Usage(action, identifier).Used
}

// Usage reports the budget of a key without recording a request.
func (l *Limiter) Usage(action, identifier string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	policy := l.policyLocked(action)
	active := l.purgeLocked(key{action: action, identifier: identifier}, policy, now)

	used := len(active)
	remaining := policy.MaxRequests - used
	if remaining < 0 {
		remaining = 0
	}

	usage := Usage{
		Action:           action,
		Limit:            policy.MaxRequests,
		Used:             used,
		Remaining:        remaining,
		WindowSeconds:    int(math.Ceil(policy.Window.Seconds())),
		ApproachingLimit: float64(remaining) <= float64(policy.MaxRequests)*ApproachingThreshold,
	}
	if used > 0 {
		usage.ResetAfterSeconds = retryAfter(active[0], policy, now)
	}
	return usage
}

// Reset forgets every record for the key.
func (l *Limiter) Reset(action, identifier string) {
	l.mu.Lock()
	delete(l.records, key{action: action, identifier: identifier})
	l.mu.Unlock()
}

// Prune drops keys whose records have all expired; returns how many keys were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k := range l.records {
		if len(l.purgeLocked(k, l.policyLocked(k.action), now)) == 0 {
			removed++
		}
	}
	return removed
}

// purgeLocked removes records older than the window and returns what survives.
// Keys with no surviving records are deleted from the map.
func (l *Limiter) purgeLocked(k key, policy Policy, now time.Time) []time.Time {
	records := l.records[k]
	cutoff := now.Add(-policy.Window)

	idx := 0
	for idx < len(records) && !records[idx].After(cutoff) {
		idx++
	}
	active := records[idx:]

	if len(active) == 0 {
		delete(l.records, k)
		return nil
	}
	if idx > 0 {
		trimmed := make([]time.Time, len(active))
		copy(trimmed, active)
		l.records[k] = trimmed
		return trimmed
	}
	return active
}

func retryAfter(oldest time.Time, policy Policy, now time.Time) int {
	wait := oldest.Add(policy.Window).Sub(now)
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
