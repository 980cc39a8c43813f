// Package retry implements exponential backoff with jitter for transient network faults.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrExhausted is wrapped together with the last attempt's error once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Options tunes the backoff schedule.
type Options struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// JitterRatio is the upper bound of the random delay added on top of each wait.
	JitterRatio float64

	// Sleep and Rand are overridable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

// DefaultOptions mirrors the schedule used for ad-hoc backend calls.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		JitterRatio:       0.1,
	}
}

func (o Options) normalized() Options {
	defaults := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaults.MaxAttempts
	}
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaults.MaxDelay
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if o.JitterRatio < 0 {
		o.JitterRatio = 0
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	return o
}

// Delay returns the un-jittered wait after the given zero-based attempt:
// min(initial * multiplier^attempt, max).
func Delay(attempt int, opts Options) time.Duration {
	opts = opts.normalized()
	if attempt < 0 {
		attempt = 0
	}
	scaled := float64(opts.InitialDelay) * math.Pow(opts.BackoffMultiplier, float64(attempt))
	if scaled > float64(opts.MaxDelay) || math.IsInf(scaled, 0) {
		return opts.MaxDelay
	}
	return time.Duration(scaled)
}

func jittered(base time.Duration, opts Options) time.Duration {
	if opts.JitterRatio == 0 || base <= 0 {
		return base
	}
	return base + time.Duration(float64(base)*opts.JitterRatio*opts.Rand())
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error as not worth retrying; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a Permanent error, the context ends,
// or MaxAttempts is reached.
func Do(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for functions producing a result.
func DoValue[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.normalized()

	var zero T
	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return zero, permanent.err
		}
		lastErr = err

		if attempt == opts.MaxAttempts-1 {
			break
		}

		wait := jittered(Delay(attempt, opts), opts)
		if sleepErr := opts.Sleep(ctx, wait); sleepErr != nil {
			return zero, fmt.Errorf("%w: %w", sleepErr, lastErr)
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, opts.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
