// Package retry provides exponential backoff for transient sync failures.
//
// A Policy computes delays and can run a function until it succeeds, the
// error is permanent, attempts run out or the context ends.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy configures backoff.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero runs the function once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry (default: 30s).
	InitialBackoff time.Duration

	// MaxBackoff caps the delay (default: 10m).
	MaxBackoff time.Duration

	// Multiplier grows the delay after each retry (default: 2.0).
	Multiplier float64

	// Jitter spreads delays by +/- this fraction (default: 0.1).
	Jitter float64

	// IsRetryable decides whether an error is worth another attempt.
	// If nil, DefaultIsRetryable is used.
	IsRetryable func(error) bool
}

// DefaultPolicy matches the pacing a mobile inbox uses for background
// refreshes: start at 30 seconds and back off to at most 10 minutes.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     5,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     10 * time.Minute,
		Multiplier:     2.0,
		Jitter:         0.1,
		IsRetryable:    DefaultIsRetryable,
	}
}

// Sentinel errors.
var (
	// ErrPermanent marks an error that must not be retried.
	ErrPermanent = errors.New("retry: permanent error")

	// ErrExhausted is returned when all attempts failed.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrCanceled is returned when the context ended between attempts.
	ErrCanceled = errors.New("retry: canceled")
)

// Error reports why Do gave up.
type Error struct {
	// Cause is the last error returned by the function.
	Cause error
	// Attempts is the number of attempts made.
	Attempts int
	// Reason is ErrPermanent, ErrExhausted or ErrCanceled.
	Reason error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts (%s): %v", e.Attempts, e.Reason, e.Cause)
}

func (e *Error) Unwrap() []error {
	return []error{e.Reason, e.Cause}
}

// normalize fills in zero values with defaults.
func (p Policy) normalize() Policy {
	d := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	if p.IsRetryable == nil {
		p.IsRetryable = DefaultIsRetryable
	}
	return p
}

// Backoff returns the delay before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalize()
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt))
	d = min(d, float64(p.MaxBackoff))
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d += (rand.Float64()*2 - 1) * spread
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds or the policy gives up.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.normalize()

	var last error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return &Error{Cause: last, Attempts: attempt, Reason: ErrCanceled}
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !p.IsRetryable(last) {
			return &Error{Cause: last, Attempts: attempt + 1, Reason: ErrPermanent}
		}
		if attempt >= p.MaxRetries {
			return &Error{Cause: last, Attempts: attempt + 1, Reason: ErrExhausted}
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Error{Cause: last, Attempts: attempt + 1, Reason: ErrCanceled}
		case <-timer.C:
		}
	}
}

// Value runs fn with p and returns its result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// DefaultIsRetryable retries everything except errors marked permanent or
// errors whose Retryable method returns false.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// Permanent wraps err so DefaultIsRetryable rejects it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
