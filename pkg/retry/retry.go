// Package retry runs an operation again after transient failures, waiting an
// exponentially growing delay between attempts.
package retry

import (
	"context"
	"time"
)

// Defaults used when a Policy field is zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// Policy controls how Do retries.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; it doubles each time.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration

	// Retryable decides whether err warrants another attempt.
	// A nil Retryable retries every error.
	Retryable func(err error) bool

	// OnRetry is called before each wait with the 1-based attempt number
	// that just failed.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleep waits for d or until ctx is done. Tests replace it to avoid
	// real waiting. Defaults to a timer-based context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Delay returns the wait after the attempt with 0-based index i:
// min(BaseDelay * 2^i, MaxDelay).
func (p Policy) Delay(i int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for n := 0; n < i; n++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Do calls op until it succeeds, returns a non-retryable error, or the
// attempts run out. The error of the last attempt is returned unchanged.
// If ctx is cancelled during a wait, ctx.Err() is returned.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	p := policy.withDefaults()

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := p.Sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
