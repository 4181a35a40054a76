package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff retries a single call with exponential delay. It is call-local:
// nothing about the attempts survives the call.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	// Jitter is the randomization factor applied to each delay, 0 disables it
	Jitter float64

	// OnRetry is called before each new attempt
	OnRetry func(attempt int, err error)
}

var DefaultBackoff = Backoff{Attempts: 3, Initial: 500 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2}

// Permanent marks err so Do stops retrying immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (b Backoff) policy() *backoff.ExponentialBackOff {
	p := backoff.NewExponentialBackOff()
	if b.Initial > 0 {
		p.InitialInterval = b.Initial
	}
	if b.Max > 0 {
		p.MaxInterval = b.Max
	}
	p.RandomizationFactor = b.Jitter
	p.Multiplier = 2
	// attempts bound the call, not wall time
	p.MaxElapsedTime = 0
	p.Reset()
	return p
}

// Do runs fn until it succeeds, returns a permanent error, the context is
// done or the attempts are exhausted.
func (b Backoff) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var (
		calls   int
		lastErr error
	)
	op := func() error {
		calls++
		lastErr = fn(ctx)
		return lastErr
	}
	notify := func(err error, _ time.Duration) {
		if b.OnRetry != nil {
			b.OnRetry(calls, err)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b.policy(), uint64(attempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	var perm *backoff.PermanentError
	switch {
	case err == nil:
		return nil
	case errors.As(lastErr, &perm):
		return err
	case ctx.Err() != nil:
		if lastErr != nil && lastErr != ctx.Err() {
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		}
		return err
	case calls >= attempts:
		return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
	}
	return err
}
