// Package retry runs store writes under a per-attempt deadline and retries
// the ones whose deadline elapsed.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when every attempt ran out of time.
var ErrExhausted = errors.New("deadline exceeded on every attempt")

type Policy struct {
	Timeout     time.Duration
	MaxRetries  uint64
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultPolicy: 3s per attempt, at most two retries.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:     3 * time.Second,
		MaxRetries:  2,
		InitialWait: 50 * time.Millisecond,
		MaxWait:     time.Second,
	}
}

// Write runs op with a fresh deadline per attempt. Only attempts that hit
// their own deadline are retried; any other error is returned as is.
func Write(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialWait
	eb.MaxInterval = p.MaxWait
	// randomization 1 spreads each wait over (0, 2*interval)
	eb.RandomizationFactor = 1
	eb.MaxElapsedTime = 0

	var timedOut bool
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			timedOut = true
			return err
		}
		timedOut = false
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx))

	if err != nil && timedOut {
		return errors.Join(ErrExhausted, err)
	}
	return err
}

// Read runs op once under the policy deadline.
func Read(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return op(attemptCtx)
}
