// Package retry wraps outbound calls to unreliable collaborators with a
// per-attempt timeout and a small exponential backoff budget.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config configures the retry behavior.
type Config struct {
	MaxRetries  int           // Retries after the first attempt
	BaseDelay   time.Duration // Initial backoff delay (doubles each retry)
	MaxDelay    time.Duration // Cap on backoff delay
	CallTimeout time.Duration // Deadline for a single attempt
}

// DefaultConfig returns production retry defaults: three attempts total.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry budget exhausted")

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a Permanent error, the budget runs
// out, or ctx is done. Each attempt gets its own CallTimeout deadline.
// onRetry, if non-nil, is told about every failed attempt that will be
// retried.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error, onRetry func(err error, wait time.Duration)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // bounded by MaxRetries instead

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(cfg.MaxRetries, 0))), ctx)

	var permanent error
	op := func() error {
		callCtx := ctx
		if cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
			defer cancel()
		}
		err := fn(callCtx)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = perm.Err
		}
		return err
	}

	err := backoff.RetryNotify(op, policy, onRetry)
	if err == nil {
		return nil
	}
	if permanent != nil {
		return permanent
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Join(ErrExhausted, err)
}
