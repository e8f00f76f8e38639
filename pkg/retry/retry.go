// Package retry retries local operations that fail transiently, such as a
// busy SQLite database. Remote calls go through pkg/http instead.
package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryPolicy bounds attempts and the jittered exponential backoff between them
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy suits store writes contending for the SQLite write lock
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    5,
	InitialBackoff: 20 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
}

// IsTransientFunc reports whether err is worth another attempt
type IsTransientFunc func(error) bool

// Do runs fn until it succeeds, returns a permanent error, or the attempt
// budget runs out. The last error is returned as is.
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := failsafe.With[any](build(policy, isTransient)).WithContext(ctx).Run(fn)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func build(policy RetryPolicy, isTransient IsTransientFunc) retrypolicy.RetryPolicy[any] {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	b := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && isTransient(err)
		}).
		WithMaxAttempts(attempts).
		ReturnLastFailure()

	switch {
	case policy.InitialBackoff <= 0:
	case policy.MaxBackoff > policy.InitialBackoff:
		b = b.WithBackoff(policy.InitialBackoff, policy.MaxBackoff).WithJitterFactor(0.5)
	default:
		b = b.WithDelay(policy.InitialBackoff).WithJitterFactor(0.5)
	}
	return b.Build()
}
