// Package retry implements the bounded retry policy used for store
// connection acquisition. It wraps that single operation only; queries,
// inserts, and downstream hops are never retried.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy is a fixed-bound, fixed-delay retry policy. No jitter, no
// exponential growth.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultPolicy matches the pipeline's store-connect budget.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Delay: 2 * time.Second}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or the
// context is cancelled. The delay is only taken between attempts.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if i < attempts-1 {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("exhausted %d attempts: %w", attempts, lastErr)
}
