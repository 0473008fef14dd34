package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds repeated attempts of one operation.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Retry calls fn until it succeeds, the attempts run out, or ctx ends.
// ErrCircuitOpen stops retrying at once. The last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) || attempt == attempts {
			break
		}

		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
