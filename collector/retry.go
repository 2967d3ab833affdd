package collector

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// RetryPolicy wraps a fallible operation with bounded exponential backoff.
// Transient failures are retried with a delay that starts at BaseDelay and
// doubles each attempt, capped at MaxDelay; a backend-provided RetryAfter
// hint overrides the computed delay when larger. Fatal failures propagate
// immediately. Exhausting MaxAttempts converts the last transient failure
// into a fatal one for the caller.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep is injectable so tests can run the full backoff schedule
	// without wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		sleep:       sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs op, retrying transient failures up to MaxAttempts total
// attempts. Any non-transient error is returned as-is on the first
// occurrence.
func (p *RetryPolicy) Execute(ctx context.Context, op func() error) error {
	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		wait := delay
		if hint := RetryAfterHint(err); hint > wait {
			wait = hint
		}
		if wait > p.MaxDelay {
			wait = p.MaxDelay
		}
		if err := p.sleep(ctx, wait); err != nil {
			return &FatalError{Err: err}
		}
		delay *= 2
	}

	return &FatalError{Err: errors.Wrapf(lastErr, "retries exhausted after %d attempts", p.MaxAttempts)}
}
