package collector

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// testPolicy returns a policy whose sleeps are recorded instead of slept.
func testPolicy(maxAttempts int, sleeps *[]time.Duration) *RetryPolicy {
	p := NewRetryPolicy(maxAttempts, 2*time.Second, time.Minute)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return p
}

func TestRetryTransientThenSucceed(t *testing.T) {
	sleeps := []time.Duration{}
	p := testPolicy(5, &sleeps)

	attempts := 0
	err := p.Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return &TransientError{Err: errors.New("flaky")}
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	// Exponential backoff: 2s, then 4s.
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps)
}

func TestRetryExhaustionBecomesFatal(t *testing.T) {
	sleeps := []time.Duration{}
	p := testPolicy(3, &sleeps)

	attempts := 0
	err := p.Execute(context.Background(), func() error {
		attempts++
		return &TransientError{Err: errors.New("still down")}
	})

	require.Error(t, err)
	require.True(t, IsFatal(err))
	require.Equal(t, 3, attempts)
	require.Len(t, sleeps, 2)
}

func TestFatalNotRetried(t *testing.T) {
	sleeps := []time.Duration{}
	p := testPolicy(5, &sleeps)

	attempts := 0
	err := p.Execute(context.Background(), func() error {
		attempts++
		return &FatalError{Err: errors.New("bad credentials")}
	})

	require.Error(t, err)
	require.True(t, IsFatal(err))
	require.Equal(t, 1, attempts)
	require.Empty(t, sleeps)
}

func TestRetryAfterHintOverridesBackoff(t *testing.T) {
	sleeps := []time.Duration{}
	p := testPolicy(3, &sleeps)

	attempts := 0
	err := p.Execute(context.Background(), func() error {
		attempts++
		if attempts == 1 {
			return &TransientError{Err: errors.New("rate limited"), RetryAfter: 10 * time.Second}
		}
		return nil
	})

	require.NoError(t, err)
	// The backend's 10s beats the computed 2s.
	require.Equal(t, []time.Duration{10 * time.Second}, sleeps)
}

func TestRetryAfterCappedAtMaxDelay(t *testing.T) {
	sleeps := []time.Duration{}
	p := testPolicy(3, &sleeps)

	attempts := 0
	err := p.Execute(context.Background(), func() error {
		attempts++
		if attempts == 1 {
			return &TransientError{Err: errors.New("rate limited"), RetryAfter: 2 * time.Hour}
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, []time.Duration{time.Minute}, sleeps)
}

func TestRetryAbortsWhenContextCancelled(t *testing.T) {
	p := NewRetryPolicy(3, 2*time.Second, time.Minute)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	attempts := 0
	err := p.Execute(context.Background(), func() error {
		attempts++
		return &TransientError{Err: errors.New("flaky")}
	})

	require.Error(t, err)
	require.True(t, IsFatal(err))
	require.Equal(t, 1, attempts)
}
