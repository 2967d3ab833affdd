package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterFirstAcquireImmediate(t *testing.T) {
	limiter := NewRateLimiter(1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, limiter.Acquire(ctx))
}

func TestRateLimiterRefusesUnmeetableDeadline(t *testing.T) {
	// One request per hour: the burst is spent on the first acquire, and
	// the second can never be satisfied before the deadline.
	limiter := NewRateLimiter(1.0 / 3600)
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, limiter.Acquire(ctx))
}
