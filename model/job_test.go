package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobTerminalStates(t *testing.T) {
	job := Job{Status: JobStatusPending}
	require.False(t, job.IsTerminal())

	job.MarkStarted()
	require.Equal(t, JobStatusRunning, job.Status)
	require.False(t, job.IsTerminal())
	require.NotNil(t, job.StartedAt)

	job.MarkCompleted()
	require.True(t, job.IsTerminal())
	require.NotNil(t, job.CompletedAt)

	failed := Job{Status: JobStatusRunning}
	failed.MarkFailed("backend said no")
	require.True(t, failed.IsTerminal())
	require.Equal(t, "backend said no", failed.ErrorMessage)

	cancelled := Job{Status: JobStatusPending}
	cancelled.MarkCancelled()
	require.True(t, cancelled.IsTerminal())
}

func TestJobDuration(t *testing.T) {
	job := Job{}
	require.Zero(t, job.Duration())

	start := time.Now().Add(-3 * time.Second)
	end := start.Add(2 * time.Second)
	job.StartedAt = &start
	job.CompletedAt = &end
	require.Equal(t, 2*time.Second, job.Duration())
}

func TestPostCountersEqual(t *testing.T) {
	views := 10
	a := Post{LikeCount: 1, RetweetCount: 2, ReplyCount: 3, QuoteCount: 4, ViewCount: &views}

	b := a
	require.True(t, a.CountersEqual(&b))

	b.LikeCount = 2
	require.False(t, a.CountersEqual(&b))

	b = a
	b.ViewCount = nil
	require.False(t, a.CountersEqual(&b))

	otherViews := 11
	b = a
	b.ViewCount = &otherViews
	require.False(t, a.CountersEqual(&b))
}
