package collector

import (
	"errors"
	"fmt"
	"time"
)

// TransientError marks a failure that is worth retrying: network timeouts,
// 5xx responses, explicit rate-limit signals. RetryAfter carries the wait
// the backend asked for, if it provided one; the retry policy honors it
// when it exceeds the computed backoff.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("transient: %s (retry after %s)", e.Err, e.RetryAfter)
	}
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that must not be retried: auth failures,
// permission denials, malformed requests. It aborts the current job.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// MalformedRecordError marks a single raw record that could not be
// normalized. It is counted against the job, never aborts it.
type MalformedRecordError struct {
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return "malformed record: " + e.Reason
}

// ErrScrapeDisallowed is the policy failure raised when the target site's
// robots.txt forbids fetching the account page. It is never retried and
// the job never silently falls back past it.
var ErrScrapeDisallowed = errors.New("scraping disallowed by robots.txt")

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

func IsMalformedRecord(err error) bool {
	var m *MalformedRecordError
	return errors.As(err, &m)
}

// RetryAfterHint extracts the backend-provided wait from a transient error
// chain, zero if none was given.
func RetryAfterHint(err error) time.Duration {
	var t *TransientError
	if errors.As(err, &t) {
		return t.RetryAfter
	}
	return 0
}
