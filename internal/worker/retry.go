package worker

import (
	"context"
	"time"
)

// RetryPolicy defines linear backoff for bulk flushes: attempt n waits n*Delay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Attempts returns the total number of tries, at least one.
func (r RetryPolicy) Attempts() int {
	if r.MaxAttempts < 1 {
		return 1
	}
	return r.MaxAttempts
}

// NextDelay returns delay after a failed attempt (1-based).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.Delay <= 0 {
		r.Delay = time.Second
	}
	return time.Duration(attempt) * r.Delay
}

// sleepContext waits for d or until ctx is done. It reports whether the full delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
