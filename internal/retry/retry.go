// Package retry runs store operations again when they fail with a transient
// error, a fixed number of times with a fixed pause in between.
package retry

import (
	"context"
	"errors"
	"time"

	"courtbooking/internal/logger"
	"courtbooking/internal/metrics"
	"courtbooking/internal/store"
)

const (
	DefaultAttempts = 3
	DefaultPause    = 500 * time.Millisecond
)

type Policy struct {
	Attempts int
	Pause    time.Duration
}

func Default() Policy {
	return Policy{Attempts: DefaultAttempts, Pause: DefaultPause}
}

// Throttled reports whether err is the store's throttling error.
func Throttled(err error) bool {
	return errors.Is(err, store.ErrThrottled)
}

// Do calls fn until it succeeds, fails with an error retryable rejects, or
// the attempts run out. The last error is returned unchanged. reason labels
// the retry in logs and metrics.
func (p Policy) Do(ctx context.Context, reason string, retryable func(error) bool, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !retryable(err) || attempt >= attempts {
			return err
		}

		logger.Warn("Retrying store operation", "reason", reason, "attempt", attempt, "error", err)
		metrics.RecordRetry(reason)

		if p.Pause > 0 {
			timer := time.NewTimer(p.Pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
	}
}

// OnThrottle is Do with the throttling classification.
func (p Policy) OnThrottle(ctx context.Context, fn func() error) error {
	return p.Do(ctx, "throttled", Throttled, fn)
}
