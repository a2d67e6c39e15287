package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewExponentialBackOff builds a backoff schedule for dispatch retries.
// A maxElapsed of zero means the schedule never gives up on its own; the
// caller bounds it with an attempt count or a context instead.
func NewExponentialBackOff(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

// CalculateBackoffDuration returns the delay before the given zero-based
// attempt, capped at maxInterval. Used for reporting the next delay to
// retry callbacks without consuming the backoff schedule itself.
func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}
