package queue

import (
	"time"

	retry "github.com/sethvargo/go-retry"
)

const maxBackoff = time.Hour

// backoffDelay returns the wait before the next attempt after `attempts` failures:
// base, 2*base, 4*base, ... capped at maxBackoff.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 || attempts <= 0 {
		return 0
	}
	b := retry.WithCappedDuration(maxBackoff, retry.NewExponential(base))
	var delay time.Duration
	for i := 0; i < attempts; i++ {
		next, stop := b.Next()
		if stop {
			return maxBackoff
		}
		delay = next
	}
	if delay <= 0 || delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
