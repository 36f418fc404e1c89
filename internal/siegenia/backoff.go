package siegenia

import (
	"math"
	"time"
)

// LinearBackoff returns the delay before reconnect attempt n (0-based):
// min(n*base + base, max). A non-positive max disables the cap.
func LinearBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	steps := int64(attempt) + 1
	if steps > int64(math.MaxInt64/base) {
		return capDelay(time.Duration(math.MaxInt64), maxDelay)
	}
	return capDelay(time.Duration(steps)*base, maxDelay)
}

// ExponentialBackoff returns the delay before login retry n (0-based):
// min(base * 2^n, max). A non-positive max disables the cap.
func ExponentialBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	d := base
	for range attempt {
		if d > math.MaxInt64/2 {
			return capDelay(time.Duration(math.MaxInt64), maxDelay)
		}
		d *= 2
		if maxDelay > 0 && d >= maxDelay {
			return maxDelay
		}
	}
	return capDelay(d, maxDelay)
}

func capDelay(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
