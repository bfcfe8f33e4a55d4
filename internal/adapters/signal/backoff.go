package signal

import "time"

// Backoff returns the wait before reconnect attempt n (n >= 1).
type Backoff func(attempt int) time.Duration

// Constant waits d before every attempt.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Exponential doubles base per attempt up to max.
func Exponential(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}
