package signal

import (
	"sync"
	"time"

	"github.com/dkeye/voicesync/internal/domain"
)

// RateLimiter bounds how often an outbound event may be sent per key,
// e.g. TYPING_START per channel.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ID][]time.Time
	limit    int
	interval time.Duration
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.ID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RateLimiter) Allow(key domain.ID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}

	rl.history[key] = append(fresh, now)
	return true
}

// Reset forgets the history of key.
func (rl *RateLimiter) Reset(key domain.ID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, key)
}
