package services

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter bounds how many calls are permitted within a sliding one-minute window.
// It never blocks or queues; callers decide whether to retry, drop or fail.
type RateLimiter struct {
	mu      sync.Mutex
	clock   Clock
	ceiling int
	window  []time.Time // permitted call times, oldest first
}

// NewRateLimiter creates a limiter allowing perMinute calls per sliding minute
func NewRateLimiter(perMinute int, clock Clock) *RateLimiter {
	if clock == nil {
		clock = SystemClock
	}
	if perMinute < 1 {
		perMinute = 1
	}
	return &RateLimiter{
		clock:   clock,
		ceiling: perMinute,
	}
}

// Allow reports whether a call may proceed now, recording it if so
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.trim(now)

	if len(rl.window) >= rl.ceiling {
		return false
	}
	rl.window = append(rl.window, now)
	return true
}

// Remaining returns how many calls would currently be allowed
func (rl *RateLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.trim(rl.clock.Now())
	if n := rl.ceiling - len(rl.window); n > 0 {
		return n
	}
	return 0
}

// Release hands back the most recent permitted call, for callers whose work
// failed after Allow. It is a no-op when the window is empty.
func (rl *RateLimiter) Release() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if n := len(rl.window); n > 0 {
		rl.window = rl.window[:n-1]
	}
}

// SetCeiling applies a new per-minute ceiling. Calls already in the window still count.
func (rl *RateLimiter) SetCeiling(perMinute int) {
	if perMinute < 1 {
		perMinute = 1
	}
	rl.mu.Lock()
	rl.ceiling = perMinute
	rl.mu.Unlock()
}

// trim drops timestamps that fell out of the window. Caller holds mu.
func (rl *RateLimiter) trim(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(rl.window) && !rl.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.window = append(rl.window[:0], rl.window[i:]...)
	}
}
