package services

import (
	"sync"
	"time"
)

// Clock abstracts time so loops and windows can be driven by tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// stampClock hands out timestamps that never go backwards, even if the
// wall clock is stepped. Every persisted entity is stamped through one.
type stampClock struct {
	mu   sync.Mutex
	src  Clock
	last time.Time
}

func newStampClock(src Clock) *stampClock {
	if src == nil {
		src = SystemClock
	}
	return &stampClock{src: src}
}

func (c *stampClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.src.Now().Round(0)
	if now.Before(c.last) {
		now = c.last
	}
	c.last = now
	return now
}

// observe raises the floor to t, used when reloading persisted entities.
func (c *stampClock) observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}

// stamp returns t, raised to the last handed-out time if it is earlier.
func (c *stampClock) stamp(t time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t = t.Round(0)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
