package services

import (
	"context"
	"sync"
	"time"

	"sentinel/internal/models"
)

// CachedSampler serves a recent reading to frequent pollers (HTTP, websocket)
// so they never hit the host more than once per TTL. The control loop uses
// the underlying sampler directly.
type CachedSampler struct {
	inner Sampler
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   models.Sample
	cachedAt time.Time
	valid    bool
}

// NewCachedSampler wraps inner with a TTL cache
func NewCachedSampler(inner Sampler, ttl time.Duration, clock Clock) *CachedSampler {
	if clock == nil {
		clock = SystemClock
	}
	return &CachedSampler{inner: inner, ttl: ttl, clock: clock}
}

func (c *CachedSampler) isCacheValid(now time.Time) bool {
	return c.valid && now.Sub(c.cachedAt) < c.ttl
}

// Sample returns the cached reading if still fresh, otherwise reads again
func (c *CachedSampler) Sample(ctx context.Context) (models.Sample, error) {
	now := c.clock.Now()
	c.mu.RLock()
	if c.isCacheValid(now) {
		s := c.cached
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	s, err := c.inner.Sample(ctx)
	if err != nil {
		return models.Sample{}, err
	}

	c.mu.Lock()
	c.cached = s
	c.cachedAt = now
	c.valid = true
	c.mu.Unlock()
	return s, nil
}

// Clear drops the cached reading
func (c *CachedSampler) Clear() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
