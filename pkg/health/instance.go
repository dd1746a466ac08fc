package health

import (
	"context"
	"sync"
	"time"
)

// InstanceChecker answers pkg/dns.HealthChecker by TCP-dialing each
// candidate record value and caching the result for a short TTL, so a
// query burst against the same hostname doesn't re-dial every backend
// on every resolution.
type InstanceChecker struct {
	timeout time.Duration
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cachedResult
}

type cachedResult struct {
	healthy   bool
	expiresAt time.Time
}

// NewInstanceChecker builds a checker with a 2s dial timeout and a 5s
// cache TTL per address.
func NewInstanceChecker() *InstanceChecker {
	return &InstanceChecker{
		timeout: 2 * time.Second,
		ttl:     5 * time.Second,
		cache:   make(map[string]cachedResult),
	}
}

// IsHealthy implements pkg/dns.HealthChecker.
func (c *InstanceChecker) IsHealthy(value string) bool {
	c.mu.Lock()
	if cached, ok := c.cache[value]; ok && time.Now().Before(cached.expiresAt) {
		c.mu.Unlock()
		return cached.healthy
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	result := NewTCPChecker(value).WithTimeout(c.timeout).Check(ctx)

	c.mu.Lock()
	c.cache[value] = cachedResult{healthy: result.Healthy, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return result.Healthy
}
