package dedupe

import (
	"context"
	"sync"
	"time"
)

// InMemoryReceiptCache is a process-local ReceiptCache for tests and
// single-instance deployments.
type InMemoryReceiptCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewInMemoryReceiptCache creates an in-memory cache. A non-positive ttl
// retains receipts for the life of the process.
func NewInMemoryReceiptCache(ttl time.Duration) *InMemoryReceiptCache {
	return &InMemoryReceiptCache{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether the key was marked and has not expired.
func (c *InMemoryReceiptCache) Seen(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	markedAt, ok := c.seen[key]
	if !ok {
		return false, nil
	}
	if c.ttl > 0 && c.now().Sub(markedAt) > c.ttl {
		delete(c.seen, key)
		return false, nil
	}
	return true, nil
}

// Mark records the key.
func (c *InMemoryReceiptCache) Mark(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = c.now()
	return nil
}

// Close is a no-op.
func (c *InMemoryReceiptCache) Close() error { return nil }
