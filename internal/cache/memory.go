package cache

import (
	"context"
	"sync"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/storage"
)

type memoryEntry struct {
	cfg     storage.ExtractorConfig
	expires time.Time
}

// MemoryCache is the single-process cache used when Redis is not configured
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a cache whose entries live for ttl (0 = forever)
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get implements AnchorCache
func (c *MemoryCache) Get(_ context.Context, churchID, extractorID int64) (*storage.ExtractorConfig, bool, error) {
	key := Key(churchID, extractorID)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}

	cfg := e.cfg
	return &cfg, true, nil
}

// Set implements AnchorCache
func (c *MemoryCache) Set(_ context.Context, churchID, extractorID int64, cfg *storage.ExtractorConfig) error {
	if cfg == nil {
		return nil
	}
	e := memoryEntry{cfg: *cfg}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[Key(churchID, extractorID)] = e
	c.mu.Unlock()
	return nil
}

// Invalidate implements AnchorCache
func (c *MemoryCache) Invalidate(_ context.Context, churchID, extractorID int64) error {
	c.mu.Lock()
	delete(c.entries, Key(churchID, extractorID))
	c.mu.Unlock()
	return nil
}
