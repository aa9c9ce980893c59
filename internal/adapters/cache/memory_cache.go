package cache

import (
	"sync"
	"time"

	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
)

// MemoryCache is an in-memory implementation of the EvalCache interface.
// Entries expire after a TTL and the cache is capacity-bounded: once the
// bound is exceeded, the oldest entries by evaluation timestamp are evicted
// first. A full expiry sweep runs every sweepEvery writes.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*core.EvalResult
	logger     *zap.Logger
	ttl        time.Duration
	capacity   int
	sweepEvery int
	writes     int
	now        func() time.Time
}

// NewMemoryCache creates a new in-memory evaluation cache. sweepFraction is
// the fraction of writes that trigger an expiry sweep (0.1 sweeps every 10th
// write).
func NewMemoryCache(logger *zap.Logger, ttl time.Duration, capacity int, sweepFraction float64) *MemoryCache {
	sweepEvery := 1
	if sweepFraction > 0 && sweepFraction < 1 {
		sweepEvery = int(1 / sweepFraction)
	}
	return &MemoryCache{
		entries:    make(map[string]*core.EvalResult),
		logger:     logger,
		ttl:        ttl,
		capacity:   capacity,
		sweepEvery: sweepEvery,
		now:        time.Now,
	}
}

// Get retrieves a fresh entry by signature. Expired entries are not reused.
func (c *MemoryCache) Get(key string) (*core.EvalResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.EvaluatedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry, true
}

// Put stores an evaluation result, evicting the globally oldest entries when
// the capacity bound is exceeded.
func (c *MemoryCache) Put(key string, result *core.EvalResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = result

	c.writes++
	if c.writes%c.sweepEvery == 0 {
		c.sweepLocked()
	}

	for c.capacity > 0 && len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

// Len returns the current entry count
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) sweepLocked() {
	cutoff := c.now().Add(-c.ttl)
	expired := 0
	for key, entry := range c.entries {
		if entry.EvaluatedAt.Before(cutoff) {
			delete(c.entries, key)
			expired++
		}
	}
	if expired > 0 {
		c.logger.Debug("Swept expired cache entries", zap.Int("expired_count", expired))
	}
}

func (c *MemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.EvaluatedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.EvaluatedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
