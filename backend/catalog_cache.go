package backend

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// CatalogCache keeps proxied catalog responses in memory and, when a
// Redis URL is configured, in Redis so they survive restarts.
type CatalogCache struct {
	l1         sync.Map      // key -> *cacheEntry
	rdb        *redis.Client // nil if Redis unavailable
	ttl        time.Duration
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCatalogCache sets up the cache. redisURL can be empty to disable L2;
// an unreachable Redis only logs a warning.
func NewCatalogCache(redisURL string, ttl time.Duration, maxEntries int) *CatalogCache {
	c := &CatalogCache{ttl: ttl, maxEntries: maxEntries, stop: make(chan struct{})}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			Logger.Warn("catalog cache: invalid redis URL, L2 disabled", "error", err)
		} else {
			rdb := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				Logger.Warn("catalog cache: redis unreachable, L2 disabled", "error", err)
				rdb.Close()
			} else {
				c.rdb = rdb
				Logger.Info("catalog cache: L2 redis connected", "addr", opts.Addr)
			}
		}
	}

	go c.cleanupLoop(5 * time.Minute)
	return c
}

// CatalogKey builds a deterministic cache key from parts.
func CatalogKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("hongit:catalog:%x", hash[:12])
}

// Get tries L1, then L2. An L2 hit repopulates L1.
func (c *CatalogCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}

	if val, ok := c.l1.Load(key); ok {
		entry := val.(*cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			c.hits.Add(1)
			return entry.data, true
		}
		c.l1.Delete(key)
	}

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			c.hits.Add(1)
			c.l1.Store(key, &cacheEntry{data: data, expiresAt: time.Now().Add(c.ttl)})
			return data, true
		}
		if err != redis.Nil {
			Logger.Debug("catalog cache: L2 get failed", "error", err)
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Set stores data in both tiers.
func (c *CatalogCache) Set(ctx context.Context, key string, data []byte) {
	if c == nil || c.ttl <= 0 {
		return
	}

	c.evictIfNeeded()
	c.l1.Store(key, &cacheEntry{data: data, expiresAt: time.Now().Add(c.ttl)})

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			Logger.Debug("catalog cache: L2 set failed", "error", err)
		}
	}
}

// CacheStats is a snapshot of the cache counters.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
	Redis   bool  `json:"redis"`
}

// Stats returns hit/miss counters. A nil cache reports zeros.
func (c *CatalogCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.count(),
		Redis:   c.rdb != nil,
	}
}

// Close stops the cleanup loop and the Redis client.
func (c *CatalogCache) Close() error {
	if c == nil {
		return nil
	}
	c.stopOnce.Do(func() { close(c.stop) })
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

func (c *CatalogCache) count() int {
	n := 0
	c.l1.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// evictIfNeeded drops expired entries, then the oldest ones, until there is
// room for one more.
func (c *CatalogCache) evictIfNeeded() {
	if c.maxEntries <= 0 {
		return
	}
	count := c.count()
	if count < c.maxEntries {
		return
	}

	now := time.Now()
	c.l1.Range(func(key, val any) bool {
		if entry := val.(*cacheEntry); now.After(entry.expiresAt) {
			c.l1.Delete(key)
			count--
		}
		return count >= c.maxEntries
	})

	for count >= c.maxEntries {
		var oldestKey any
		oldestAt := now.Add(c.ttl + time.Hour)
		c.l1.Range(func(key, val any) bool {
			// expiresAt = storedAt + ttl, so earliest expiry is oldest
			if entry := val.(*cacheEntry); entry.expiresAt.Before(oldestAt) {
				oldestKey, oldestAt = key, entry.expiresAt
			}
			return true
		})
		if oldestKey == nil {
			break
		}
		c.l1.Delete(oldestKey)
		count--
	}
}

func (c *CatalogCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.l1.Range(func(key, val any) bool {
				if now.After(val.(*cacheEntry).expiresAt) {
					c.l1.Delete(key)
				}
				return true
			})
		}
	}
}
