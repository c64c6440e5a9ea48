package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru"
)

// Options configures a SmartCache. Zero durations disable the matching
// behavior.
type Options struct {
	MaxEntries int
	MaxMemory  int64
	// DefaultTTL is the idle time after which an entry expires.
	DefaultTTL time.Duration
	// HotTTL replaces DefaultTTL once an entry has been read more than
	// HotThreshold times.
	HotTTL          time.Duration
	HotThreshold    int
	CleanupInterval time.Duration
	// OnEvict is called for every entry leaving the cache, including
	// explicit deletes. It runs with the cache locked and must not call back
	// into the cache.
	OnEvict func(key string, value interface{})
}

// SmartCache is an LRU bounded by entry count and by the caller-declared
// size of its values, with idle expiry and hot-entry promotion.
type SmartCache struct {
	lru        *lru.Cache
	entries    map[string]*entry
	opts       Options
	mu         sync.Mutex
	currentMem int64
	stats      CacheStats
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

type entry struct {
	accessCount int
	lastAccess  time.Time
	ttl         time.Duration
	size        int64
}

type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	Expirations   int64 `json:"expirations"`
	HotPromotions int64 `json:"hot_promotions"`
}

var ErrTooLarge = errors.New("value exceeds cache memory limit")

func NewSmartCache(opts Options) (*SmartCache, error) {
	if opts.MaxEntries <= 0 {
		return nil, errors.New("cache needs a positive entry limit")
	}
	if opts.MaxMemory <= 0 {
		return nil, errors.New("cache needs a positive memory limit")
	}

	c := &SmartCache{
		entries: make(map[string]*entry),
		opts:    opts,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	lruCache, err := lru.NewWithEvict(opts.MaxEntries, c.onEvicted)
	if err != nil {
		return nil, err
	}
	c.lru = lruCache

	if opts.CleanupInterval > 0 {
		go c.cleanupLoop(opts.CleanupInterval)
	}

	return c, nil
}

// onEvicted keeps the bookkeeping in step with the LRU. The LRU calls it on
// capacity eviction, Remove and Purge, always under c.mu.
func (c *SmartCache) onEvicted(key interface{}, value interface{}) {
	k := key.(string)
	if e, ok := c.entries[k]; ok {
		c.currentMem -= e.size
		delete(c.entries, k)
	}
	if c.opts.OnEvict != nil {
		c.opts.OnEvict(k, value)
	}
}

func (c *SmartCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, found := c.lru.Get(key)
	if !found {
		c.stats.Misses++
		return nil, false
	}

	e := c.entries[key]
	now := c.now()
	if e.expired(now) {
		c.lru.Remove(key)
		c.stats.Expirations++
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	e.accessCount++
	e.lastAccess = now
	if c.opts.HotThreshold > 0 && e.accessCount > c.opts.HotThreshold && e.ttl < c.opts.HotTTL {
		e.ttl = c.opts.HotTTL
		c.stats.HotPromotions++
	}
	return value, true
}

// Set stores value under key, evicting cold entries when the memory limit
// would be exceeded.
func (c *SmartCache) Set(key string, value interface{}, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.opts.MaxMemory {
		return ErrTooLarge
	}

	if old, ok := c.entries[key]; ok {
		c.currentMem -= old.size
		delete(c.entries, key)
	}

	if c.currentMem+size > c.opts.MaxMemory {
		c.evictColdData(key, c.currentMem+size-c.opts.MaxMemory)
	}

	if c.lru.Add(key, value) {
		c.stats.Evictions++
	}
	c.entries[key] = &entry{
		accessCount: 1,
		lastAccess:  c.now(),
		ttl:         c.opts.DefaultTTL,
		size:        size,
	}
	c.currentMem += size

	return nil
}

// evictColdData frees at least needed bytes, least recently used first:
// single-access entries go before anything that has been read again.
func (c *SmartCache) evictColdData(keep string, needed int64) {
	freed := int64(0)
	pass := func(cold bool) {
		for _, k := range c.lru.Keys() {
			if freed >= needed {
				return
			}
			key := k.(string)
			e, ok := c.entries[key]
			if key == keep || !ok {
				continue
			}
			if cold && e.accessCount > 1 {
				continue
			}
			freed += e.size
			c.lru.Remove(key)
			c.stats.Evictions++
		}
	}

	pass(true)
	if freed < needed {
		pass(false)
	}
}

func (c *SmartCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(key)
}

func (c *SmartCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.entries = make(map[string]*entry)
	c.currentMem = 0
}

func (c *SmartCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

func (c *SmartCache) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

func (c *SmartCache) GetMemoryUsage() (int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.currentMem, c.opts.MaxMemory
}

func (c *SmartCache) GetHitRatio() float64 {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0
	}
	return float64(stats.Hits) / float64(total)
}

// Close stops the cleanup goroutine.
func (c *SmartCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *SmartCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

// cleanup drops every expired entry.
func (c *SmartCache) cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			c.lru.Remove(key)
			c.stats.Expirations++
			removed++
		}
	}
	return removed
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.lastAccess) > e.ttl
}
