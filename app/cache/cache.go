// Package cache provides a size-bounded LRU cache for detection results,
// keyed by image content hash plus crop rectangle. A detail sheet that was
// already detected is served from here so re-opening it never re-runs the
// detection service.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ohler55/ojg/oj"

	"planlens/app/annotations"
)

// DefaultMaxSize is used when the configured limit is invalid (100MB).
const DefaultMaxSize = 100 * 1024 * 1024

// Logger interface for cache logging
type Logger interface {
	Log(level, message string)
}

// Entry is one cached detection result.
type Entry struct {
	Set        annotations.Set
	Size       int64
	CreateTime time.Time
	AccessTime int64
}

// Stats contains cache statistics for display.
type Stats struct {
	TotalEntries int     `json:"totalEntries"`
	TotalSize    int64   `json:"totalSize"`
	MaxSize      int64   `json:"maxSize"`
	UsagePercent float64 `json:"usagePercent"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hitRate"`
}

// Cache is a size-bounded LRU store of detection results.
type Cache struct {
	storage     map[string]*Entry
	maxSize     int64
	currentSize int64
	lru         *LRUList
	mutex       sync.RWMutex
	logger      Logger

	hits   int64
	misses int64
}

// NewCache creates a new cache with the given size limit in bytes.
func NewCache(maxSize int64) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		storage: make(map[string]*Entry),
		maxSize: maxSize,
		lru:     NewLRUList(),
	}
}

// SetLogger sets the logger for the cache
func (c *Cache) SetLogger(logger Logger) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.logger = logger
}

// Key builds the cache key for a detection request. crop is "full" for
// whole-image detection or "x,y,w,h" for a region request.
func Key(imageHash, crop string) string {
	return imageHash + "|" + crop
}

// Get retrieves a cached detection set and marks it as recently used.
func (c *Cache) Get(key string) (annotations.Set, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.storage[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		if c.logger != nil {
			c.logger.Log("debug", fmt.Sprintf("detection cache miss: %s", key))
		}
		return annotations.Set{}, false
	}

	atomic.AddInt64(&c.hits, 1)
	entry.AccessTime = time.Now().UnixNano()
	c.lru.MoveToFront(key)
	return entry.Set, true
}

// Put stores a detection set, evicting least-recently-used entries when the
// size limit is exceeded.
func (c *Cache) Put(key string, set annotations.Set) {
	size := estimateSize(set)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	// An oversized single entry would immediately evict everything else and
	// still not fit; refuse it.
	if size > c.maxSize {
		if c.logger != nil {
			c.logger.Log("warn", fmt.Sprintf("detection result too large to cache (%d bytes)", size))
		}
		return
	}

	if old, exists := c.storage[key]; exists {
		c.currentSize -= old.Size
		c.lru.Remove(key)
	}

	for c.currentSize+size > c.maxSize {
		oldest := c.lru.RemoveOldest()
		if oldest == "" {
			break
		}
		if victim, ok := c.storage[oldest]; ok {
			c.currentSize -= victim.Size
			delete(c.storage, oldest)
		}
	}

	c.storage[key] = &Entry{
		Set:        set,
		Size:       size,
		CreateTime: time.Now(),
		AccessTime: time.Now().UnixNano(),
	}
	c.currentSize += size
	c.lru.AddToFront(key)
}

// Remove drops a single entry.
func (c *Cache) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if entry, ok := c.storage[key]; ok {
		c.currentSize -= entry.Size
		delete(c.storage, key)
		c.lru.Remove(key)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.storage = make(map[string]*Entry)
	c.lru = NewLRUList()
	c.currentSize = 0
}

// SetMaxSize updates the size limit and evicts until the cache fits.
func (c *Cache) SetMaxSize(maxSize int64) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.maxSize = maxSize
	for c.currentSize > c.maxSize {
		oldest := c.lru.RemoveOldest()
		if oldest == "" {
			break
		}
		if victim, ok := c.storage[oldest]; ok {
			c.currentSize -= victim.Size
			delete(c.storage, oldest)
		}
	}
}

// GetStats returns current cache statistics.
func (c *Cache) GetStats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	stats := Stats{
		TotalEntries: len(c.storage),
		TotalSize:    c.currentSize,
		MaxSize:      c.maxSize,
		Hits:         hits,
		Misses:       misses,
	}
	if c.maxSize > 0 {
		stats.UsagePercent = float64(c.currentSize) / float64(c.maxSize) * 100
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// estimateSize approximates an entry's memory footprint from its JSON
// serialization, which tracks the string-heavy annotation payload closely
// enough for eviction accounting.
func estimateSize(set annotations.Set) int64 {
	b, err := oj.Marshal(set)
	if err != nil {
		// Fall back to a per-record guess
		return int64(len(set.Circles)*128 + len(set.Texts)*96)
	}
	return int64(len(b))
}
