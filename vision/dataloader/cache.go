package dataloader

import (
	"container/list"
	"fmt"
	"sync"
)

// DefaultCacheSize is the number of preprocessed images kept when no size is configured
const DefaultCacheSize = 1000

// CacheManager is an LRU cache of preprocessed images keyed by path.
// It is safe for concurrent use and may be shared by several DataLoaders.
type CacheManager struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int

	hits   int64
	misses int64
}

type cacheEntry struct {
	key  string
	data []float32
}

// NewCacheManager creates a cache holding at most maxSize images
func NewCacheManager(maxSize int) *CacheManager {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &CacheManager{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get returns the cached image data for key and marks it most recently used
func (cm *CacheManager) Get(key string) ([]float32, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	elem, ok := cm.entries[key]
	if !ok {
		cm.misses++
		return nil, false
	}
	cm.lru.MoveToFront(elem)
	cm.hits++
	return elem.Value.(*cacheEntry).data, true
}

// Contains reports whether key is cached without touching the statistics or recency
func (cm *CacheManager) Contains(key string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	_, ok := cm.entries[key]
	return ok
}

// Put stores data under key, evicting the least recently used entries beyond capacity.
// Existing entries are refreshed, not replaced.
func (cm *CacheManager) Put(key string, data []float32) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if elem, ok := cm.entries[key]; ok {
		cm.lru.MoveToFront(elem)
		return
	}

	cm.entries[key] = cm.lru.PushFront(&cacheEntry{key: key, data: data})
	for cm.lru.Len() > cm.maxSize {
		oldest := cm.lru.Back()
		cm.lru.Remove(oldest)
		delete(cm.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached images
func (cm *CacheManager) Len() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.lru.Len()
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	stats := CacheStats{
		Size:    cm.lru.Len(),
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
	}
	if total := cm.hits + cm.misses; total > 0 {
		stats.HitRate = float64(cm.hits) / float64(total) * 100
	}
	return stats
}

// Clear drops every cached image. Statistics are cumulative and survive a Clear.
func (cm *CacheManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.entries = make(map[string]*list.Element)
	cm.lru.Init()
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
