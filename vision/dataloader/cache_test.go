package dataloader

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

// TestNewCacheManager tests cache manager creation
func TestNewCacheManager(t *testing.T) {
	cm := NewCacheManager(100)
	if cm.maxSize != 100 {
		t.Errorf("Expected max size 100, got %d", cm.maxSize)
	}
	if cm.Len() != 0 {
		t.Errorf("Expected empty cache, got %d items", cm.Len())
	}

	if def := NewCacheManager(0); def.maxSize != DefaultCacheSize {
		t.Errorf("Expected default max size %d, got %d", DefaultCacheSize, def.maxSize)
	}
}

// TestCacheManagerBasicOperations tests basic get/put operations
func TestCacheManagerBasicOperations(t *testing.T) {
	cm := NewCacheManager(5)

	if data, ok := cm.Get("nonexistent"); ok || data != nil {
		t.Error("Get should return false and nil for nonexistent key")
	}

	testData := []float32{1, 2, 3, 4, 5}
	cm.Put("test_key", testData)
	if !cm.Contains("test_key") || cm.Contains("nonexistent") {
		t.Error("Contains should report only cached keys")
	}

	got, ok := cm.Get("test_key")
	if !ok {
		t.Fatal("Get should return true for existing key")
	}
	for i, v := range got {
		if v != testData[i] {
			t.Errorf("Data mismatch at index %d: expected %f, got %f", i, testData[i], v)
		}
	}

	stats := cm.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.HitRate != 50 {
		t.Errorf("Expected hit rate 50, got %f", stats.HitRate)
	}
}

// TestCacheManagerLRUEviction tests LRU eviction policy
func TestCacheManagerLRUEviction(t *testing.T) {
	cm := NewCacheManager(3)

	cm.Put("key1", []float32{1})
	cm.Put("key2", []float32{2})
	cm.Put("key3", []float32{3})

	// Touch key1 so key2 becomes least recently used
	cm.Get("key1")
	cm.Put("key4", []float32{4})

	if cm.Len() != 3 {
		t.Errorf("Expected cache size 3 after eviction, got %d", cm.Len())
	}
	if _, ok := cm.Get("key2"); ok {
		t.Error("key2 should have been evicted")
	}
	for _, key := range []string{"key1", "key3", "key4"} {
		if _, ok := cm.Get(key); !ok {
			t.Errorf("%s should still exist", key)
		}
	}
}

// TestCacheManagerPutExisting checks a second Put does not replace the entry
func TestCacheManagerPutExisting(t *testing.T) {
	cm := NewCacheManager(2)
	cm.Put("a", []float32{1})
	cm.Put("a", []float32{9})

	got, _ := cm.Get("a")
	if got[0] != 1 {
		t.Errorf("Expected original data to be kept, got %f", got[0])
	}
	if cm.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", cm.Len())
	}
}

// TestCacheManagerClear tests that Clear empties the cache
func TestCacheManagerClear(t *testing.T) {
	cm := NewCacheManager(10)
	cm.Put("a", []float32{1})
	cm.Get("a")
	cm.Clear()

	if cm.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d", cm.Len())
	}
	if cm.Stats().Hits != 1 {
		t.Error("Clear should keep statistics")
	}
}

// TestCacheManagerConcurrency tests concurrent access
func TestCacheManagerConcurrency(t *testing.T) {
	cm := NewCacheManager(50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("key_%d", (g*100+i)%80)
				cm.Put(key, []float32{float32(i)})
				cm.Get(key)
			}
		}(g)
	}
	wg.Wait()

	if cm.Len() > 50 {
		t.Errorf("Cache exceeded capacity: %d", cm.Len())
	}
}

// TestCacheStatsString tests the stats summary
func TestCacheStatsString(t *testing.T) {
	s := CacheStats{Size: 2, MaxSize: 10, Hits: 3, Misses: 1, HitRate: 75}.String()
	for _, substr := range []string{"2/10", "Hits: 3", "Misses: 1", "75.0%"} {
		if !strings.Contains(s, substr) {
			t.Errorf("Expected %q in %q", substr, s)
		}
	}
}
