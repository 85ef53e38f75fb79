package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"secureconnect-sync/pkg/logger"
)

// MemoryCache implements an in-memory cache with TTL support and a size cap
type MemoryCache[V any] struct {
	mu      sync.Mutex
	data    map[string]*cacheEntry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
}

// NewMemoryCache creates a new in-memory cache. maxSize <= 0 disables eviction.
func NewMemoryCache[V any](defaultTTL time.Duration, maxSize int) *MemoryCache[V] {
	return &MemoryCache[V]{
		data:    make(map[string]*cacheEntry[V]),
		ttl:     defaultTTL,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Set stores a value in the cache with TTL. ttl == 0 uses the default.
func (mc *MemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.setLocked(key, value, ttl)
}

func (mc *MemoryCache[V]) setLocked(key string, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = mc.ttl
	}

	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictOldest()
	}

	now := mc.now()
	created := now
	if old, ok := mc.data[key]; ok {
		created = old.createdAt
	}
	mc.data[key] = &cacheEntry[V]{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: created,
	}
}

// Get retrieves a live value from the cache
func (mc *MemoryCache[V]) Get(key string) (V, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.getLocked(key)
}

func (mc *MemoryCache[V]) getLocked(key string) (V, bool) {
	var zero V
	entry, exists := mc.data[key]
	if !exists {
		return zero, false
	}
	if mc.now().After(entry.expiresAt) {
		delete(mc.data, key)
		return zero, false
	}
	return entry.value, true
}

// Update atomically replaces the value under key with fn(current, found).
func (mc *MemoryCache[V]) Update(key string, ttl time.Duration, fn func(current V, found bool) V) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	current, found := mc.getLocked(key)
	mc.setLocked(key, fn(current, found), ttl)
}

// Take removes key and returns its value if it was still live
func (mc *MemoryCache[V]) Take(key string) (V, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	value, ok := mc.getLocked(key)
	delete(mc.data, key)
	return value, ok
}

// Delete removes a value from the cache
func (mc *MemoryCache[V]) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.data, key)
}

// Size returns the current number of entries, expired or not
func (mc *MemoryCache[V]) Size() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.data)
}

func (mc *MemoryCache[V]) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range mc.data {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		logger.Debug("Cache entry evicted",
			zap.String("key", oldestKey),
			zap.Time("created_at", oldestTime),
		)
	}
}

func (mc *MemoryCache[V]) cleanupExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	expired := 0
	for key, entry := range mc.data {
		if now.After(entry.expiresAt) {
			delete(mc.data, key)
			expired++
		}
	}

	if expired > 0 {
		logger.Debug("Expired cache entries cleaned up",
			zap.Int("count", expired),
			zap.Int("remaining", len(mc.data)),
		)
	}
}

// StartCleanup starts a goroutine to clean up expired entries.
// The returned function stops it.
func (mc *MemoryCache[V]) StartCleanup(interval time.Duration) func() {
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				mc.cleanupExpired()
			case <-stop:
				return
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}
