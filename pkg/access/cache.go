package access

import (
	"sync"
	"time"
)

// Cache defines the interface for caching profiles to keep the admin
// check off the storage hot path.
type Cache interface {
	// GetProfile retrieves a cached profile
	// Returns the profile and true if found, nil and false otherwise
	GetProfile(userID string) (*Profile, bool)

	// SetProfile stores a profile in the cache with TTL
	SetProfile(userID string, profile *Profile, ttl time.Duration)

	// InvalidateProfile removes a profile from the cache
	InvalidateProfile(userID string)

	// Clear removes all entries from the cache
	Clear()

	// Stats returns cache statistics
	Stats() CacheStats
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type cacheEntry struct {
	profile    Profile
	expiration time.Time
	accessTime time.Time
	sequence   int64 // tiebreak when access times are equal
}

func (e *cacheEntry) isExpired(now time.Time) bool {
	return now.After(e.expiration)
}

// NoopCache is used when caching is disabled
type NoopCache struct{}

// NewNoopCache creates a new no-op cache
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) GetProfile(_ string) (*Profile, bool) {
	return nil, false
}

func (c *NoopCache) SetProfile(_ string, _ *Profile, _ time.Duration) {}

func (c *NoopCache) InvalidateProfile(_ string) {}

func (c *NoopCache) Clear() {}

func (c *NoopCache) Stats() CacheStats {
	return CacheStats{}
}

// LRUCache implements Cache using an in-memory LRU cache with TTL support
type LRUCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	hits       int64
	misses     int64
	evictions  int64
	sequence   int64
}

// NewLRUCache creates a new LRU cache holding at most maxProfiles entries
func NewLRUCache(maxProfiles int) *LRUCache {
	if maxProfiles <= 0 {
		maxProfiles = 1000
	}
	return &LRUCache{
		entries:    make(map[string]*cacheEntry, maxProfiles),
		maxEntries: maxProfiles,
	}
}

func (c *LRUCache) GetProfile(userID string) (*Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, exists := c.entries[userID]
	if !exists || entry.isExpired(now) {
		c.misses++
		return nil, false
	}

	entry.accessTime = now
	c.hits++

	// copy so callers cannot mutate the cached value
	p := entry.profile
	return &p, true
}

func (c *LRUCache) SetProfile(userID string, profile *Profile, ttl time.Duration) {
	if profile == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	seq := c.sequence
	c.sequence++
	c.entries[userID] = &cacheEntry{
		profile:    *profile,
		expiration: now.Add(ttl),
		accessTime: now,
		sequence:   seq,
	}
}

// evictOldest removes the least recently used entry. Caller holds c.mu.
func (c *LRUCache) evictOldest() {
	var oldestKey string
	var oldest *cacheEntry
	for key, entry := range c.entries {
		if oldest == nil || entry.accessTime.Before(oldest.accessTime) ||
			(entry.accessTime.Equal(oldest.accessTime) && entry.sequence < oldest.sequence) {
			oldestKey = key
			oldest = entry
		}
	}
	if oldest != nil {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *LRUCache) InvalidateProfile(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry, c.maxEntries)
}

func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}
