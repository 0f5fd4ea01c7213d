package vfs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ============================================================================
// Cache Interface
// ============================================================================

// Cache is a keyed cache with per-entry TTL. Implementations must be safe
// for concurrent use.
type Cache interface {
	// Get retrieves a value. Returns the value and true if found.
	Get(key string) (any, bool)

	// Set stores a value. A TTL of 0 means no expiration.
	Set(key string, value any, ttl time.Duration)

	// Delete removes a value.
	Delete(key string)

	// Clear removes all values.
	Clear()
}

// CacheStatistics contains cache performance counters
type CacheStatistics struct {
	Hits    int64
	Misses  int64
	Size    int64
	HitRate float64
}

func newStatistics(hits, misses, size int64) CacheStatistics {
	s := CacheStatistics{Hits: hits, Misses: misses, Size: size}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// ============================================================================
// MemoryCache
// ============================================================================

type cacheEntry struct {
	value      any
	expiration time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// MemoryCache is an in-memory Cache with TTL-based expiration
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*cacheEntry)}
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if entry.expired(time.Now()) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.value, true
}

// Set stores a value in the cache.
func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	entry := &cacheEntry{value: value}
	if ttl > 0 {
		entry.expiration = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Delete removes a value from the cache.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes all values from the cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() CacheStatistics {
	c.mu.RLock()
	size := int64(len(c.entries))
	c.mu.RUnlock()
	return newStatistics(c.hits.Load(), c.misses.Load(), size)
}

var _ Cache = (*MemoryCache)(nil)

// ============================================================================
// ExpiringCache
// ============================================================================

// ExpiringCache holds a single lazily built value that is dropped after
// an idle window. Every access pushes the expiry back; Invalidate drops the
// value at once. Concurrent misses share one populate call.
type ExpiringCache[T any] struct {
	idle time.Duration

	mu    sync.Mutex
	value T
	valid bool
	gen   uint64
	timer *time.Timer

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewExpiringCache creates a cache whose value expires idle after its last
// access. idle <= 0 disables expiry.
func NewExpiringCache[T any](idle time.Duration) *ExpiringCache[T] {
	return &ExpiringCache[T]{idle: idle}
}

// Get returns the cached value if present
func (c *ExpiringCache[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		var zero T
		return zero, false
	}
	c.scheduleExpiryLocked()
	return c.value, true
}

// GetOrPopulate returns the cached value, building it with populate on a
// miss. A value built while an Invalidate happened is returned to the
// caller but not stored. The shared populate is not cancelled by any one
// caller; each caller stops waiting when its own ctx is done.
func (c *ExpiringCache[T]) GetOrPopulate(ctx context.Context, populate func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.Get(); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan("populate", func() (any, error) {
		v, err := populate(shared)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.value = v
			c.valid = true
			c.scheduleExpiryLocked()
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Set replaces the cached value
func (c *ExpiringCache[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.valid = true
	c.scheduleExpiryLocked()
}

// Invalidate drops the cached value
func (c *ExpiringCache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *ExpiringCache[T]) invalidateLocked() {
	var zero T
	c.value = zero
	c.valid = false
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// scheduleExpiryLocked (re)arms the idle timer. Caller holds c.mu.
func (c *ExpiringCache[T]) scheduleExpiryLocked() {
	if c.idle <= 0 {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	gen := c.gen
	c.timer = time.AfterFunc(c.idle, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen == gen {
			c.invalidateLocked()
		}
	})
}

// Close stops the expiry timer and drops the value
func (c *ExpiringCache[T]) Close() {
	c.Invalidate()
}

// Stats returns hit and miss counters
func (c *ExpiringCache[T]) Stats() CacheStatistics {
	c.mu.Lock()
	var size int64
	if c.valid {
		size = 1
	}
	c.mu.Unlock()
	return newStatistics(c.hits.Load(), c.misses.Load(), size)
}

// ============================================================================
// CachingTransport Decorator
// ============================================================================

// CachingTransport caches metadata calls (Scandir, Exists, FileInfo) of a
// slow transport. Any mutation through it clears the cache; content is
// never cached.
type CachingTransport struct {
	Transport
	cache Cache
	ttl   time.Duration
}

// NewCachingTransport wraps t. A nil cache gets a fresh MemoryCache.
func NewCachingTransport(t Transport, cache Cache, ttl time.Duration) *CachingTransport {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &CachingTransport{Transport: t, cache: cache, ttl: ttl}
}

// Unwrap returns the wrapped transport
func (c *CachingTransport) Unwrap() Transport {
	return c.Transport
}

// Cache returns the underlying cache
func (c *CachingTransport) Cache() Cache {
	return c.cache
}

func (c *CachingTransport) Scandir(ctx context.Context, dir File) ([]File, error) {
	key := "scandir:" + dir.Path
	if v, ok := c.cache.Get(key); ok {
		cached := v.([]File)
		out := make([]File, len(cached))
		copy(out, cached)
		return out, nil
	}
	list, err := c.Transport.Scandir(ctx, dir)
	if err != nil {
		return nil, err
	}
	stored := make([]File, len(list))
	copy(stored, list)
	c.cache.Set(key, stored, c.ttl)
	return list, nil
}

func (c *CachingTransport) Exists(ctx context.Context, file File) (bool, error) {
	key := "exists:" + file.Path
	if v, ok := c.cache.Get(key); ok {
		return v.(bool), nil
	}
	exists, err := c.Transport.Exists(ctx, file)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, exists, c.ttl)
	return exists, nil
}

func (c *CachingTransport) FileInfo(ctx context.Context, file File) (File, error) {
	key := "fileinfo:" + file.Path
	if v, ok := c.cache.Get(key); ok {
		return v.(File), nil
	}
	info, err := c.Transport.FileInfo(ctx, file)
	if err != nil {
		return File{}, err
	}
	c.cache.Set(key, info, c.ttl)
	return info, nil
}

func (c *CachingTransport) Write(ctx context.Context, file File, data []byte) error {
	defer c.cache.Clear()
	return c.Transport.Write(ctx, file, data)
}

func (c *CachingTransport) Copy(ctx context.Context, src, dest File) error {
	defer c.cache.Clear()
	return c.Transport.Copy(ctx, src, dest)
}

func (c *CachingTransport) Move(ctx context.Context, src, dest File) error {
	defer c.cache.Clear()
	return c.Transport.Move(ctx, src, dest)
}

func (c *CachingTransport) Unlink(ctx context.Context, file File) error {
	defer c.cache.Clear()
	return c.Transport.Unlink(ctx, file)
}

func (c *CachingTransport) Mkdir(ctx context.Context, dir File) error {
	defer c.cache.Clear()
	return c.Transport.Mkdir(ctx, dir)
}

func (c *CachingTransport) Upload(ctx context.Context, dest File, upload UploadFile) error {
	defer c.cache.Clear()
	return c.Transport.Upload(ctx, dest, upload)
}

func (c *CachingTransport) Trash(ctx context.Context, file File) error {
	defer c.cache.Clear()
	return c.Transport.Trash(ctx, file)
}

func (c *CachingTransport) Untrash(ctx context.Context, file File) error {
	defer c.cache.Clear()
	return c.Transport.Untrash(ctx, file)
}

func (c *CachingTransport) EmptyTrash(ctx context.Context) error {
	defer c.cache.Clear()
	return c.Transport.EmptyTrash(ctx)
}

var _ Transport = (*CachingTransport)(nil)
