package gateway

import (
	"container/list"
	"sync"
	"time"

	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/metrics"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// CacheKey identifies one cached directory listing. The principal class
// is part of the key so a listing assembled under one allowed prefix is
// never served to a principal with a different view.
type CacheKey struct {
	MountID string
	SubPath string
	Class   string
}

// DirectoryCache is a bounded TTL + LRU cache of directory listings.
//
// Thread Safety: readers do not block readers; writers serialise with
// readers through the RWMutex.
type DirectoryCache struct {
	mu         sync.RWMutex
	entries    map[CacheKey]*cacheEntry
	lru        *list.List // front = most recently used
	maxEntries int
	metrics    metrics.GatewayMetrics
}

type cacheEntry struct {
	key     CacheKey
	listing *DirectoryListing
	expires time.Time
	elem    *list.Element
}

// NewDirectoryCache creates a cache holding at most maxEntries listings.
func NewDirectoryCache(maxEntries int, m metrics.GatewayMetrics) *DirectoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if m == nil {
		m = metrics.NewGatewayMetrics()
	}
	return &DirectoryCache{
		entries:    make(map[CacheKey]*cacheEntry),
		lru:        list.New(),
		maxEntries: maxEntries,
		metrics:    m,
	}
}

// Get returns a fresh cached listing, or nil on miss or expiry.
func (c *DirectoryCache) Get(key CacheKey) *DirectoryListing {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expires) {
		c.metrics.RecordCache("miss")
		return nil
	}

	c.mu.Lock()
	c.lru.MoveToFront(e.elem)
	c.mu.Unlock()

	c.metrics.RecordCache("hit")
	return e.listing
}

// Put stores a listing with the given TTL. Non-positive TTLs are ignored
// so mounts with caching disabled stay uncached.
func (c *DirectoryCache) Put(key CacheKey, listing *DirectoryListing, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.listing = listing
		e.expires = time.Now().Add(ttl)
		c.lru.MoveToFront(e.elem)
		return
	}

	e := &cacheEntry{key: key, listing: listing, expires: time.Now().Add(ttl)}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e

	for len(c.entries) > c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		old := oldest.Value.(*cacheEntry)
		c.lru.Remove(oldest)
		delete(c.entries, old.key)
	}
}

// Invalidate removes every entry matching the predicate.
func (c *DirectoryCache) Invalidate(pred func(CacheKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if pred(key) {
			c.lru.Remove(e.elem)
			delete(c.entries, key)
		}
	}
}

// InvalidateMount drops every listing cached for one mount.
func (c *DirectoryCache) InvalidateMount(mountID string) {
	c.Invalidate(func(k CacheKey) bool { return k.MountID == mountID })
}

// InvalidatePath drops the listing of subPath, its ancestors, and its
// descendants within one mount, for every principal class. Used after
// create, delete, and rename.
func (c *DirectoryCache) InvalidatePath(mountID, subPath string) {
	target := "/" + subPath
	c.Invalidate(func(k CacheKey) bool {
		if k.MountID != mountID {
			return false
		}
		cached := "/" + k.SubPath
		return vpath.HasPrefix(target, cached) || vpath.HasPrefix(cached, target)
	})
}

// Len returns the number of cached listings.
func (c *DirectoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// effectiveTTL computes the directory cache TTL for a mount: the larger
// of the mount override and the storage config default. Zero disables
// caching for the mount.
func effectiveTTL(m *metastore.Mount, cfg *metastore.StorageConfig) time.Duration {
	secs := max(m.CacheTTLSeconds, cfg.CacheTTLSeconds)
	return time.Duration(secs) * time.Second
}
