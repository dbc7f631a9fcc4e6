package gateway_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quarryfs/quarry/pkg/gateway"
)

func listingFor(path string) *gateway.DirectoryListing {
	return &gateway.DirectoryListing{Path: path, RefreshedAt: time.Now()}
}

func TestCacheGetPut(t *testing.T) {
	c := gateway.NewDirectoryCache(16, nil)
	key := gateway.CacheKey{MountID: "m1", SubPath: "docs", Class: "admin"}

	assert.Nil(t, c.Get(key))

	c.Put(key, listingFor("/docs"), time.Minute)
	got := c.Get(key)
	assert.NotNil(t, got)
	assert.Equal(t, "/docs", got.Path)
}

func TestCacheZeroTTLDisables(t *testing.T) {
	c := gateway.NewDirectoryCache(16, nil)
	key := gateway.CacheKey{MountID: "m1", SubPath: "docs", Class: "admin"}

	c.Put(key, listingFor("/docs"), 0)
	assert.Nil(t, c.Get(key))
	assert.Equal(t, 0, c.Len())
}

func TestCacheExpiry(t *testing.T) {
	c := gateway.NewDirectoryCache(16, nil)
	key := gateway.CacheKey{MountID: "m1", SubPath: "docs", Class: "admin"}

	c.Put(key, listingFor("/docs"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, c.Get(key))
}

func TestCachePrincipalClassIsolation(t *testing.T) {
	c := gateway.NewDirectoryCache(16, nil)
	adminKey := gateway.CacheKey{MountID: "m1", SubPath: "docs", Class: "admin"}
	keyKey := gateway.CacheKey{MountID: "m1", SubPath: "docs", Class: "apikey:/team-a"}

	c.Put(adminKey, listingFor("/docs"), time.Minute)
	assert.NotNil(t, c.Get(adminKey))
	assert.Nil(t, c.Get(keyKey))
}

func TestCacheLRUEviction(t *testing.T) {
	c := gateway.NewDirectoryCache(2, nil)

	k1 := gateway.CacheKey{MountID: "m1", SubPath: "a", Class: "admin"}
	k2 := gateway.CacheKey{MountID: "m1", SubPath: "b", Class: "admin"}
	k3 := gateway.CacheKey{MountID: "m1", SubPath: "c", Class: "admin"}

	c.Put(k1, listingFor("/a"), time.Minute)
	c.Put(k2, listingFor("/b"), time.Minute)

	// Touch k1 so k2 is the eviction candidate.
	c.Get(k1)
	c.Put(k3, listingFor("/c"), time.Minute)

	assert.Equal(t, 2, c.Len())
	assert.NotNil(t, c.Get(k1))
	assert.Nil(t, c.Get(k2))
	assert.NotNil(t, c.Get(k3))
}

func TestCacheInvalidateMount(t *testing.T) {
	c := gateway.NewDirectoryCache(16, nil)
	c.Put(gateway.CacheKey{MountID: "m1", SubPath: "a", Class: "admin"}, listingFor("/a"), time.Minute)
	c.Put(gateway.CacheKey{MountID: "m2", SubPath: "a", Class: "admin"}, listingFor("/a"), time.Minute)

	c.InvalidateMount("m1")

	assert.Nil(t, c.Get(gateway.CacheKey{MountID: "m1", SubPath: "a", Class: "admin"}))
	assert.NotNil(t, c.Get(gateway.CacheKey{MountID: "m2", SubPath: "a", Class: "admin"}))
}

func TestCacheInvalidatePathCoversAncestorsAndDescendants(t *testing.T) {
	c := gateway.NewDirectoryCache(16, nil)
	root := gateway.CacheKey{MountID: "m1", SubPath: "", Class: "admin"}
	docs := gateway.CacheKey{MountID: "m1", SubPath: "docs", Class: "admin"}
	deep := gateway.CacheKey{MountID: "m1", SubPath: "docs/sub", Class: "admin"}
	other := gateway.CacheKey{MountID: "m1", SubPath: "media", Class: "admin"}

	for _, k := range []gateway.CacheKey{root, docs, deep, other} {
		c.Put(k, listingFor("/"+k.SubPath), time.Minute)
	}

	c.InvalidatePath("m1", "docs")

	assert.Nil(t, c.Get(root), "ancestor should be invalidated")
	assert.Nil(t, c.Get(docs))
	assert.Nil(t, c.Get(deep), "descendant should be invalidated")
	assert.NotNil(t, c.Get(other), "sibling should survive")
}
