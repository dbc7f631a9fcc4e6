package s3driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/quarryfs/quarry/internal/secretbox"
	"github.com/quarryfs/quarry/pkg/metastore"
)

// Cache builds and reuses one Driver per StorageConfig. Client creation
// is expensive (it decrypts the stored credentials), so drivers live for
// the process lifetime and credentials stay in process memory only.
//
// Thread Safety: safe for concurrent use.
type Cache struct {
	box *secretbox.Box

	mu      sync.RWMutex
	drivers map[string]*Driver
}

// NewCache creates a driver cache decrypting credentials with box.
func NewCache(box *secretbox.Box) *Cache {
	return &Cache{
		box:     box,
		drivers: make(map[string]*Driver),
	}
}

// DriverFor returns the cached driver for cfg, building it on first use.
func (c *Cache) DriverFor(ctx context.Context, cfg *metastore.StorageConfig) (*Driver, error) {
	c.mu.RLock()
	d, ok := c.drivers[cfg.ID]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.drivers[cfg.ID]; ok {
		return d, nil
	}

	accessKey, err := c.box.Open(cfg.AccessKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access key for storage config %s: %w", cfg.ID, err)
	}
	secretKey, err := c.box.Open(cfg.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret key for storage config %s: %w", cfg.ID, err)
	}

	d, err = New(ctx, cfg, accessKey, secretKey)
	if err != nil {
		return nil, err
	}
	c.drivers[cfg.ID] = d
	return d, nil
}

// Invalidate drops the cached driver for a storage config. Called when a
// config is updated or removed so the next use rebuilds the client.
func (c *Cache) Invalidate(configID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drivers, configID)
}
