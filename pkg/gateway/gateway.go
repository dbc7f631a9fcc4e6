// Package gateway implements the storage-gateway engine: the mount
// resolver, directory cache, filesystem façade, and the multipart upload
// pipeline. Every HTTP and WebDAV entry point calls into this package.
package gateway

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/quarryfs/quarry/internal/logger"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/metrics"
	"github.com/quarryfs/quarry/pkg/s3driver"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// Config tunes the gateway's upload pipeline and URL generation.
type Config struct {
	// PartSize is the multipart part size for streaming uploads.
	// Clamped to the S3 minimum of 5 MiB.
	PartSize int64

	// QueueDepth bounds streaming upload memory at QueueDepth × PartSize.
	QueueDepth int

	// DirectThreshold is the body size up to which uploads with a known
	// Content-Length buffer in memory and use a single PutObject when the
	// upload mode setting is "direct".
	DirectThreshold int64

	// BaseURL is the externally visible URL of this server, used to build
	// proxy-mode preview and download links.
	BaseURL string

	// SearchWalkLimit bounds the ListObjectsV2 walk behind each search;
	// search does not consult the directory cache.
	SearchWalkLimit int
}

func (c *Config) applyDefaults() {
	if c.PartSize < s3driver.MinPartSize {
		c.PartSize = s3driver.MinPartSize
	}
	if c.QueueDepth < 1 {
		c.QueueDepth = 2
	}
	if c.QueueDepth > 3 {
		c.QueueDepth = 3
	}
	if c.DirectThreshold <= 0 {
		c.DirectThreshold = 5 * 1024 * 1024
	}
	if c.SearchWalkLimit <= 0 {
		c.SearchWalkLimit = 10000
	}
}

// Gateway is the operation-level filesystem façade.
type Gateway struct {
	store   metastore.Store
	drivers DriverSource
	cache   *DirectoryCache
	cfg     Config
	metrics metrics.GatewayMetrics
	log     logger.Logger

	// aborts tracks in-flight multipart aborts so shutdown can wait for
	// them to settle.
	aborts sync.WaitGroup
}

// New creates a Gateway over the given metadata store and driver source.
func New(store metastore.Store, drivers DriverSource, cache *DirectoryCache, cfg Config, m metrics.GatewayMetrics) *Gateway {
	cfg.applyDefaults()
	if m == nil {
		m = metrics.NewGatewayMetrics()
	}
	if cache == nil {
		cache = NewDirectoryCache(0, m)
	}
	return &Gateway{
		store:   store,
		drivers: drivers,
		cache:   cache,
		cfg:     cfg,
		metrics: m,
		log:     logger.WithComponent("gateway"),
	}
}

// Cache exposes the directory cache for surfaces that invalidate on
// control-plane changes (mount removal).
func (g *Gateway) Cache() *DirectoryCache { return g.cache }

// Close drops every cached directory listing, then waits for in-flight
// multipart aborts to settle, bounded by the grace period.
func (g *Gateway) Close(grace time.Duration) {
	g.cache.Invalidate(func(CacheKey) bool { return true })
	done := make(chan struct{})
	go func() {
		g.aborts.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		g.log.Warn("shutdown grace period elapsed with multipart aborts still in flight")
	}
}

// observe records one operation's outcome.
func (g *Gateway) observe(op string, start time.Time, err error) {
	g.metrics.ObserveOperation(op, time.Since(start), err)
}

// commitMutation performs the ordered post-mutation sequence for path:
// the S3 mutation has already committed, so (1) every ancestor directory
// gets a fresh modification time in the parent-modified table, then
// (2) cache entries covering the path are dropped. Readers that observe a
// new entry therefore also observe the updated parent modification time.
func (g *Gateway) commitMutation(ctx context.Context, res *Resolution) {
	now := time.Now()

	for _, dir := range vpath.Ancestors(res.Path) {
		// Ancestors above the mount point live in the mount-root row.
		sub := ""
		if vpath.HasPrefix(dir, res.Mount.MountPath) {
			sub = vpath.StripPrefix(dir, res.Mount.MountPath)
		}
		if err := g.store.SetDirModified(ctx, res.Mount.ID, "/"+sub, now); err != nil {
			g.log.Err(err, "failed to update modification time for %s", dir)
		}
	}

	g.cache.InvalidatePath(res.Mount.ID, res.SubPath)
}

// dirModified looks up the recorded modification time of a directory.
func (g *Gateway) dirModified(ctx context.Context, mountID, subPath string) (time.Time, bool) {
	at, ok, err := g.store.GetDirModified(ctx, mountID, "/"+subPath)
	if err != nil {
		return time.Time{}, false
	}
	return at, ok
}

// ForgetMount drops every cached listing for a removed mount and its
// dir-modified rows. The admin surface calls this after deleting the
// mount record.
func (g *Gateway) ForgetMount(ctx context.Context, mountID string) {
	g.cache.InvalidateMount(mountID)
	if err := g.store.ClearDirModified(ctx, mountID); err != nil {
		g.log.Err(err, "failed to clear modification times for mount %s", mountID)
	}
}

// InvalidateStorageConfig drops cached listings for every mount backed
// by the given storage config. Called after a config change, alongside
// invalidating the driver cache so the next use rebuilds the client.
func (g *Gateway) InvalidateStorageConfig(ctx context.Context, configID string) error {
	mounts, err := g.store.ListMounts(ctx)
	if err != nil {
		return err
	}
	for _, m := range mounts {
		if m.StorageConfigID == configID {
			g.cache.InvalidateMount(m.ID)
		}
	}
	return nil
}

// UploadTuning returns the server-wide upload mode ("direct" or
// "multipart") and the direct-upload threshold, both read from settings.
func (g *Gateway) UploadTuning(ctx context.Context) (string, int64) {
	return g.uploadMode(ctx), g.directThreshold(ctx)
}

// uploadMode reads the server-wide upload mode setting, defaulting to
// multipart streaming.
func (g *Gateway) uploadMode(ctx context.Context) string {
	v, err := g.store.GetSetting(ctx, metastore.SettingWebdavUploadMode)
	if err != nil || (v != "direct" && v != "multipart") {
		return "multipart"
	}
	return v
}

// directThreshold reads the configured direct-upload cutoff, falling back
// to the static configuration.
func (g *Gateway) directThreshold(ctx context.Context) int64 {
	v, err := g.store.GetSetting(ctx, metastore.SettingDirectThreshold)
	if err != nil {
		return g.cfg.DirectThreshold
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return g.cfg.DirectThreshold
	}
	return n
}
