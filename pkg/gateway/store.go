package gateway

import (
	"context"
	"io"
	"time"

	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/s3driver"
)

// ObjectStore is the object-plane surface the gateway consumes.
// *s3driver.Driver is the production implementation; tests substitute an
// in-memory fake.
type ObjectStore interface {
	Has(c s3driver.Capability) bool
	Key(rel string) string
	StripRootPrefix(key string) string

	Get(ctx context.Context, key, rangeHeader string) (*s3driver.Object, error)
	Head(ctx context.Context, key string) (*s3driver.ObjectInfo, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*s3driver.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	DeleteBatch(ctx context.Context, keys []string) (map[string]error, error)
	Copy(ctx context.Context, srcKey, dstKey string) (*s3driver.ObjectInfo, error)

	ListDir(ctx context.Context, prefix string) (*s3driver.DirListing, error)
	Walk(ctx context.Context, prefix string, maxKeys int, fn func(s3driver.ObjectInfo) error) error
	Usage(ctx context.Context) (int64, error)

	CreateMultipart(ctx context.Context, key, contentType string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, data []byte) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []s3driver.CompletedPart) (string, error)
	AbortMultipart(ctx context.Context, key, uploadID string) error

	PresignGet(ctx context.Context, key string, opts s3driver.PresignGetOptions) (string, error)
	PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
	SignedTTL() time.Duration
}

// DriverSource yields the ObjectStore for a storage configuration.
type DriverSource interface {
	DriverFor(ctx context.Context, cfg *metastore.StorageConfig) (ObjectStore, error)
}

// CacheSource adapts the s3driver client cache to DriverSource.
func CacheSource(c *s3driver.Cache) DriverSource {
	return driverSourceFunc(func(ctx context.Context, cfg *metastore.StorageConfig) (ObjectStore, error) {
		return c.DriverFor(ctx, cfg)
	})
}

type driverSourceFunc func(context.Context, *metastore.StorageConfig) (ObjectStore, error)

func (f driverSourceFunc) DriverFor(ctx context.Context, cfg *metastore.StorageConfig) (ObjectStore, error) {
	return f(ctx, cfg)
}
