// Package metastore persists the gateway's control-plane state: API keys,
// storage configurations, mounts, shared-file records, settings, and the
// parent-modified table that backs directory modification times.
//
// Implementations must be safe for concurrent use. The badger subpackage
// is the persistent implementation; the memory subpackage backs tests.
package metastore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("metastore: not found")

// Store is the metadata persistence interface.
type Store interface {
	// API keys. Keys are addressed by the key string itself.
	PutAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKey(ctx context.Context, key string) (*APIKey, error)
	DeleteAPIKey(ctx context.Context, key string) error
	TouchAPIKey(ctx context.Context, key string, at time.Time) error

	// Storage configurations.
	PutStorageConfig(ctx context.Context, cfg *StorageConfig) error
	GetStorageConfig(ctx context.Context, id string) (*StorageConfig, error)
	ListStorageConfigs(ctx context.Context) ([]*StorageConfig, error)
	DeleteStorageConfig(ctx context.Context, id string) error

	// Mounts.
	PutMount(ctx context.Context, m *Mount) error
	GetMount(ctx context.Context, id string) (*Mount, error)
	ListMounts(ctx context.Context) ([]*Mount, error)
	DeleteMount(ctx context.Context, id string) error
	TouchMount(ctx context.Context, id string, at time.Time) error

	// Shared files.
	PutSharedFile(ctx context.Context, f *SharedFile) error
	GetSharedFile(ctx context.Context, id string) (*SharedFile, error)
	GetSharedFileBySlug(ctx context.Context, slug string) (*SharedFile, error)
	DeleteSharedFile(ctx context.Context, id string) error

	// Settings.
	GetSetting(ctx context.Context, name string) (string, error)
	SetSetting(ctx context.Context, name, value string) error

	// Parent-modified table. Directory modification times are not native
	// to S3, so mutations record them here per (mountID, directory).
	SetDirModified(ctx context.Context, mountID, dir string, at time.Time) error
	GetDirModified(ctx context.Context, mountID, dir string) (time.Time, bool, error)
	ClearDirModified(ctx context.Context, mountID string) error

	Close() error
}
