package metastore

import "time"

// Permission is a capability flag carried by a principal.
type Permission string

const (
	PermText  Permission = "text"
	PermFile  Permission = "file"
	PermMount Permission = "mount"
	PermAdmin Permission = "admin"
)

// ProviderType identifies the S3-compatible service behind a StorageConfig.
// Provider-specific client tuning (checksums, timeouts, retries) keys off
// this value.
type ProviderType string

const (
	ProviderAWS     ProviderType = "aws"
	ProviderR2      ProviderType = "r2"
	ProviderB2      ProviderType = "b2"
	ProviderGeneric ProviderType = "generic"
)

// APIKey is a bounded principal. The key string itself is the identifier;
// BasicPath is the virtual path prefix the key may operate under.
type APIKey struct {
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	BasicPath   string       `json:"basicPath"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
	LastUsedAt  time.Time    `json:"lastUsedAt"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Has reports whether the key carries the given capability flag.
func (k *APIKey) Has(p Permission) bool {
	for _, q := range k.Permissions {
		if q == p {
			return true
		}
	}
	return false
}

// StorageConfig describes one S3-compatible bucket. Credentials are sealed
// with internal/secretbox before they reach the store and are decrypted
// once per process when the S3 client for this config is first built.
type StorageConfig struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Endpoint string       `json:"endpoint"`
	Region   string       `json:"region"`
	Bucket   string       `json:"bucket"`
	Provider ProviderType `json:"provider"`

	// AccessKeyID and SecretAccessKey are secretbox-sealed strings.
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`

	// PathStyle forces path-style bucket addressing (MinIO, some B2 setups).
	PathStyle bool `json:"pathStyle"`

	// RootPrefix is transparently prepended to every object key.
	RootPrefix string `json:"rootPrefix"`

	// DefaultSignedTTL is the expiry applied to presigned URLs from this
	// storage when the request sets none; mounts carry no override.
	DefaultSignedTTL time.Duration `json:"defaultSignedTtl"`

	// TotalCapacityBytes caps bucket usage. Nil means unlimited.
	TotalCapacityBytes *int64 `json:"totalCapacityBytes,omitempty"`

	// CacheTTLSeconds is the default directory cache TTL for mounts of
	// this config.
	CacheTTLSeconds int `json:"cacheTtlSeconds"`

	CreatedAt time.Time `json:"createdAt"`
}

// Mount binds a StorageConfig to a virtual path prefix.
type Mount struct {
	ID              string    `json:"id"`
	MountPath       string    `json:"mountPath"`
	StorageConfigID string    `json:"storageConfigId"`
	WebProxy        bool      `json:"webProxy"`
	CacheTTLSeconds int       `json:"cacheTtlSeconds"`
	LastUsedAt      time.Time `json:"lastUsedAt"`
	CreatedAt       time.Time `json:"createdAt"`
}

// SharedFile records a client-direct upload committed through
// presign-commit, and backs the short-link proxy download path. The core
// reads and writes only the fields below; the share feature owns the rest
// of its lifecycle.
type SharedFile struct {
	ID              string    `json:"id"`
	Slug            string    `json:"slug"`
	ObjectKey       string    `json:"objectKey"`
	StorageConfigID string    `json:"storageConfigId"`
	MountID         string    `json:"mountId"`
	FileName        string    `json:"fileName"`
	Size            int64     `json:"size"`
	ETag            string    `json:"etag"`
	MimeType        string    `json:"mimeType"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Setting names the core reads.
const (
	SettingWebdavUploadMode = "webdav_upload_mode" // "direct" or "multipart"
	SettingDirectThreshold  = "direct_threshold_bytes"
)
