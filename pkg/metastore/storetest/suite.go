// Package storetest provides a conformance suite run against every
// metastore.Store implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryfs/quarry/pkg/metastore"
)

// Run exercises the full Store contract against the given implementation.
func Run(t *testing.T, newStore func(t *testing.T) metastore.Store) {
	t.Run("APIKeys", func(t *testing.T) { testAPIKeys(t, newStore(t)) })
	t.Run("StorageConfigs", func(t *testing.T) { testStorageConfigs(t, newStore(t)) })
	t.Run("Mounts", func(t *testing.T) { testMounts(t, newStore(t)) })
	t.Run("SharedFiles", func(t *testing.T) { testSharedFiles(t, newStore(t)) })
	t.Run("Settings", func(t *testing.T) { testSettings(t, newStore(t)) })
	t.Run("DirModified", func(t *testing.T) { testDirModified(t, newStore(t)) })
}

func testAPIKeys(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	key := &metastore.APIKey{
		Key:         "qk_test123",
		Name:        "ci",
		Permissions: []metastore.Permission{metastore.PermFile},
		BasicPath:   "/team-a",
		ExpiresAt:   &expiry,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.PutAPIKey(ctx, key))

	got, err := s.GetAPIKey(ctx, "qk_test123")
	require.NoError(t, err)
	assert.Equal(t, "/team-a", got.BasicPath)
	assert.True(t, got.Has(metastore.PermFile))
	assert.False(t, got.Has(metastore.PermMount))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expiry))

	touch := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.TouchAPIKey(ctx, "qk_test123", touch))
	got, err = s.GetAPIKey(ctx, "qk_test123")
	require.NoError(t, err)
	assert.True(t, got.LastUsedAt.Equal(touch))

	require.NoError(t, s.DeleteAPIKey(ctx, "qk_test123"))
	_, err = s.GetAPIKey(ctx, "qk_test123")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func testStorageConfigs(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	capBytes := int64(1 << 30)

	cfg := &metastore.StorageConfig{
		ID:                 "sc-1",
		Name:               "primary",
		Endpoint:           "https://s3.example.com",
		Region:             "us-east-1",
		Bucket:             "data",
		Provider:           metastore.ProviderGeneric,
		PathStyle:          true,
		RootPrefix:         "tenants/acme/",
		DefaultSignedTTL:   15 * time.Minute,
		TotalCapacityBytes: &capBytes,
		CacheTTLSeconds:    60,
	}
	require.NoError(t, s.PutStorageConfig(ctx, cfg))

	got, err := s.GetStorageConfig(ctx, "sc-1")
	require.NoError(t, err)
	assert.Equal(t, "data", got.Bucket)
	require.NotNil(t, got.TotalCapacityBytes)
	assert.Equal(t, capBytes, *got.TotalCapacityBytes)

	all, err := s.ListStorageConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteStorageConfig(ctx, "sc-1"))
	_, err = s.GetStorageConfig(ctx, "sc-1")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func testMounts(t *testing.T, s metastore.Store) {
	ctx := context.Background()

	m := &metastore.Mount{
		ID:              "mt-1",
		MountPath:       "/docs",
		StorageConfigID: "sc-1",
		WebProxy:        true,
		CacheTTLSeconds: 30,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, s.PutMount(ctx, m))

	got, err := s.GetMount(ctx, "mt-1")
	require.NoError(t, err)
	assert.Equal(t, "/docs", got.MountPath)
	assert.True(t, got.WebProxy)

	all, err := s.ListMounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Deleting a mount drops its dir-modified namespace.
	require.NoError(t, s.SetDirModified(ctx, "mt-1", "/docs", time.Now()))
	require.NoError(t, s.DeleteMount(ctx, "mt-1"))
	_, ok, err := s.GetDirModified(ctx, "mt-1", "/docs")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testSharedFiles(t *testing.T, s metastore.Store) {
	ctx := context.Background()

	f := &metastore.SharedFile{
		ID:              "sf-1",
		Slug:            "a1b2c3",
		ObjectKey:       "tenants/acme/docs/report.pdf",
		StorageConfigID: "sc-1",
		MountID:         "mt-1",
		FileName:        "report.pdf",
		Size:            1234,
		ETag:            `"abc"`,
		MimeType:        "application/pdf",
	}
	require.NoError(t, s.PutSharedFile(ctx, f))

	bySlug, err := s.GetSharedFileBySlug(ctx, "a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, "sf-1", bySlug.ID)
	assert.Equal(t, int64(1234), bySlug.Size)

	require.NoError(t, s.DeleteSharedFile(ctx, "sf-1"))
	_, err = s.GetSharedFileBySlug(ctx, "a1b2c3")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func testSettings(t *testing.T, s metastore.Store) {
	ctx := context.Background()

	_, err := s.GetSetting(ctx, metastore.SettingWebdavUploadMode)
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	require.NoError(t, s.SetSetting(ctx, metastore.SettingWebdavUploadMode, "multipart"))
	v, err := s.GetSetting(ctx, metastore.SettingWebdavUploadMode)
	require.NoError(t, err)
	assert.Equal(t, "multipart", v)
}

func testDirModified(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	_, ok, err := s.GetDirModified(ctx, "mt-1", "/")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetDirModified(ctx, "mt-1", "/", at))
	require.NoError(t, s.SetDirModified(ctx, "mt-1", "/docs", at))
	require.NoError(t, s.SetDirModified(ctx, "mt-2", "/docs", at))

	got, ok, err := s.GetDirModified(ctx, "mt-1", "/docs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(at))

	require.NoError(t, s.ClearDirModified(ctx, "mt-1"))
	_, ok, err = s.GetDirModified(ctx, "mt-1", "/docs")
	require.NoError(t, err)
	assert.False(t, ok)

	// Other mounts are untouched.
	_, ok, err = s.GetDirModified(ctx, "mt-2", "/docs")
	require.NoError(t, err)
	assert.True(t, ok)
}
