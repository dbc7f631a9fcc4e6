package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  admin_password: hunter2
  jwt_secret: jwtsecret
  encryption_secret: 0123456789abcdef0123
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "badger", cfg.Metadata.Type)
	assert.Equal(t, "admin", cfg.Auth.AdminUser)
	assert.Contains(t, cfg.HTTP.CORS.AllowedMethods, "PROPFIND")
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
http:
  port: 9000
metadata:
  type: memory
auth:
  admin_user: root
  admin_password: pw
  jwt_secret: sekret
  encryption_secret: 0123456789abcdef0123
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, "memory", cfg.Metadata.Type)
	assert.Equal(t, "root", cfg.Auth.AdminUser)
}

func TestLoadRejectsShortEncryptionSecret(t *testing.T) {
	path := writeConfig(t, `
auth:
  admin_password: pw
  jwt_secret: sekret
  encryption_secret: short
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryption_secret")
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	path := writeConfig(t, `
auth:
  encryption_secret: 0123456789abcdef0123
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestEncryptionSecretEnvOverride(t *testing.T) {
	t.Setenv("ENCRYPTION_SECRET", "env-secret-0123456789")

	path := writeConfig(t, `
auth:
  admin_password: pw
  jwt_secret: sekret
  encryption_secret: 0123456789abcdef0123
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret-0123456789", cfg.Auth.EncryptionSecret)
}

func TestLoadRoundTripsMarshalledFixture(t *testing.T) {
	// Build the fixture programmatically so field renames break the test
	// instead of silently passing on stale YAML.
	fixture := map[string]any{
		"logging": map[string]any{"level": "warn", "format": "json"},
		"http":    map[string]any{"port": 9443},
		"metadata": map[string]any{
			"type":   "badger",
			"badger": map[string]any{"path": "/data/meta", "sync_writes": true},
		},
		"auth": map[string]any{
			"admin_user":        "ops",
			"admin_password":    "pw",
			"jwt_secret":        "sekret",
			"encryption_secret": "0123456789abcdef0123",
		},
	}
	raw, err := yaml.Marshal(fixture)
	require.NoError(t, err)

	cfg, err := Load(writeConfig(t, string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 9443, cfg.HTTP.Port)
	assert.Equal(t, "/data/meta", cfg.Metadata.Badger["path"])
	assert.Equal(t, true, cfg.Metadata.Badger["sync_writes"])
}

func TestCreateMetadataStoreMemory(t *testing.T) {
	store, err := CreateMetadataStore(&MetadataConfig{Type: "memory"})
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, store.Close())
}

func TestCreateMetadataStoreBadger(t *testing.T) {
	store, err := CreateMetadataStore(&MetadataConfig{
		Type:   "badger",
		Badger: map[string]any{"path": t.TempDir()},
	})
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, store.Close())
}

func TestCreateMetadataStoreUnknownType(t *testing.T) {
	_, err := CreateMetadataStore(&MetadataConfig{Type: "postgres"})
	require.Error(t, err)
}
