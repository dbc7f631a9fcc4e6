// Package config loads the quarry server configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (QUARRY_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// The metadata store section follows the store-configuration pattern:
// a Type selector plus a type-specific option map decoded by the factory
// in factories.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quarryfs/quarry/pkg/api"
	"github.com/quarryfs/quarry/pkg/gateway"
)

// Config is the complete server configuration.
type Config struct {
	// Logging controls log output behaviour.
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings.
	Server ServerConfig `mapstructure:"server"`

	// HTTP configures the JSON API and WebDAV surface.
	HTTP api.Config `mapstructure:"http"`

	// Gateway tunes the upload pipeline and URL generation.
	Gateway gateway.Config `mapstructure:"gateway"`

	// Metadata selects and configures the metadata store.
	Metadata MetadataConfig `mapstructure:"metadata"`

	// Auth holds the static credentials.
	Auth AuthConfig `mapstructure:"auth"`
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is the minimum level to emit: debug, info, warn, error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`

	// Format is "console" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=console json"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds graceful shutdown, including the wait for
	// in-flight multipart aborts.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// DirectoryCacheEntries caps the directory cache size.
	DirectoryCacheEntries int `mapstructure:"directory_cache_entries" validate:"gte=0"`

	// MetricsEnabled turns on the Prometheus registry and /metrics.
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// MetadataConfig selects the metadata store implementation.
type MetadataConfig struct {
	// Type is "badger" or "memory".
	Type string `mapstructure:"type" validate:"required,oneof=badger memory"`

	// Badger holds badger-specific options, used when Type = "badger".
	Badger map[string]any `mapstructure:"badger"`
}

// AuthConfig holds static credentials. The encryption secret is read
// like the other fields (config file or QUARRY_* environment); Load then
// lets a non-empty bare ENCRYPTION_SECRET variable override it.
type AuthConfig struct {
	AdminUser     string `mapstructure:"admin_user" validate:"required"`
	AdminPassword string `mapstructure:"admin_password" validate:"required"`
	JWTSecret     string `mapstructure:"jwt_secret" validate:"required"`

	// EncryptionSecret decrypts stored S3 credentials.
	EncryptionSecret string `mapstructure:"encryption_secret" validate:"required"`
}

// Load reads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	// The bare ENCRYPTION_SECRET env var wins so deployments can share
	// it with sibling tooling.
	if secret := os.Getenv("ENCRYPTION_SECRET"); secret != "" {
		cfg.Auth.EncryptionSecret = secret
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file is fine; env and defaults cover it.
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// configDir returns $XDG_CONFIG_HOME/quarry, falling back to
// ~/.config/quarry.
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quarry")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "quarry")
}
