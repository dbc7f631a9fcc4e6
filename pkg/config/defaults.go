package config

import (
	"strings"
	"time"
)

// ApplyDefaults fills unset fields with working values. Explicit values
// are preserved; only zero values are replaced.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyHTTPDefaults(cfg)
	applyMetadataDefaults(&cfg.Metadata)
	applyAuthDefaults(&cfg.Auth)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	cfg.Level = strings.ToLower(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "console"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DirectoryCacheEntries == 0 {
		cfg.DirectoryCacheEntries = 4096
	}
}

func applyHTTPDefaults(cfg *Config) {
	h := &cfg.HTTP
	if h.Host == "" {
		h.Host = "0.0.0.0"
	}
	if h.Port == 0 {
		h.Port = 8080
	}
	if h.ReadTimeout == 0 {
		h.ReadTimeout = 30 * time.Second
	}
	if h.WriteTimeout == 0 {
		// Writes cover whole streamed downloads; give them room.
		h.WriteTimeout = time.Hour
	}
	if h.IdleTimeout == 0 {
		h.IdleTimeout = 2 * time.Minute
	}
	if len(h.CORS.AllowedOrigins) == 0 {
		h.CORS.AllowedOrigins = []string{"*"}
	}
	if len(h.CORS.AllowedMethods) == 0 {
		h.CORS.AllowedMethods = []string{
			"GET", "POST", "PUT", "DELETE", "OPTIONS",
			"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK",
		}
	}
	if len(h.CORS.AllowedHeaders) == 0 {
		h.CORS.AllowedHeaders = []string{
			"Authorization", "Content-Type", "Depth", "Destination",
			"If", "Lock-Token", "Overwrite", "Timeout", "Range", "X-Request-ID",
		}
	}

	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "http://localhost:8080"
	}
}

func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "/var/lib/quarry/metadata"
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.AdminUser == "" {
		cfg.AdminUser = "admin"
	}
}
