// Command quarry runs the storage gateway: the JSON filesystem API, the
// WebDAV surface, and the short-link proxy endpoints over one or more
// S3-compatible backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/quarryfs/quarry/internal/logger"
	"github.com/quarryfs/quarry/internal/secretbox"
	"github.com/quarryfs/quarry/pkg/api"
	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/config"
	"github.com/quarryfs/quarry/pkg/gateway"
	"github.com/quarryfs/quarry/pkg/metrics"
	"github.com/quarryfs/quarry/pkg/s3driver"
	"github.com/quarryfs/quarry/pkg/webdav"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "quarry: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if cfg.Server.MetricsEnabled {
		metrics.InitRegistry()
	}
	gatewayMetrics := metrics.NewGatewayMetrics()

	store, err := config.CreateMetadataStore(&cfg.Metadata)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close metadata store: %v", err)
		}
	}()

	box, err := secretbox.New(cfg.Auth.EncryptionSecret)
	if err != nil {
		return err
	}

	drivers := s3driver.NewCache(box)
	source := gateway.CacheSource(drivers)
	cache := gateway.NewDirectoryCache(cfg.Server.DirectoryCacheEntries, gatewayMetrics)
	gw := gateway.New(store, source, cache, cfg.Gateway, gatewayMetrics)

	authResolver := auth.NewResolver(store, auth.Config{
		JWTSecret:     cfg.Auth.JWTSecret,
		AdminUser:     cfg.Auth.AdminUser,
		AdminPassword: cfg.Auth.AdminPassword,
	})

	locks := webdav.NewLockManager(gatewayMetrics)
	defer locks.Close()

	dav := webdav.NewHandler(gw, authResolver, locks, "/dav")
	server := api.New(cfg.HTTP, gw, authResolver, store, source, dav)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting quarry on %s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	err = server.Start(ctx)

	// Let in-flight multipart aborts settle before the stores go away.
	gw.Close(cfg.Server.ShutdownTimeout)
	logger.Info("quarry stopped")
	return err
}
