// Package api exposes the gateway over HTTP: the JSON filesystem API
// under /api/fs, the short-link proxy endpoints, health and metrics, and
// the WebDAV handler mounted beside the JSON routes.
package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quarryfs/quarry/internal/logger"
	"github.com/quarryfs/quarry/internal/ratelimiter"
	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gateway"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/metrics"
	"github.com/quarryfs/quarry/pkg/webdav"
)

// Config holds the HTTP surface settings.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// RequestsPerSecond bounds each principal's request rate; 0 disables.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	RequestBurst      uint `mapstructure:"request_burst"`

	CORS CORSConfig `mapstructure:"cors"`
}

// Server is the HTTP surface over one gateway.
type Server struct {
	cfg    Config
	gw      *gateway.Gateway
	auth    *auth.Resolver
	store   metastore.Store
	drivers gateway.DriverSource
	dav     *webdav.Handler
	engine *gin.Engine
	http   *http.Server
	log    logger.Logger
}

// New assembles the HTTP server: middleware chain, JSON routes, proxy
// endpoints, and the WebDAV mount under /dav/.
func New(cfg Config, gw *gateway.Gateway, authResolver *auth.Resolver, store metastore.Store, drivers gateway.DriverSource, dav *webdav.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		gw:      gw,
		auth:    authResolver,
		store:   store,
		drivers: drivers,
		dav:     dav,
		log:     logger.WithComponent("api"),
	}

	engine := gin.New()
	engine.ContextWithFallback = true
	engine.Use(recoveryMiddleware(s.log))
	engine.Use(requestIDMiddleware())
	engine.Use(corsMiddleware(cfg.CORS))
	engine.Use(loggingMiddleware(s.log))
	s.engine = engine

	s.registerRoutes()

	mux := http.NewServeMux()
	mux.Handle("/", engine)
	if dav != nil {
		mux.Handle("/dav/", dav)
		mux.Handle("/dav", dav)
	}

	s.http = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Engine exposes the gin engine for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Handler returns the full HTTP handler (JSON API + WebDAV mounts).
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if reg := metrics.GetRegistry(); reg != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	// Short-link proxy endpoints: authentication is the slug itself.
	s.engine.GET("/file-view/:slug", s.handleSharedFile(true))
	s.engine.GET("/file-download/:slug", s.handleSharedFile(false))

	limits := ratelimiter.NewPerKey(s.cfg.RequestsPerSecond, s.cfg.RequestBurst)

	fs := s.engine.Group("/api/fs")
	fs.Use(s.authMiddleware())
	fs.Use(s.rateLimitMiddleware(limits))
	fs.Use(s.requirePermission(metastore.PermFile))
	{
		fs.GET("/list", s.handleList)
		fs.GET("/get", s.handleStat)
		fs.GET("/download", s.handleDownload)
		fs.GET("/search", s.handleSearch)
		fs.GET("/file-link", s.handleFileLink)

		fs.POST("/mkdir", s.handleMkdir)
		fs.POST("/upload", s.handleUpload)
		fs.POST("/update", s.handleUpdate)
		fs.POST("/rename", s.handleRename)
		fs.DELETE("/remove", s.handleRemove)
		fs.POST("/batch-remove", s.handleBatchRemove)
		fs.POST("/batch-copy", s.handleBatchCopy)
		fs.POST("/batch-copy-commit", s.handleBatchCopyCommit)

		fs.POST("/multipart/init", s.handleMultipartInit)
		fs.POST("/multipart/part", s.handleMultipartPart)
		fs.POST("/multipart/complete", s.handleMultipartComplete)
		fs.POST("/multipart/abort", s.handleMultipartAbort)

		fs.POST("/presign", s.handlePresign)
		fs.POST("/presign/commit", s.handlePresignCommit)
	}
}

// Start binds the listener and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.log.Info("http server listening on %s", s.http.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests with a bounded grace period.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
