package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quarryfs/quarry/internal/logger"
	"github.com/quarryfs/quarry/internal/ratelimiter"
	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/metastore"
)

const principalKey = "quarry.principal"

// CORSConfig holds the CORS middleware settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// corsMiddleware sets CORS headers and short-circuits OPTIONS preflight.
func corsMiddleware(cfg CORSConfig) gin.HandlerFunc {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}
			h.Set("Access-Control-Expose-Headers", "ETag, Content-Disposition")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// requestIDMiddleware tags every request with an ID echoed in the
// X-Request-ID header.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

// loggingMiddleware emits one structured event per request.
func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start))
	}
}

// recoveryMiddleware converts panics into enveloped 500s.
func recoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := gwerr.Internal(toError(r))
				log.Error("panic in %s %s: %v (errorId=%s)", c.Request.Method, c.Request.URL.Path, r, err.ErrorID)
				c.AbortWithStatusJSON(http.StatusInternalServerError, Envelope{
					Code: http.StatusInternalServerError, Message: "request failed",
					Success: false, ErrorID: err.ErrorID,
				})
			}
		}()
		c.Next()
	}
}

func toError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return gwerr.New(gwerr.KindInternal, "%v", r)
}

// authMiddleware resolves credentials and stores the principal in the
// context. Requests without valid credentials stop here.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := s.auth.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			respondError(c, s.log, err)
			return
		}
		if !principal.Authenticated {
			respondError(c, s.log, gwerr.New(gwerr.KindUnauthorized, "authentication required"))
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// requirePermission refuses principals lacking a capability flag.
func (s *Server) requirePermission(p metastore.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !principalFrom(c).Can(p) {
			respondError(c, s.log, gwerr.New(gwerr.KindPermissionDenied, "missing %q capability", p))
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware enforces the per-principal request budget.
func (s *Server) rateLimitMiddleware(limits *ratelimiter.PerKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if p := principalFrom(c); p.Authenticated {
			key = p.PrincipalID
		}
		if !limits.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, Envelope{
				Code: http.StatusTooManyRequests, Message: "rate limit exceeded", Success: false,
			})
			return
		}
		c.Next()
	}
}

// principalFrom returns the resolved principal, or the anonymous result
// when the auth middleware did not run.
func principalFrom(c *gin.Context) *auth.Result {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*auth.Result); ok {
			return p
		}
	}
	return auth.Anonymous()
}
