// Package webdav serves the virtual filesystem over WebDAV (RFC 4918,
// class 1 and 2). Methods map onto gateway operations; locking is
// advisory through the in-memory LockManager.
package webdav

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/quarryfs/quarry/internal/logger"
	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gateway"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/vpath"
)

const allowedMethods = "OPTIONS, GET, HEAD, PUT, POST, DELETE, PROPFIND, PROPPATCH, MKCOL, COPY, MOVE, LOCK, UNLOCK"

// Handler serves WebDAV under a path prefix (normally /dav).
type Handler struct {
	gw     *gateway.Gateway
	auth   *auth.Resolver
	locks  *LockManager
	prefix string
	log    logger.Logger
}

// NewHandler creates a WebDAV handler mounted at prefix.
func NewHandler(gw *gateway.Gateway, authResolver *auth.Resolver, locks *LockManager, prefix string) *Handler {
	return &Handler{
		gw:     gw,
		auth:   authResolver,
		locks:  locks,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    logger.WithComponent("webdav"),
	}
}

// Locks exposes the lock manager for lifecycle management.
func (h *Handler) Locks() *LockManager { return h.locks }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path, err := h.requestPath(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	principal, err := h.auth.Resolve(r.Context(), r.Header.Get("Authorization"))
	if err != nil || !principal.Authenticated {
		w.Header().Set("WWW-Authenticate", `Basic realm="quarry"`)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if !principal.Can(metastore.PermFile) {
		h.writeError(w, gwerr.New(gwerr.KindPermissionDenied, "principal lacks the file capability"))
		return
	}

	switch r.Method {
	case http.MethodOptions:
		h.handleOptions(w)
	case http.MethodGet:
		h.handleGet(w, r, principal, path, false)
	case http.MethodHead:
		h.handleGet(w, r, principal, path, true)
	case http.MethodPut:
		h.withLockCheck(w, r, path, func() { h.handlePut(w, r, principal, path) })
	case http.MethodDelete:
		h.withLockCheck(w, r, path, func() { h.handleDelete(w, r, principal, path) })
	case "PROPFIND":
		h.handlePropfind(w, r, principal, path)
	case "PROPPATCH":
		h.withLockCheck(w, r, path, func() { h.handleProppatch(w, r, path) })
	case "MKCOL":
		h.withLockCheck(w, r, path, func() { h.handleMkcol(w, r, principal, path) })
	case "COPY":
		h.handleCopyMove(w, r, principal, path, false)
	case "MOVE":
		h.handleCopyMove(w, r, principal, path, true)
	case "LOCK":
		h.handleLock(w, r, principal, path)
	case "UNLOCK":
		h.handleUnlock(w, r, path)
	default:
		w.Header().Set("Allow", allowedMethods)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// requestPath extracts and canonicalises the virtual path from the URL.
func (h *Handler) requestPath(r *http.Request) (string, error) {
	p := r.URL.Path
	if h.prefix != "" {
		if !strings.HasPrefix(p, h.prefix) {
			return "", gwerr.New(gwerr.KindInvalidPath, "path outside the dav prefix")
		}
		p = strings.TrimPrefix(p, h.prefix)
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	return vpath.Clean(p)
}

// withLockCheck runs fn only when no conflicting lock blocks the method.
func (h *Handler) withLockCheck(w http.ResponseWriter, r *http.Request, path string, fn func()) {
	if conflict := h.locks.Check(path, r.Header.Get("If")); conflict != nil {
		h.writeError(w, gwerr.New(gwerr.KindLocked, "resource is locked"))
		return
	}
	fn()
}

// destinationPath resolves the Destination header of COPY and MOVE into
// a canonical virtual path.
func (h *Handler) destinationPath(r *http.Request) (string, error) {
	dest := r.Header.Get("Destination")
	if dest == "" {
		return "", gwerr.New(gwerr.KindInvalidPath, "missing Destination header")
	}

	p := dest
	if u, err := url.Parse(dest); err == nil && u.Path != "" {
		p = u.Path
	}
	if h.prefix != "" {
		if !strings.HasPrefix(p, h.prefix) {
			return "", gwerr.New(gwerr.KindInvalidPath, "destination outside the dav prefix")
		}
		p = strings.TrimPrefix(p, h.prefix)
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	return vpath.Clean(p)
}

// writeError maps a gateway error onto the RFC status code. Internal
// errors surface only the generated error ID.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	e := gwerr.AsError(err)
	if e.Kind == gwerr.KindInternal || e.Kind == gwerr.KindUpstreamUnavailable {
		h.log.Err(e.Cause, "request failed (errorId=%s)", e.ErrorID)
		http.Error(w, "internal error (id "+e.ErrorID+")", e.HTTPStatus())
		return
	}
	http.Error(w, e.Message, e.HTTPStatus())
}

// href renders a virtual path back into a URL path under the prefix.
func (h *Handler) href(path string, isDir bool) string {
	escaped := (&url.URL{Path: h.prefix + path}).EscapedPath()
	if isDir && !strings.HasSuffix(escaped, "/") {
		escaped += "/"
	}
	return escaped
}
