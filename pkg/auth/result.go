package auth

import (
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// Type classifies the authenticated principal.
type Type string

const (
	TypeAdmin  Type = "admin"
	TypeAPIKey Type = "apiKey"
	TypeNone   Type = "none"
)

// Result is the per-request authentication outcome. It is evaluated for
// every request and never persisted.
type Result struct {
	Authenticated bool
	Type          Type
	PrincipalID   string
	Permissions   map[metastore.Permission]bool
	// AllowedPrefix is the virtual path prefix the principal may operate
	// under. "/" for admins.
	AllowedPrefix string
	// Key carries the API key record for apiKey principals.
	Key *metastore.APIKey
}

// Anonymous is the unauthenticated result.
func Anonymous() *Result {
	return &Result{Type: TypeNone, AllowedPrefix: vpath.Root}
}

// IsAdmin reports whether the principal is unrestricted.
func (r *Result) IsAdmin() bool {
	return r.Authenticated && r.Type == TypeAdmin
}

// Can reports whether the principal carries the capability flag. Admins
// carry every capability.
func (r *Result) Can(p metastore.Permission) bool {
	if !r.Authenticated {
		return false
	}
	if r.IsAdmin() {
		return true
	}
	return r.Permissions[p]
}

// AllowsPath reports whether path lies under the principal's allowed
// prefix.
func (r *Result) AllowsPath(path string) bool {
	if !r.Authenticated {
		return false
	}
	if r.IsAdmin() {
		return true
	}
	return vpath.HasPrefix(path, r.AllowedPrefix)
}

// CacheClass returns the principal-visibility class used in directory
// cache keys, so partially-visible listings are never served across
// principals with different prefixes.
func (r *Result) CacheClass() string {
	if r.IsAdmin() {
		return "admin"
	}
	return "apikey:" + r.AllowedPrefix
}
