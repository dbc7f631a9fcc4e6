// Package auth resolves request credentials into a per-request Result.
//
// Three credential forms are accepted on every surface:
//
//	Authorization: Bearer <admin JWT>
//	Authorization: ApiKey <key>
//	Authorization: Basic <base64 user:pass>
//
// For Basic, identical username and password mean "the API key is the
// password" (the form WebDAV clients can express); the configured admin
// username and password authenticate as admin. Expired API keys are
// deleted lazily at evaluation time and the request refused.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quarryfs/quarry/internal/logger"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// Resolver evaluates Authorization headers.
type Resolver struct {
	store         metastore.Store
	jwtSecret     []byte
	adminUser     string
	adminPassword string
	now           func() time.Time
	log           logger.Logger
}

// Config holds the resolver's static credentials.
type Config struct {
	// JWTSecret signs and verifies admin bearer tokens.
	JWTSecret string
	// AdminUser and AdminPassword authenticate the admin principal over
	// Basic (the form WebDAV clients use).
	AdminUser     string
	AdminPassword string
}

// NewResolver creates an auth resolver over the given metadata store.
func NewResolver(store metastore.Store, cfg Config) *Resolver {
	return &Resolver{
		store:         store,
		jwtSecret:     []byte(cfg.JWTSecret),
		adminUser:     cfg.AdminUser,
		adminPassword: cfg.AdminPassword,
		now:           time.Now,
		log:           logger.WithComponent("auth"),
	}
}

// Resolve evaluates the Authorization header value. A missing header
// yields the anonymous result with no error; malformed or invalid
// credentials yield an unauthorized error.
func (r *Resolver) Resolve(ctx context.Context, authorization string) (*Result, error) {
	if authorization == "" {
		return Anonymous(), nil
	}

	scheme, value, found := strings.Cut(authorization, " ")
	if !found || value == "" {
		return nil, gwerr.New(gwerr.KindUnauthorized, "malformed authorization header")
	}

	switch strings.ToLower(scheme) {
	case "bearer":
		// Admin JWTs are the primary bearer form; a raw API key is
		// accepted as a fallback for clients that only speak Bearer.
		if res, err := r.resolveAdminToken(value); err == nil {
			return res, nil
		}
		return r.resolveAPIKey(ctx, value)
	case "apikey":
		return r.resolveAPIKey(ctx, value)
	case "basic":
		return r.resolveBasic(ctx, value)
	default:
		return nil, gwerr.New(gwerr.KindUnauthorized, "unsupported authorization scheme")
	}
}

// resolveAdminToken validates an HMAC-signed admin JWT.
func (r *Resolver) resolveAdminToken(tokenString string) (*Result, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return r.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, gwerr.New(gwerr.KindUnauthorized, "invalid admin token")
	}

	sub, _ := token.Claims.GetSubject()
	if sub == "" {
		sub = "admin"
	}

	return &Result{
		Authenticated: true,
		Type:          TypeAdmin,
		PrincipalID:   sub,
		AllowedPrefix: vpath.Root,
	}, nil
}

// MintAdminToken issues an admin JWT valid for ttl. Used by the login
// surface; the core only verifies.
func (r *Resolver) MintAdminToken(subject string, ttl time.Duration) (string, error) {
	now := r.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.jwtSecret)
}

// resolveAPIKey looks up an API key, enforcing lazy expiry.
func (r *Resolver) resolveAPIKey(ctx context.Context, key string) (*Result, error) {
	rec, err := r.store.GetAPIKey(ctx, key)
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, gwerr.New(gwerr.KindUnauthorized, "unknown api key")
	}
	if err != nil {
		return nil, gwerr.Internal(err)
	}

	if rec.Expired(r.now()) {
		// Expired keys are deleted on first use after expiry.
		if derr := r.store.DeleteAPIKey(ctx, key); derr != nil {
			r.log.Err(derr, "failed to delete expired api key %s", rec.Name)
		}
		return nil, gwerr.New(gwerr.KindUnauthorized, "api key expired")
	}

	if err := r.store.TouchAPIKey(ctx, key, r.now()); err != nil {
		r.log.Err(err, "failed to touch api key %s", rec.Name)
	}

	prefix := rec.BasicPath
	if prefix == "" {
		prefix = vpath.Root
	}
	if cleaned, err := vpath.Clean(prefix); err == nil {
		prefix = cleaned
	}

	perms := make(map[metastore.Permission]bool, len(rec.Permissions))
	for _, p := range rec.Permissions {
		perms[p] = true
	}

	return &Result{
		Authenticated: true,
		Type:          TypeAPIKey,
		PrincipalID:   rec.Key,
		Permissions:   perms,
		AllowedPrefix: prefix,
		Key:           rec,
	}, nil
}

// resolveBasic decodes Basic credentials. Identical username and password
// authenticate as the API key; the configured admin pair authenticates as
// admin.
func (r *Resolver) resolveBasic(ctx context.Context, encoded string) (*Result, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, gwerr.New(gwerr.KindUnauthorized, "malformed basic credentials")
	}
	user, pass, found := strings.Cut(string(raw), ":")
	if !found {
		return nil, gwerr.New(gwerr.KindUnauthorized, "malformed basic credentials")
	}

	if user == pass && user != "" {
		return r.resolveAPIKey(ctx, user)
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(r.adminUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(r.adminPassword)) == 1
	if r.adminUser != "" && userOK && passOK {
		return &Result{
			Authenticated: true,
			Type:          TypeAdmin,
			PrincipalID:   r.adminUser,
			AllowedPrefix: vpath.Root,
		}, nil
	}

	return nil, gwerr.New(gwerr.KindUnauthorized, "invalid credentials")
}
