package auth

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/metastore/memory"
)

func newTestResolver(t *testing.T) (*Resolver, metastore.Store) {
	t.Helper()
	store := memory.New()
	r := NewResolver(store, Config{
		JWTSecret:     "test-secret",
		AdminUser:     "root",
		AdminPassword: "hunter2",
	})
	return r, store
}

func basic(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

func TestResolveMissingHeader(t *testing.T) {
	r, _ := newTestResolver(t)

	res, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.Equal(t, TypeNone, res.Type)
	assert.False(t, res.AllowsPath("/anything"))
}

func TestResolveAdminJWT(t *testing.T) {
	r, _ := newTestResolver(t)

	token, err := r.MintAdminToken("admin", time.Hour)
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.True(t, res.IsAdmin())
	assert.True(t, res.Can(metastore.PermMount))
	assert.True(t, res.AllowsPath("/any/path"))
	assert.Equal(t, "admin", res.CacheClass())
}

func TestResolveBadBearer(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.Resolve(context.Background(), "Bearer not-a-token")
	require.Error(t, err)
	assert.True(t, gwerr.Is(err, gwerr.KindUnauthorized))
}

func TestResolveAPIKey(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.PutAPIKey(ctx, &metastore.APIKey{
		Key:         "qk_abc",
		Name:        "team-a",
		Permissions: []metastore.Permission{metastore.PermFile},
		BasicPath:   "/team-a",
	}))

	res, err := r.Resolve(ctx, "ApiKey qk_abc")
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	assert.Equal(t, TypeAPIKey, res.Type)
	assert.True(t, res.Can(metastore.PermFile))
	assert.False(t, res.Can(metastore.PermMount))
	assert.True(t, res.AllowsPath("/team-a/docs"))
	assert.False(t, res.AllowsPath("/team-b"))
	assert.Equal(t, "apikey:/team-a", res.CacheClass())

	// LastUsedAt is touched on every resolve.
	rec, err := store.GetAPIKey(ctx, "qk_abc")
	require.NoError(t, err)
	assert.False(t, rec.LastUsedAt.IsZero())
}

func TestResolveExpiredKeyIsDeleted(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.PutAPIKey(ctx, &metastore.APIKey{
		Key:       "qk_old",
		ExpiresAt: &past,
	}))

	_, err := r.Resolve(ctx, "ApiKey qk_old")
	require.Error(t, err)
	assert.True(t, gwerr.Is(err, gwerr.KindUnauthorized))

	_, err = store.GetAPIKey(ctx, "qk_old")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestResolveBasic(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.PutAPIKey(ctx, &metastore.APIKey{
		Key:       "qk_basic",
		BasicPath: "/shared",
	}))

	// user == pass means "the password is the api key".
	res, err := r.Resolve(ctx, "Basic "+basic("qk_basic", "qk_basic"))
	require.NoError(t, err)
	assert.Equal(t, TypeAPIKey, res.Type)
	assert.Equal(t, "/shared", res.AllowedPrefix)

	// Admin credentials authenticate as admin.
	res, err = r.Resolve(ctx, "Basic "+basic("root", "hunter2"))
	require.NoError(t, err)
	assert.True(t, res.IsAdmin())

	// Wrong password is refused.
	_, err = r.Resolve(ctx, "Basic "+basic("root", "wrong"))
	require.Error(t, err)
	assert.True(t, gwerr.Is(err, gwerr.KindUnauthorized))
}

func TestBearerFallsBackToAPIKey(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.PutAPIKey(ctx, &metastore.APIKey{Key: "qk_tok", BasicPath: "/x"}))

	res, err := r.Resolve(ctx, "Bearer qk_tok")
	require.NoError(t, err)
	assert.Equal(t, TypeAPIKey, res.Type)
}
