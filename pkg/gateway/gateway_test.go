package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gateway"
	"github.com/quarryfs/quarry/pkg/gateway/gatewaytest"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/metastore/memory"
)

// testEnv bundles a gateway wired to in-memory stores.
type testEnv struct {
	gw    *gateway.Gateway
	meta  metastore.Store
	fake  *gatewaytest.FakeStore
	admin *auth.Result
}

func adminPrincipal() *auth.Result {
	return &auth.Result{
		Authenticated: true,
		Type:          auth.TypeAdmin,
		PrincipalID:   "admin",
		AllowedPrefix: "/",
	}
}

func apiKeyPrincipal(prefix string) *auth.Result {
	return &auth.Result{
		Authenticated: true,
		Type:          auth.TypeAPIKey,
		PrincipalID:   "qk_test",
		Permissions:   map[metastore.Permission]bool{metastore.PermFile: true},
		AllowedPrefix: prefix,
	}
}

// newTestEnv builds a gateway with one storage config and the given
// mounts (path -> webProxy).
func newTestEnv(t *testing.T, mounts map[string]bool) *testEnv {
	t.Helper()
	ctx := context.Background()

	meta := memory.New()
	require.NoError(t, meta.PutStorageConfig(ctx, &metastore.StorageConfig{
		ID:              "sc-1",
		Bucket:          "test",
		Provider:        metastore.ProviderGeneric,
		CacheTTLSeconds: 60,
	}))

	i := 0
	for path, webProxy := range mounts {
		i++
		require.NoError(t, meta.PutMount(ctx, &metastore.Mount{
			ID:              "mt-" + path,
			MountPath:       path,
			StorageConfigID: "sc-1",
			WebProxy:        webProxy,
			CreatedAt:       time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}

	fake := gatewaytest.NewFakeStore()
	gw := gateway.New(meta, gatewaytest.FixedSource{Store: fake}, gateway.NewDirectoryCache(128, nil), gateway.Config{
		PartSize:   minTestPartSize,
		QueueDepth: 2,
		BaseURL:    "http://gw.test",
	}, nil)

	return &testEnv{gw: gw, meta: meta, fake: fake, admin: adminPrincipal()}
}

// newMemoryMeta returns an empty in-memory metastore.
func newMemoryMeta() metastore.Store { return memory.New() }

// minTestPartSize is the part size the streaming tests use. It equals the
// S3 minimum, the smallest part size Config accepts without clamping.
const minTestPartSize = 5 * 1024 * 1024

func TestGatewayCloseIsPromptWhenIdle(t *testing.T) {
	env := newTestEnv(t, map[string]bool{"/m": false})
	start := time.Now()
	env.gw.Close(5 * time.Second)
	require.Less(t, time.Since(start), time.Second)
}
