package webdav_test

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gateway"
	"github.com/quarryfs/quarry/pkg/gateway/gatewaytest"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/metastore/memory"
	"github.com/quarryfs/quarry/pkg/webdav"
)

type davEnv struct {
	server *httptest.Server
	fake   *gatewaytest.FakeStore
	locks  *webdav.LockManager
}

// newDavEnv wires a WebDAV handler over an in-memory gateway with one
// mount at /m and an API key scoped to /.
func newDavEnv(t *testing.T) *davEnv {
	t.Helper()
	ctx := context.Background()

	meta := memory.New()
	require.NoError(t, meta.PutStorageConfig(ctx, &metastore.StorageConfig{
		ID: "sc-1", Bucket: "b", Provider: metastore.ProviderGeneric,
	}))
	require.NoError(t, meta.PutMount(ctx, &metastore.Mount{
		ID: "mt-1", MountPath: "/m", StorageConfigID: "sc-1", WebProxy: true,
	}))
	require.NoError(t, meta.PutAPIKey(ctx, &metastore.APIKey{
		Key:         "qk_dav",
		Permissions: []metastore.Permission{metastore.PermFile},
		BasicPath:   "/",
	}))

	fake := gatewaytest.NewFakeStore()
	gw := gateway.New(meta, gatewaytest.FixedSource{Store: fake}, gateway.NewDirectoryCache(64, nil), gateway.Config{}, nil)

	resolver := auth.NewResolver(meta, auth.Config{
		JWTSecret: "secret", AdminUser: "root", AdminPassword: "pw",
	})

	locks := webdav.NewLockManager(nil)
	t.Cleanup(locks.Close)

	h := webdav.NewHandler(gw, resolver, locks, "/dav")
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	return &davEnv{server: server, fake: fake, locks: locks}
}

// do issues a WebDAV request with API-key Basic credentials.
func (e *davEnv) do(t *testing.T, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	cred := base64.StdEncoding.EncodeToString([]byte("qk_dav:qk_dav"))
	req.Header.Set("Authorization", "Basic "+cred)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != "" {
		req.ContentLength = int64(len(body))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestOptionsAdvertisesDAV(t *testing.T) {
	env := newDavEnv(t)

	resp := env.do(t, "OPTIONS", "/dav/m", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "1,2", resp.Header.Get("DAV"))
	assert.Equal(t, "DAV", resp.Header.Get("MS-Author-Via"))
	assert.Contains(t, resp.Header.Get("Allow"), "PROPFIND")
	assert.Contains(t, resp.Header.Get("Allow"), "LOCK")
}

func TestUnauthenticatedGets401(t *testing.T) {
	env := newDavEnv(t)

	req, err := http.NewRequest("PROPFIND", env.server.URL+"/dav/m", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
}

func TestPutGetRoundTrip(t *testing.T) {
	env := newDavEnv(t)

	resp := env.do(t, "PUT", "/dav/m/hello.txt", "hello webdav", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, "GET", "/dav/m/hello.txt", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello webdav", string(data))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}

func TestPutEmptyBodyCreatesZeroByteObject(t *testing.T) {
	env := newDavEnv(t)

	req, err := http.NewRequest("PUT", env.server.URL+"/dav/m/empty.bin", nil)
	require.NoError(t, err)
	cred := base64.StdEncoding.EncodeToString([]byte("qk_dav:qk_dav"))
	req.Header.Set("Authorization", "Basic "+cred)
	req.ContentLength = 0

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	data, ok := env.fake.ObjectData("empty.bin")
	require.True(t, ok)
	assert.Empty(t, data)
	assert.Equal(t, 0, env.fake.OpenUploads())
}

func TestMkcolLifecycle(t *testing.T) {
	env := newDavEnv(t)

	resp := env.do(t, "MKCOL", "/dav/m/newdir", "", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// RFC 4918: MKCOL over an existing collection is 405.
	resp = env.do(t, "MKCOL", "/dav/m/newdir", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	// MKCOL with a body is 415.
	resp = env.do(t, "MKCOL", "/dav/m/otherdir", "<xml/>", nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestPropfindDepthOneListsChildren(t *testing.T) {
	env := newDavEnv(t)

	env.do(t, "MKCOL", "/dav/m/docs", "", nil)
	env.do(t, "PUT", "/dav/m/docs/a.txt", "aaa", nil)

	resp := env.do(t, "PROPFIND", "/dav/m/docs", "", map[string]string{"Depth": "1"})
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	buf := new(strings.Builder)
	_, err := io.Copy(buf, resp.Body)
	require.NoError(t, err)
	body := buf.String()

	assert.Contains(t, body, "<D:collection")
	assert.Contains(t, body, "a.txt")
	assert.Contains(t, body, "<D:getcontentlength>3</D:getcontentlength>")
	assert.Contains(t, body, "/dav/m/docs/")
}

func TestPropfindDepthZero(t *testing.T) {
	env := newDavEnv(t)
	env.do(t, "PUT", "/dav/m/one.txt", "1", nil)

	resp := env.do(t, "PROPFIND", "/dav/m", "", map[string]string{"Depth": "0"})
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	buf := new(strings.Builder)
	_, err := io.Copy(buf, resp.Body)
	require.NoError(t, err)

	// Depth 0 answers only the collection itself.
	assert.NotContains(t, buf.String(), "one.txt")
}

func TestPropfindMissingResourceIs404(t *testing.T) {
	env := newDavEnv(t)

	resp := env.do(t, "PROPFIND", "/dav/m/nope.txt", "", map[string]string{"Depth": "0"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLockBlocksUnlockedPut(t *testing.T) {
	env := newDavEnv(t)

	env.do(t, "PUT", "/dav/m/x.txt", "v1", nil)

	lockBody := `<?xml version="1.0" encoding="utf-8"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>mailto:alice@example.com</D:href></D:owner>
</D:lockinfo>`

	resp := env.do(t, "LOCK", "/dav/m/x.txt", lockBody, map[string]string{
		"Depth":   "0",
		"Timeout": "Second-600",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	token := strings.Trim(resp.Header.Get("Lock-Token"), "<>")
	assert.True(t, strings.HasPrefix(token, "opaquelocktoken:"))

	buf := new(strings.Builder)
	_, err := io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "opaquelocktoken:")
	assert.Contains(t, buf.String(), "Second-600")

	// PUT without the token is refused.
	resp = env.do(t, "PUT", "/dav/m/x.txt", "v2", nil)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	// PUT with the token succeeds.
	resp = env.do(t, "PUT", "/dav/m/x.txt", "v2", map[string]string{
		"If": "(<" + token + ">)",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// UNLOCK with a wrong token is 403; the right token releases.
	resp = env.do(t, "UNLOCK", "/dav/m/x.txt", "", map[string]string{
		"Lock-Token": "<opaquelocktoken:wrong>",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, "UNLOCK", "/dav/m/x.txt", "", map[string]string{
		"Lock-Token": "<" + token + ">",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, "PUT", "/dav/m/x.txt", "v3", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestLockRefreshViaIfHeader(t *testing.T) {
	env := newDavEnv(t)

	lockBody := `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	resp := env.do(t, "LOCK", "/dav/m/r.txt", lockBody, map[string]string{"Timeout": "Second-600"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := strings.Trim(resp.Header.Get("Lock-Token"), "<>")

	// Empty-body LOCK with If refreshes.
	resp = env.do(t, "LOCK", "/dav/m/r.txt", "", map[string]string{
		"If":      "(<" + token + ">)",
		"Timeout": "Second-1200",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeleteCollection(t *testing.T) {
	env := newDavEnv(t)

	env.do(t, "PUT", "/dav/m/dir/a.txt", "a", nil)
	env.do(t, "PUT", "/dav/m/dir/b.txt", "b", nil)

	resp := env.do(t, "DELETE", "/dav/m/dir", "", map[string]string{"Depth": "infinity"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, "PROPFIND", "/dav/m/dir", "", map[string]string{"Depth": "0"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMoveRenames(t *testing.T) {
	env := newDavEnv(t)

	env.do(t, "PUT", "/dav/m/from.txt", "data", nil)

	resp := env.do(t, "MOVE", "/dav/m/from.txt", "", map[string]string{
		"Destination": env.server.URL + "/dav/m/to.txt",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	_, ok := env.fake.ObjectData("to.txt")
	assert.True(t, ok)
	_, ok = env.fake.ObjectData("from.txt")
	assert.False(t, ok)
}

func TestCopyWithOverwriteFalse(t *testing.T) {
	env := newDavEnv(t)

	env.do(t, "PUT", "/dav/m/src.txt", "s", nil)
	env.do(t, "PUT", "/dav/m/dst.txt", "d", nil)

	resp := env.do(t, "COPY", "/dav/m/src.txt", "", map[string]string{
		"Destination": "/dav/m/dst.txt",
		"Overwrite":   "F",
	})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	// With overwrite the copy replaces the target and answers 204.
	resp = env.do(t, "COPY", "/dav/m/src.txt", "", map[string]string{
		"Destination": "/dav/m/dst.txt",
		"Overwrite":   "T",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	data, _ := env.fake.ObjectData("dst.txt")
	assert.Equal(t, "s", string(data))
}

func TestProppatchReportsForbidden(t *testing.T) {
	env := newDavEnv(t)
	env.do(t, "PUT", "/dav/m/p.txt", "p", nil)

	resp := env.do(t, "PROPPATCH", "/dav/m/p.txt", `<D:propertyupdate xmlns:D="DAV:"/>`, nil)
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	buf := new(strings.Builder)
	_, err := io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "403 Forbidden")
}
