package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryfs/quarry/pkg/api"
	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gateway"
	"github.com/quarryfs/quarry/pkg/gateway/gatewaytest"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/metastore/memory"
	"github.com/quarryfs/quarry/pkg/webdav"
)

type apiEnv struct {
	server *httptest.Server
	fake   *gatewaytest.FakeStore
	meta   metastore.Store
}

// newAPIEnv wires the full HTTP surface over in-memory stores: two
// mounts (/team-a proxied, /team-b redirect) sharing one storage config,
// plus API keys "qk_a" (scoped to /team-a) and "qk_root" (unscoped).
func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()

	meta := memory.New()
	require.NoError(t, meta.PutStorageConfig(ctx, &metastore.StorageConfig{
		ID: "sc-1", Bucket: "b", Provider: metastore.ProviderGeneric,
	}))
	require.NoError(t, meta.PutMount(ctx, &metastore.Mount{
		ID: "mt-a", MountPath: "/team-a", StorageConfigID: "sc-1", WebProxy: true,
	}))
	require.NoError(t, meta.PutMount(ctx, &metastore.Mount{
		ID: "mt-b", MountPath: "/team-b", StorageConfigID: "sc-1",
	}))
	require.NoError(t, meta.PutAPIKey(ctx, &metastore.APIKey{
		Key: "qk_a", Permissions: []metastore.Permission{metastore.PermFile}, BasicPath: "/team-a",
	}))
	require.NoError(t, meta.PutAPIKey(ctx, &metastore.APIKey{
		Key: "qk_root", Permissions: []metastore.Permission{metastore.PermFile}, BasicPath: "/",
	}))
	require.NoError(t, meta.PutAPIKey(ctx, &metastore.APIKey{
		Key: "qk_noperm", BasicPath: "/",
	}))

	fake := gatewaytest.NewFakeStore()
	source := gatewaytest.FixedSource{Store: fake}
	gw := gateway.New(meta, source, gateway.NewDirectoryCache(64, nil), gateway.Config{}, nil)

	resolver := auth.NewResolver(meta, auth.Config{
		JWTSecret: "secret", AdminUser: "root", AdminPassword: "pw",
	})

	locks := webdav.NewLockManager(nil)
	t.Cleanup(locks.Close)
	dav := webdav.NewHandler(gw, resolver, locks, "/dav")

	srv := api.New(api.Config{CORS: api.CORSConfig{AllowedOrigins: []string{"*"}}}, gw, resolver, meta, source, dav)
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)

	return &apiEnv{server: server, fake: fake, meta: meta}
}

func (e *apiEnv) request(t *testing.T, method, path, apiKey string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) api.Envelope {
	t.Helper()
	var env api.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnauthenticatedRequestsRefused(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodGet, "/api/fs/list?path=/team-a", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	out := decodeEnvelope(t, resp)
	assert.False(t, out.Success)
	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestPermissionFlagEnforced(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodGet, "/api/fs/list?path=/team-a", "qk_noperm", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAllowedPrefixEnforced(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodGet, "/api/fs/list?path=/team-b/", "qk_a", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/api/fs/list?path=/team-a/", "qk_a", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeEnvelope(t, resp)
	assert.True(t, out.Success)
}

func TestMkdirUploadStatDownloadFlow(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodPost, "/api/fs/mkdir", "qk_a", map[string]any{"path": "/team-a/docs"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Upload via multipart form.
	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	part, err := w.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("path", "/team-a/docs/a.txt"))
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/fs/upload", &form)
	require.NoError(t, err)
	req.Header.Set("Authorization", "ApiKey qk_a")
	req.Header.Set("Content-Type", w.FormDataContentType())
	upResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer upResp.Body.Close()
	assert.Equal(t, http.StatusCreated, upResp.StatusCode)

	// Stat reports size and mimetype.
	resp = env.request(t, http.MethodGet, "/api/fs/get?path=/team-a/docs/a.txt", "qk_a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var statEnv struct {
		Data gateway.Entry `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statEnv))
	assert.Equal(t, int64(5), statEnv.Data.Size)
	assert.True(t, strings.HasPrefix(statEnv.Data.MimeType, "text/plain"))
	assert.NotEmpty(t, statEnv.Data.PreviewURL)

	// Proxy-mode download streams the bytes.
	resp = env.request(t, http.MethodGet, "/api/fs/download?path=/team-a/docs/a.txt&preview=true", "qk_a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "text/plain; charset=UTF-8", resp.Header.Get("Content-Type"))
}

func TestDownloadRedirectsForNonProxyMount(t *testing.T) {
	env := newAPIEnv(t)

	_, err := env.fake.Put(context.Background(), "x.bin", strings.NewReader("x"), 1, "")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/fs/download?path=/team-b/x.bin", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "ApiKey qk_root")

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "signed.example.com")
}

func TestRemoveAndBatchRemove(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	for _, k := range []string{"a.txt", "b.txt"} {
		_, err := env.fake.Put(ctx, k, strings.NewReader("x"), 1, "")
		require.NoError(t, err)
	}

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/fs/remove?path=/team-a/a.txt", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "ApiKey qk_a")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok := env.fake.ObjectData("a.txt")
	assert.False(t, ok)

	resp = env.request(t, http.MethodPost, "/api/fs/batch-remove", "qk_root", map[string]any{
		"paths": []string{"/team-a/b.txt", "/team-a/missing.txt"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var batchEnv struct {
		Data gateway.BatchResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&batchEnv))
	assert.Len(t, batchEnv.Data.Succeeded, 1)
	assert.Len(t, batchEnv.Data.Failed, 1)
}

func TestMultipartOverHTTP(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodPost, "/api/fs/multipart/init", "qk_a", map[string]any{
		"path": "/team-a/big.bin", "filename": "big.bin", "fileSize": 8,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var initEnv struct {
		Data gateway.MultipartSession `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&initEnv))
	session := initEnv.Data
	require.NotEmpty(t, session.UploadID)

	// One raw part.
	req, err := http.NewRequest(http.MethodPost,
		env.server.URL+"/api/fs/multipart/part?path=/team-a/big.bin&uploadId="+session.UploadID+"&partNumber=1",
		strings.NewReader("partdata"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "ApiKey qk_a")
	partResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer partResp.Body.Close()
	require.Equal(t, http.StatusOK, partResp.StatusCode)
	var partEnv struct {
		Data struct {
			ETag string `json:"etag"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(partResp.Body).Decode(&partEnv))

	resp = env.request(t, http.MethodPost, "/api/fs/multipart/complete", "qk_a", map[string]any{
		"path": "/team-a/big.bin", "uploadId": session.UploadID,
		"parts": []map[string]any{{"partNumber": 1, "etag": partEnv.Data.ETag}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, ok := env.fake.ObjectData("big.bin")
	require.True(t, ok)
	assert.Equal(t, "partdata", string(data))
}

func TestPresignFlow(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodPost, "/api/fs/presign", "qk_a", map[string]any{
		"path": "/team-a/up", "fileName": "img.png",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var presignEnv struct {
		Data gateway.PresignedUpload `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presignEnv))
	assert.Contains(t, presignEnv.Data.URL, "signed.example.com")
	assert.Equal(t, "image/png", presignEnv.Data.MimeType)

	resp = env.request(t, http.MethodPost, "/api/fs/presign/commit", "qk_a", map[string]any{
		"fileId": presignEnv.Data.FileID, "objectKey": presignEnv.Data.ObjectKey,
		"targetPath": "/team-a/up/img.png", "fileSize": 2048,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSharedFileProxy(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	_, err := env.fake.Put(ctx, "shared/photo.jpg", strings.NewReader("jpegbytes"), 9, "image/jpeg")
	require.NoError(t, err)
	require.NoError(t, env.meta.PutSharedFile(ctx, &metastore.SharedFile{
		ID: "sf-1", Slug: "abc123", ObjectKey: "shared/photo.jpg",
		StorageConfigID: "sc-1", MountID: "mt-a", FileName: "photo.jpg", Size: 9,
	}))

	resp, err := http.Get(env.server.URL + "/file-view/abc123")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(data))
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp, err = http.Get(env.server.URL + "/file-view/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	env := newAPIEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/fs/list", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRenameEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	_, err := env.fake.Put(context.Background(), "old.txt", strings.NewReader("v"), 1, "")
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/api/fs/rename", "qk_a", map[string]any{
		"oldPath": "/team-a/old.txt", "newPath": "/team-a/new.txt",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, ok := env.fake.ObjectData("new.txt")
	assert.True(t, ok)
}
