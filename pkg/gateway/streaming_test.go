package gateway_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryfs/quarry/pkg/gwerr"
)

// patternBytes builds a deterministic non-repeating body of n bytes.
func patternBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}

func TestStreamUploadMultipleParts(t *testing.T) {
	env := newTestEnv(t, map[string]bool{"/m": false})
	ctx := context.Background()

	// 12 MiB with 5 MiB parts: two full parts plus a 2 MiB tail.
	body := patternBytes(12 * 1024 * 1024)

	out, err := env.gw.Upload(ctx, env.admin, "/m/big.bin", bytes.NewReader(body), int64(len(body)), true)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), out.Size)
	assert.Equal(t, 3, out.Parts)
	assert.Contains(t, out.ETag, "-3")

	stored, ok := env.fake.ObjectData("big.bin")
	require.True(t, ok)
	assert.Equal(t, body, stored)
	assert.Equal(t, 0, env.fake.OpenUploads(), "no dangling multipart session")
}

func TestStreamUploadUnknownLength(t *testing.T) {
	env := newTestEnv(t, map[string]bool{"/m": false})

	body := patternBytes(6 * 1024 * 1024)
	out, err := env.gw.Upload(context.Background(), env.admin, "/m/chunked.bin", bytes.NewReader(body), -1, true)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), out.Size)
	assert.Equal(t, 2, out.Parts)
}

func TestStreamUploadEmptyBodyUsesSinglePut(t *testing.T) {
	env := newTestEnv(t, map[string]bool{"/m": false})

	out, err := env.gw.Upload(context.Background(), env.admin, "/m/empty.txt", strings.NewReader(""), -1, true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Size)
	assert.Equal(t, 0, out.Parts)

	stored, ok := env.fake.ObjectData("empty.txt")
	require.True(t, ok)
	assert.Empty(t, stored)
	assert.Equal(t, 0, env.fake.OpenUploads())
}

func TestStreamUploadShortBodyUsesSinglePut(t *testing.T) {
	env := newTestEnv(t, map[string]bool{"/m": false})

	body := []byte("hello")
	out, err := env.gw.Upload(context.Background(), env.admin, "/m/a.txt", bytes.NewReader(body), -1, true)
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.Size)
	assert.Equal(t, 0, out.Parts)
	assert.Equal(t, "text/plain", strings.SplitN(out.MimeType, ";", 2)[0])
}

func TestStreamUploadSinglePartBoundary(t *testing.T) {
	env := newTestEnv(t, map[string]bool{"/m": false})

	// Exactly one part size: the first part fills, the next read hits
	// EOF, and the multipart completes with a single part.
	body := patternBytes(minTestPartSize)
	out, err := env.gw.Upload(context.Background(), env.admin, "/m/exact.bin", bytes.NewReader(body), -1, true)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Parts)

	stored, ok := env.fake.ObjectData("exact.bin")
	require.True(t, ok)
	assert.Equal(t, body, stored)
}

func TestStreamUploadPartFailureAborts(t *testing.T) {
	env := newTestEnv(t, map[string]bool{"/m": false})
	env.fake.FailPart = true

	body := patternBytes(11 * 1024 * 1024)
	_, err := env.gw.Upload(context.Background(), env.admin, "/m/fail.bin", bytes.NewReader(body), int64(len(body)), true)
	require.Error(t, err)

	env.gw.Close(2 * time.Second)
	assert.Equal(t, 0, env.fake.OpenUploads(), "failed upload must be aborted")
	_, ok := env.fake.ObjectData("fail.bin")
	assert.False(t, ok)
}

func TestStreamUploadCancellationAborts(t *testing.T) {
	env := newTestEnv(t, map[string]bool{"/m": false})
	ctx, cancel := context.WithCancel(context.Background())

	// A reader that cancels the request mid-stream.
	body := patternBytes(6 * 1024 * 1024)
	r := &cancellingReader{r: bytes.NewReader(body), cancel: cancel, after: 5*1024*1024 + 100}

	_, err := env.gw.Upload(ctx, env.admin, "/m/cancelled.bin", r, int64(len(body)), true)
	require.Error(t, err)

	env.gw.Close(2 * time.Second)
	assert.Equal(t, 0, env.fake.OpenUploads())
}

func TestStreamUploadSizeMismatch(t *testing.T) {
	env := newTestEnv(t, map[string]bool{"/m": false})

	body := patternBytes(6 * 1024 * 1024)
	_, err := env.gw.Upload(context.Background(), env.admin, "/m/short.bin", bytes.NewReader(body), int64(len(body))+5, true)
	require.Error(t, err)
	assert.True(t, gwerr.Is(err, gwerr.KindSizeMismatch))

	env.gw.Close(2 * time.Second)
	assert.Equal(t, 0, env.fake.OpenUploads())
}

// cancellingReader cancels a context after `after` bytes have been read.
type cancellingReader struct {
	r      *bytes.Reader
	cancel context.CancelFunc
	after  int
	read   int
}

func (c *cancellingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	if c.read >= c.after {
		c.cancel()
	}
	return n, err
}
