package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/mimeutil"
	"github.com/quarryfs/quarry/pkg/s3driver"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// directPutLimit is the body size at or below which Upload uses a single
// PutObject instead of the multipart pipeline.
const directPutLimit = 5 * 1024 * 1024

// Mkdir creates an explicit directory marker: a zero-length object whose
// key ends in "/" with the directory content type. Creating a directory
// that already exists succeeds idempotently.
func (g *Gateway) Mkdir(ctx context.Context, principal *auth.Result, path string) error {
	start := time.Now()
	err := g.mkdir(ctx, principal, path)
	g.observe("mkdir", start, err)
	return err
}

func (g *Gateway) mkdir(ctx context.Context, principal *auth.Result, path string) error {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return err
	}
	if !res.Store.Has(s3driver.CapWrite) {
		return gwerr.New(gwerr.KindUnsupported, "storage backend is read-only")
	}
	if res.SubPath == "" {
		// The mount root always exists.
		return nil
	}

	if _, err := res.Store.Head(ctx, res.DirKey()); err == nil {
		return nil
	} else if !errors.Is(err, s3driver.ErrNotFound) {
		return gwerr.Upstream(err)
	}

	_, err = res.Store.Put(ctx, res.DirKey(), bytes.NewReader(nil), 0, s3driver.DirectoryContentType)
	if err != nil {
		return gwerr.Upstream(err)
	}

	g.commitMutation(ctx, res)
	return nil
}

// MkdirExclusive creates a directory, failing with conflict if the
// collection already exists. WebDAV MKCOL requires the exclusive form
// (RFC 4918 mandates 405 for an existing collection; the handler maps
// conflict accordingly).
func (g *Gateway) MkdirExclusive(ctx context.Context, principal *auth.Result, path string) error {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return err
	}
	if res.SubPath == "" {
		return gwerr.New(gwerr.KindConflict, "collection already exists: %s", res.Path)
	}

	if entry, err := g.stat(ctx, principal, path); err == nil && entry != nil {
		return gwerr.New(gwerr.KindConflict, "collection already exists: %s", res.Path)
	} else if err != nil && !gwerr.Is(err, gwerr.KindNotFound) {
		return err
	}

	return g.mkdir(ctx, principal, path)
}

// Upload writes a complete body to path. Bodies at or under the direct
// limit (or with useMultipart disabled) go through a single PutObject;
// anything larger streams through the multipart pipeline. The content
// type is inferred from the filename, never taken from the client.
func (g *Gateway) Upload(ctx context.Context, principal *auth.Result, path string, body io.Reader, size int64, useMultipart bool) (*UploadResult, error) {
	start := time.Now()
	out, err := g.upload(ctx, principal, path, body, size, useMultipart)
	g.observe("upload", start, err)
	return out, err
}

func (g *Gateway) upload(ctx context.Context, principal *auth.Result, path string, body io.Reader, size int64, useMultipart bool) (*UploadResult, error) {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return nil, err
	}
	if !res.Store.Has(s3driver.CapWrite) {
		return nil, gwerr.New(gwerr.KindUnsupported, "storage backend is read-only")
	}
	if res.SubPath == "" || strings.HasSuffix(path, "/") {
		return nil, gwerr.New(gwerr.KindInvalidPath, "upload target must be a file path")
	}

	if size >= 0 {
		if err := g.checkCapacity(ctx, res, size); err != nil {
			return nil, err
		}
	}

	fileName := vpath.Base(res.Path)
	contentType := mimeutil.ByFileName(fileName)

	if size >= 0 && (size <= directPutLimit || !useMultipart) {
		data, err := io.ReadAll(io.LimitReader(body, size+1))
		if err != nil {
			return nil, gwerr.Wrap(gwerr.KindInternal, err, "failed to read upload body")
		}
		if int64(len(data)) != size {
			return nil, gwerr.New(gwerr.KindSizeMismatch, "declared %d bytes, received %d", size, len(data))
		}

		info, err := res.Store.Put(ctx, res.SubPath, bytes.NewReader(data), size, contentType)
		if err != nil {
			return nil, gwerr.Upstream(err)
		}

		g.metrics.RecordBytes("upload", size)
		g.commitMutation(ctx, res)
		return &UploadResult{
			ObjectKey: res.Store.Key(res.SubPath),
			ETag:      info.ETag,
			Size:      size,
			MimeType:  contentType,
		}, nil
	}

	out, err := g.streamUpload(ctx, res, body, size, contentType)
	if err != nil {
		return nil, err
	}
	g.commitMutation(ctx, res)
	return out, nil
}

// Update replaces a file's content from an inline string. Used by the
// text-edit surface for small files.
func (g *Gateway) Update(ctx context.Context, principal *auth.Result, path, content string) (*UploadResult, error) {
	return g.Upload(ctx, principal, path, strings.NewReader(content), int64(len(content)), false)
}

// checkCapacity rejects a write that would push the bucket over its
// configured capacity. Unlimited configs skip the usage walk entirely.
func (g *Gateway) checkCapacity(ctx context.Context, res *Resolution, addSize int64) error {
	if res.Config.TotalCapacityBytes == nil || addSize <= 0 {
		return nil
	}

	usage, err := res.Store.Usage(ctx)
	if err != nil {
		return gwerr.Upstream(err)
	}
	if usage+addSize > *res.Config.TotalCapacityBytes {
		return gwerr.New(gwerr.KindCapacityExhausted,
			"upload of %d bytes exceeds remaining capacity (%d of %d bytes used)",
			addSize, usage, *res.Config.TotalCapacityBytes)
	}
	return nil
}
