package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gwerr"
	"github.com/quarryfs/quarry/pkg/metastore"
	"github.com/quarryfs/quarry/pkg/mimeutil"
	"github.com/quarryfs/quarry/pkg/s3driver"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// InitiateMultipart starts a client-driven backend-proxied upload
// (Mode A). No session state is persisted server-side: the caller carries
// the returned upload ID and key through every subsequent call.
func (g *Gateway) InitiateMultipart(ctx context.Context, principal *auth.Result, path, fileName string, fileSize int64) (*MultipartSession, error) {
	start := time.Now()
	out, err := g.initiateMultipart(ctx, principal, path, fileName, fileSize)
	g.observe("multipart_init", start, err)
	return out, err
}

func (g *Gateway) initiateMultipart(ctx context.Context, principal *auth.Result, path, fileName string, fileSize int64) (*MultipartSession, error) {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return nil, err
	}
	if !res.Store.Has(s3driver.CapMultipart) {
		return nil, gwerr.New(gwerr.KindUnsupported, "storage backend does not support multipart uploads")
	}
	if res.SubPath == "" {
		return nil, gwerr.New(gwerr.KindInvalidPath, "upload target must be a file path")
	}

	if fileSize > 0 {
		if err := g.checkCapacity(ctx, res, fileSize); err != nil {
			return nil, err
		}
	}

	if fileName == "" {
		fileName = vpath.Base(res.Path)
	}
	contentType := mimeutil.ByFileName(fileName)

	uploadID, err := res.Store.CreateMultipart(ctx, res.SubPath, contentType)
	if err != nil {
		return nil, gwerr.Upstream(err)
	}
	g.metrics.RecordMultipart("initiated")

	return &MultipartSession{
		UploadID:            uploadID,
		Key:                 res.SubPath,
		RecommendedPartSize: g.cfg.PartSize,
	}, nil
}

// UploadMultipartPart forwards one raw part body to the object store and
// returns its etag.
func (g *Gateway) UploadMultipartPart(ctx context.Context, principal *auth.Result, path, uploadID string, partNumber int32, data []byte) (string, error) {
	start := time.Now()
	etag, err := g.uploadMultipartPart(ctx, principal, path, uploadID, partNumber, data)
	g.observe("multipart_part", start, err)
	return etag, err
}

func (g *Gateway) uploadMultipartPart(ctx context.Context, principal *auth.Result, path, uploadID string, partNumber int32, data []byte) (string, error) {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return "", err
	}
	if partNumber < 1 || partNumber > 10000 {
		return "", gwerr.New(gwerr.KindInvalidPath, "part number %d out of range", partNumber)
	}

	etag, err := res.Store.UploadPart(ctx, res.SubPath, uploadID, partNumber, data)
	if err != nil {
		return "", gwerr.Upstream(err)
	}
	g.metrics.RecordBytes("upload", int64(len(data)))
	return etag, nil
}

// CompleteMultipart commits a Mode A upload. Capacity is enforced here:
// the parts already hold bucket space, so an over-capacity complete
// deletes the assembled object again.
func (g *Gateway) CompleteMultipart(ctx context.Context, principal *auth.Result, path, uploadID string, parts []s3driver.CompletedPart) (*UploadResult, error) {
	start := time.Now()
	out, err := g.completeMultipart(ctx, principal, path, uploadID, parts)
	g.observe("multipart_complete", start, err)
	return out, err
}

func (g *Gateway) completeMultipart(ctx context.Context, principal *auth.Result, path, uploadID string, parts []s3driver.CompletedPart) (*UploadResult, error) {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		return nil, err
	}

	etag, err := res.Store.CompleteMultipart(ctx, res.SubPath, uploadID, parts)
	if err != nil {
		g.abortMultipart(res.Store, res.SubPath, uploadID)
		return nil, gwerr.Upstream(err)
	}
	g.metrics.RecordMultipart("completed")

	info, err := res.Store.Head(ctx, res.SubPath)
	if err != nil {
		return nil, gwerr.Upstream(err)
	}

	if res.Config.TotalCapacityBytes != nil {
		usage, uerr := res.Store.Usage(ctx)
		if uerr == nil && usage > *res.Config.TotalCapacityBytes {
			if derr := res.Store.Delete(ctx, res.SubPath); derr != nil {
				g.log.Err(derr, "failed to delete over-capacity object %s", res.SubPath)
			}
			return nil, gwerr.New(gwerr.KindCapacityExhausted,
				"completed upload exceeds capacity (%d of %d bytes)", usage, *res.Config.TotalCapacityBytes)
		}
	}

	g.commitMutation(ctx, res)

	fileName := vpath.Base(res.Path)
	return &UploadResult{
		ObjectKey: res.Store.Key(res.SubPath),
		ETag:      etag,
		Size:      info.Size,
		MimeType:  mimeutil.ByFileName(fileName),
		Parts:     len(parts),
	}, nil
}

// AbortMultipart releases a Mode A session. Abort always reports success
// to the caller; a failed abort is logged server-side only.
func (g *Gateway) AbortMultipart(ctx context.Context, principal *auth.Result, path, uploadID string) {
	res, err := g.Resolve(ctx, path, principal)
	if err != nil {
		g.log.Err(err, "abort for unresolvable path %s", path)
		return
	}
	g.abortMultipart(res.Store, res.SubPath, uploadID)
}

// PresignPut signs a client-direct PUT URL. The content type is inferred
// server-side from the filename; whatever the client claims is ignored.
func (g *Gateway) PresignPut(ctx context.Context, principal *auth.Result, dirPath, fileName string) (*PresignedUpload, error) {
	start := time.Now()
	out, err := g.presignPut(ctx, principal, dirPath, fileName)
	g.observe("presign_put", start, err)
	return out, err
}

func (g *Gateway) presignPut(ctx context.Context, principal *auth.Result, dirPath, fileName string) (*PresignedUpload, error) {
	if fileName == "" {
		return nil, gwerr.New(gwerr.KindInvalidPath, "file name is required")
	}

	res, err := g.Resolve(ctx, vpath.Join(dirPath, fileName), principal)
	if err != nil {
		return nil, err
	}
	if !res.Store.Has(s3driver.CapPresign) {
		return nil, gwerr.New(gwerr.KindUnsupported, "storage backend does not support presigned URLs")
	}

	contentType := mimeutil.ByFileName(fileName)
	url, err := res.Store.PresignPut(ctx, res.SubPath, contentType, res.Store.SignedTTL())
	if err != nil {
		return nil, gwerr.Upstream(err)
	}

	return &PresignedUpload{
		URL:       url,
		ObjectKey: res.Store.Key(res.SubPath),
		FileID:    uuid.NewString(),
		MimeType:  contentType,
	}, nil
}

// PresignCommit records a finished client-direct upload in the
// shared-file table and refreshes the target's ancestors. A missing etag
// is accepted (some S3-compatible services strip it under CORS) but
// logged so operators can fix the bucket configuration.
func (g *Gateway) PresignCommit(ctx context.Context, principal *auth.Result, fileID, objectKey, targetPath, etag string, size int64) (*metastore.SharedFile, error) {
	res, err := g.Resolve(ctx, targetPath, principal)
	if err != nil {
		return nil, err
	}

	if etag == "" {
		g.log.Warn("presign commit for %s carries no etag; check bucket CORS ExposeHeaders", targetPath)
	}

	fileName := vpath.Base(res.Path)
	rec := &metastore.SharedFile{
		ID:              fileID,
		Slug:            uuid.NewString()[:8],
		ObjectKey:       objectKey,
		StorageConfigID: res.Config.ID,
		MountID:         res.Mount.ID,
		FileName:        fileName,
		Size:            size,
		ETag:            etag,
		MimeType:        mimeutil.ByFileName(fileName),
		CreatedAt:       time.Now(),
	}
	if err := g.store.PutSharedFile(ctx, rec); err != nil {
		return nil, gwerr.Internal(err)
	}

	g.commitMutation(ctx, res)
	return rec, nil
}
