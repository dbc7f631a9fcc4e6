package s3driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrNotFound is returned when the object does not exist.
var ErrNotFound = errors.New("s3driver: object not found")

// ObjectInfo is the metadata subset the gateway needs for an object.
type ObjectInfo struct {
	Key         string
	Size        int64
	Modified    time.Time
	ETag        string
	ContentType string
}

// IsDirectoryMarker reports whether the object is an explicit directory
// placeholder: key ending in "/", or the directory content type. The
// object's length is not checked.
func (o ObjectInfo) IsDirectoryMarker() bool {
	return strings.HasSuffix(o.Key, "/") || o.ContentType == DirectoryContentType
}

// Object couples an open body stream with its metadata.
type Object struct {
	Info ObjectInfo
	Body io.ReadCloser
	// ContentRange is set for range reads.
	ContentRange string
}

// notFoundErr reports whether an S3 error means "no such object".
func notFoundErr(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}

// Get opens an object for reading. rangeHeader, when non-empty, is an
// HTTP Range value ("bytes=0-99") passed straight through to S3.
func (d *Driver) Get(ctx context.Context, key, rangeHeader string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.Key(key)),
	}
	if rangeHeader != "" {
		input.Range = aws.String(rangeHeader)
	}

	out, err := d.client.GetObject(ctx, input)
	if err != nil {
		if notFoundErr(err) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	obj := &Object{
		Info: ObjectInfo{Key: key},
		Body: out.Body,
	}
	if out.ContentLength != nil {
		obj.Info.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		obj.Info.Modified = *out.LastModified
	}
	if out.ETag != nil {
		obj.Info.ETag = *out.ETag
	}
	if out.ContentType != nil {
		obj.Info.ContentType = *out.ContentType
	}
	if out.ContentRange != nil {
		obj.ContentRange = *out.ContentRange
	}
	return obj, nil
}

// Head returns object metadata without the body.
//
// Some S3-compatible services reject HEAD on certain keys with 405 or 403;
// those fall back to a one-byte ranged GET, which every implementation
// supports.
func (d *Driver) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.Key(key)),
	})
	if err == nil {
		info := &ObjectInfo{Key: key}
		if out.ContentLength != nil {
			info.Size = *out.ContentLength
		}
		if out.LastModified != nil {
			info.Modified = *out.LastModified
		}
		if out.ETag != nil {
			info.ETag = *out.ETag
		}
		if out.ContentType != nil {
			info.ContentType = *out.ContentType
		}
		return info, nil
	}

	if notFoundErr(err) {
		return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "MethodNotAllowed" || apiErr.ErrorCode() == "AccessDenied") {
		return d.headViaRangedGet(ctx, key)
	}
	return nil, fmt.Errorf("failed to head object: %w", err)
}

// headViaRangedGet emulates HEAD with GetObject Range: bytes=0-0.
func (d *Driver) headViaRangedGet(ctx context.Context, key string) (*ObjectInfo, error) {
	obj, err := d.Get(ctx, key, "bytes=0-0")
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()

	info := obj.Info
	// Content-Range carries the real size: "bytes 0-0/1234".
	if idx := strings.LastIndexByte(obj.ContentRange, '/'); idx >= 0 {
		var total int64
		if _, err := fmt.Sscanf(obj.ContentRange[idx+1:], "%d", &total); err == nil {
			info.Size = total
		}
	}
	return &info, nil
}

// Put writes an object in a single request. The body must be fully
// readable; for unbounded streams use the multipart surface instead.
func (d *Driver) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.Key(key)),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := d.client.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to put object: %w", err)
	}

	info := &ObjectInfo{Key: key, Size: size, Modified: time.Now(), ContentType: contentType}
	if out.ETag != nil {
		info.ETag = *out.ETag
	}
	return info, nil
}

// Delete removes one object. Deleting a non-existent object is a no-op.
func (d *Driver) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.Key(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// DeleteBatch removes up to thousands of objects, chunked at the S3 limit
// of 1000 per request. The returned map holds per-key failures; an empty
// map means every delete succeeded.
func (d *Driver) DeleteBatch(ctx context.Context, keys []string) (map[string]error, error) {
	failures := make(map[string]error)
	const maxBatchSize = 1000

	for i := 0; i < len(keys); i += maxBatchSize {
		if err := ctx.Err(); err != nil {
			for _, k := range keys[i:] {
				failures[k] = err
			}
			return failures, err
		}

		end := min(i+maxBatchSize, len(keys))
		batch := keys[i:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		for j, k := range batch {
			objects[j] = types.ObjectIdentifier{Key: aws.String(d.Key(k))}
		}

		out, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(false)},
		})
		if err != nil {
			for _, k := range batch {
				failures[k] = err
			}
			continue
		}

		for _, derr := range out.Errors {
			if derr.Key == nil {
				continue
			}
			k := d.StripRootPrefix(*derr.Key)
			msg := "unknown error"
			if derr.Code != nil && derr.Message != nil {
				msg = fmt.Sprintf("%s: %s", *derr.Code, *derr.Message)
			}
			failures[k] = errors.New(msg)
		}
	}

	return failures, nil
}

// Copy performs a same-endpoint object copy.
func (d *Driver) Copy(ctx context.Context, srcKey, dstKey string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(d.Key(dstKey)),
		CopySource: aws.String(d.bucket + "/" + d.Key(srcKey)),
	})
	if err != nil {
		if notFoundErr(err) {
			return nil, fmt.Errorf("object %s: %w", srcKey, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to copy object: %w", err)
	}

	info := &ObjectInfo{Key: dstKey, Modified: time.Now()}
	if out.CopyObjectResult != nil && out.CopyObjectResult.ETag != nil {
		info.ETag = *out.CopyObjectResult.ETag
	}
	return info, nil
}
