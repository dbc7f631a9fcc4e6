package s3driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// CompletedPart pairs a part number with the etag S3 returned for it.
type CompletedPart struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

// partMaxRetries bounds the manual per-part retry loop. Part uploads are
// retried here rather than by the SDK retryer because the part body is a
// buffer we can rewind, and the backoff schedule (1s * 2^(n-1)) is part of
// the upload pipeline's latency budget.
const partMaxRetries = 3

// CreateMultipart starts a multipart upload for key and returns the
// upload ID.
func (d *Driver) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.Key(key)),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := d.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}
	return aws.ToString(out.UploadId), nil
}

// UploadPart uploads one part and returns its etag. The part body is
// attempted up to partMaxRetries times with exponential backoff; context
// cancellation aborts the loop immediately.
func (d *Driver) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, data []byte) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= partMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := d.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(d.bucket),
			Key:           aws.String(d.Key(key)),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err == nil {
			return aws.ToString(out.ETag), nil
		}
		lastErr = err

		if attempt < partMaxRetries {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			d.log.Warn("part %d upload failed (attempt %d/%d), retrying in %s: %v",
				partNumber, attempt, partMaxRetries, backoff, err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("failed to upload part %d after %d attempts: %w", partNumber, partMaxRetries, lastErr)
}

// CompleteMultipart commits the upload from the accumulated part list and
// returns the composite etag. Parts are sorted by part number before the
// complete call; S3 requires ascending order.
func (d *Driver) CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", errors.New("cannot complete multipart upload with no parts")
	}

	sorted := make([]CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	completed := make([]types.CompletedPart, len(sorted))
	for i, p := range sorted {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	out, err := d.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(d.bucket),
		Key:             aws.String(d.Key(key)),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return aws.ToString(out.ETag), nil
}

// AbortMultipart cancels an in-progress upload. Idempotent: aborting an
// unknown upload succeeds.
func (d *Driver) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := d.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.bucket),
		Key:      aws.String(d.Key(key)),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if errors.As(err, &noSuchUpload) {
			return nil
		}
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}
