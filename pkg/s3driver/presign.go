package s3driver

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quarryfs/quarry/pkg/mimeutil"
)

// PresignGetOptions shape the response headers baked into a signed GET URL.
type PresignGetOptions struct {
	// FileName is used for the content-disposition filename.
	FileName string
	// Inline selects "inline" disposition (preview) over "attachment".
	Inline bool
	// Expires overrides the driver's default TTL when positive.
	Expires time.Duration
}

// PresignGet signs a GET URL for key. Content disposition and content
// type are baked into the URL as response header overrides, so the
// object's stored headers never leak into previews. Text-family files
// requested inline are forced to text/plain so browsers render them
// instead of executing them.
func (d *Driver) PresignGet(ctx context.Context, key string, opts PresignGetOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	expires := opts.Expires
	if expires <= 0 {
		expires = d.signedTTL
	}

	contentType := mimeutil.ResponseContentType(opts.FileName, opts.Inline)
	disposition := mimeutil.ContentDisposition(opts.FileName, opts.Inline)

	req, err := d.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(d.bucket),
		Key:                        aws.String(d.Key(key)),
		ResponseContentDisposition: aws.String(disposition),
		ResponseContentType:        aws.String(contentType),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign GET: %w", err)
	}
	return req.URL, nil
}

// PresignPut signs a PUT URL for key with the given content type. The
// content type is server-inferred from the filename by the caller; client
// supplied values are never signed.
func (d *Driver) PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if expires <= 0 {
		expires = d.signedTTL
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.Key(key)),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := d.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign PUT: %w", err)
	}
	return req.URL, nil
}
