package s3driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DirListing is one directory level of the bucket, as seen through
// ListObjectsV2 with Delimiter="/". Prefixes are store-relative common
// prefixes (subdirectories); Objects are the direct children.
type DirListing struct {
	Prefixes []string
	Objects  []ObjectInfo
}

// ListDir lists one directory level under prefix. Pagination is consumed
// to exhaustion so callers always see the complete level. The root marker
// sentinel is filtered here, after the root prefix is stripped.
func (d *Driver) ListDir(ctx context.Context, prefix string) (*DirListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := d.rootPrefix + prefix
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(full),
		Delimiter: aws.String("/"),
	})

	listing := &DirListing{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			rel := d.StripRootPrefix(*cp.Prefix)
			if rel == RootMarker {
				continue
			}
			listing.Prefixes = append(listing.Prefixes, rel)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			rel := d.StripRootPrefix(*obj.Key)
			// Skip the directory's own placeholder object and the root
			// marker sentinel.
			if rel == prefix || strings.HasPrefix(rel, RootMarker) {
				continue
			}
			info := ObjectInfo{Key: rel}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.Modified = *obj.LastModified
			}
			if obj.ETag != nil {
				info.ETag = *obj.ETag
			}
			listing.Objects = append(listing.Objects, info)
		}
	}

	return listing, nil
}

// Walk visits every object under prefix (no delimiter), calling fn for
// each. Returning a non-nil error from fn stops the walk. maxKeys bounds
// the walk; 0 means unbounded.
func (d *Driver) Walk(ctx context.Context, prefix string, maxKeys int, fn func(ObjectInfo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.rootPrefix + prefix),
	})

	seen := 0
	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			rel := d.StripRootPrefix(*obj.Key)
			if strings.HasPrefix(rel, RootMarker) {
				continue
			}
			info := ObjectInfo{Key: rel}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.Modified = *obj.LastModified
			}
			if obj.ETag != nil {
				info.ETag = *obj.ETag
			}
			if err := fn(info); err != nil {
				return err
			}
			seen++
			if maxKeys > 0 && seen >= maxKeys {
				return nil
			}
		}
	}
	return nil
}

// Usage sums the size of every object in the bucket under the root
// prefix. Used by the capacity check before uploads commit.
func (d *Driver) Usage(ctx context.Context) (int64, error) {
	var total int64
	err := d.Walk(ctx, "", 0, func(info ObjectInfo) error {
		total += info.Size
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
