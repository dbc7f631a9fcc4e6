// Package s3driver wraps one S3-compatible endpoint behind a capability-
// scoped driver.
//
// Each metastore.StorageConfig maps to exactly one Driver. Provider
// differences (AWS, Cloudflare R2, Backblaze B2, generic S3 clones) are
// handled at construction time: checksum behaviour, retry budget, request
// timeout, and addressing style are all configuration, never interface
// branches. Callers query Has() and refuse unsupported operations instead
// of degrading silently.
package s3driver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quarryfs/quarry/internal/logger"
	"github.com/quarryfs/quarry/pkg/metastore"
)

// Capability identifies one operation family a driver can perform.
type Capability string

const (
	CapRead      Capability = "read"
	CapWrite     Capability = "write"
	CapList      Capability = "list"
	CapPresign   Capability = "presign"
	CapMultipart Capability = "multipart"
	CapCopy      Capability = "copy"
	CapProxy     Capability = "proxy"
)

// MinPartSize is the S3 minimum for non-final multipart parts.
const MinPartSize = 5 * 1024 * 1024

// RootMarker is the sentinel object key created when an operation targets
// the storage root and would otherwise resolve to an empty key. It is
// never listed and never deleted.
const RootMarker = "_MARK_ROOT_DONT_DELETE_ME/"

// DirectoryContentType marks zero-length objects acting as explicit
// directory placeholders.
const DirectoryContentType = "application/x-directory"

// Driver wraps one bucket on one S3-compatible endpoint.
type Driver struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	// rootPrefix is prepended to every key (already "/"-terminated or empty).
	rootPrefix string
	provider   metastore.ProviderType
	signedTTL  time.Duration
	caps       map[Capability]bool
	log        logger.Logger
}

// providerTuning captures the per-provider request knobs. B2 is slower to
// accept large parts and occasionally sheds load, so it gets a longer
// timeout and one more attempt than AWS.
type providerTuning struct {
	maxAttempts          int
	requestTimeout       time.Duration
	checksumWhenRequired bool
}

func tuningFor(p metastore.ProviderType) providerTuning {
	switch p {
	case metastore.ProviderB2:
		return providerTuning{maxAttempts: 4, requestTimeout: 5 * time.Minute, checksumWhenRequired: true}
	case metastore.ProviderR2, metastore.ProviderGeneric:
		return providerTuning{maxAttempts: 3, requestTimeout: 2 * time.Minute, checksumWhenRequired: true}
	default: // AWS
		return providerTuning{maxAttempts: 3, requestTimeout: 2 * time.Minute, checksumWhenRequired: false}
	}
}

// New builds a Driver for the given storage configuration. Credentials
// must already be decrypted by the caller; this package never sees sealed
// values.
func New(ctx context.Context, cfg *metastore.StorageConfig, accessKey, secretKey string) (*Driver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3driver: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	tuning := tuningFor(cfg.Provider)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
		awsconfig.WithRetryer(func() aws.Retryer {
			return awsretry.NewStandard(func(o *awsretry.StandardOptions) {
				o.MaxAttempts = tuning.maxAttempts
				o.Backoff = awsretry.NewExponentialJitterBackoff(10 * time.Second)
			})
		}),
		awsconfig.WithHTTPClient(&http.Client{Timeout: tuning.requestTimeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		if tuning.checksumWhenRequired {
			// R2/B2/clones reject or mishandle always-on checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	signedTTL := cfg.DefaultSignedTTL
	if signedTTL <= 0 {
		signedTTL = 15 * time.Minute
	}

	caps := map[Capability]bool{
		CapRead: true, CapWrite: true, CapList: true, CapPresign: true,
		CapMultipart: true, CapCopy: true, CapProxy: true,
	}

	return &Driver{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		rootPrefix: normalizePrefix(cfg.RootPrefix),
		provider:   cfg.Provider,
		signedTTL:  signedTTL,
		caps:       caps,
		log:        logger.WithComponent("s3driver").With("bucket", cfg.Bucket),
	}, nil
}

// Has reports whether the driver supports the given capability.
func (d *Driver) Has(c Capability) bool { return d.caps[c] }

// Bucket returns the bucket name this driver operates on.
func (d *Driver) Bucket() string { return d.bucket }

// SignedTTL returns the default presigned URL expiry for this endpoint.
func (d *Driver) SignedTTL() time.Duration { return d.signedTTL }

// Key translates a store-relative key into the full object key, applying
// the configured root prefix. An empty key resolves to the root marker so
// root-targeted operations never emit an empty S3 key.
func (d *Driver) Key(rel string) string {
	if rel == "" {
		rel = RootMarker
	}
	return d.rootPrefix + rel
}

// StripRootPrefix removes the configured root prefix from an absolute
// object key, returning the store-relative key.
func (d *Driver) StripRootPrefix(key string) string {
	if d.rootPrefix != "" && len(key) >= len(d.rootPrefix) && key[:len(d.rootPrefix)] == d.rootPrefix {
		return key[len(d.rootPrefix):]
	}
	return key
}

func normalizePrefix(p string) string {
	if p == "" {
		return ""
	}
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	if p != "" && p[len(p)-1] != '/' {
		p += "/"
	}
	return p
}
