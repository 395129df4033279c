// Package objectstore implements the Package Fetcher (C3): downloading the
// content-addressed archive named by an Event's package_uri and unpacking
// it into a scoped temporary directory. The S3 client setup (custom
// endpoint, path-style addressing for MinIO compatibility) is grounded on
// the teacher pack's S3Store.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/meridianrag/ingestcore/internal/router"
	"github.com/meridianrag/ingestcore/pkg/resilience"
)

// ObjectStore is the minimal interface the Package Fetcher needs; C3's
// circuit-breaker wrapping (BreakerStore over pkg/resilience) operates on this
// interface so tests can substitute a fake without a live bucket.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
	Head(ctx context.Context, bucket, key string) (int64, error)
}

// S3Store implements ObjectStore over an S3-compatible endpoint (AWS S3 or
// MinIO) using aws-sdk-go-v2.
type S3Store struct {
	client *s3.Client
}

// Options configures S3Store construction.
type Options struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Region       string
}

// NewS3Store builds an S3Store from Options. A non-empty Endpoint is
// treated as a custom (MinIO-compatible) endpoint; UsePathStyle is
// required for most MinIO deployments.
func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "http://" + endpoint
		}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Store{client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// Get retrieves an object, returning its body and declared content length.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, 0, router.ErrObjectNotFound
		}
		return nil, 0, fmt.Errorf("%w: %s", router.ErrObjectStoreUnavailable, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Head returns an object's declared content length without downloading it.
func (s *S3Store) Head(ctx context.Context, bucket, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return 0, router.ErrObjectNotFound
		}
		return 0, fmt.Errorf("%w: %s", router.ErrObjectStoreUnavailable, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// BreakerStore wraps an ObjectStore with a circuit breaker so a flapping
// bucket endpoint stops taking new requests for a cooldown window instead
// of letting every job in the batch pile up on the same timeout, the same
// protection the teacher applies around its scraper's outbound calls.
type BreakerStore struct {
	inner   ObjectStore
	breaker *resilience.Breaker
}

// NewBreakerStore wraps inner with breaker.
func NewBreakerStore(inner ObjectStore, breaker *resilience.Breaker) *BreakerStore {
	return &BreakerStore{inner: inner, breaker: breaker}
}

func (b *BreakerStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	var body io.ReadCloser
	var size int64
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		body, size, callErr = b.inner.Get(ctx, bucket, key)
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, 0, fmt.Errorf("%w: %s", router.ErrObjectStoreUnavailable, err)
	}
	return body, size, err
}

func (b *BreakerStore) Head(ctx context.Context, bucket, key string) (int64, error) {
	var size int64
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		size, callErr = b.inner.Head(ctx, bucket, key)
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return 0, fmt.Errorf("%w: %s", router.ErrObjectStoreUnavailable, err)
	}
	return size, err
}

func isNotFoundError(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &notFound) ||
		errors.As(err, &noSuchKey) ||
		strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "NoSuchKey")
}
