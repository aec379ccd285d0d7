// Package storage adapts S3 to the object-store contract the consolidation
// pipeline consumes: paginated listing, get, existence check, and streaming
// multipart upload.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"ocssaver/internal/types"
)

// s3API is the subset of the S3 SDK client used by Store.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// uploaderAPI is the subset of the transfer manager used by Store.
type uploaderAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Options configures a Store built from an SDK config.
type Options struct {
	Bucket string
	// Endpoint overrides the S3 endpoint (MinIO, LocalStack). Path-style
	// addressing is enabled whenever it is set.
	Endpoint string
	// PartSize is the multipart chunk size; zero keeps the manager default.
	PartSize int64
}

// Store reads and writes objects in a single bucket.
type Store struct {
	client   s3API
	uploader uploaderAPI
	bucket   string
	logger   *slog.Logger
}

// New creates a Store backed by a real S3 client and transfer manager.
func New(awsCfg aws.Config, opts Options, logger *slog.Logger) *Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	up := manager.NewUploader(client, func(u *manager.Uploader) {
		if opts.PartSize > 0 {
			u.PartSize = opts.PartSize
		}
	})
	return NewWithClients(client, up, opts.Bucket, logger)
}

// NewWithClients creates a Store over caller-supplied clients.
func NewWithClients(client s3API, uploader uploaderAPI, bucket string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		logger:   logger,
	}
}

// Bucket returns the bucket the store operates on.
func (s *Store) Bucket() string {
	return s.bucket
}

// Keys lists every key under prefix, following continuation tokens. Keys
// arrive in the order S3 returns them, which is ascending UTF-8 byte order.
// A page without any contents information, with a key count that disagrees
// with its contents, or with a nil key yields a bad_listing error and stops
// the sequence.
//
// Each range over the sequence issues a fresh listing.
func (s *Store) Keys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		})

		page := 0
		for pages.HasMorePages() {
			out, err := pages.NextPage(ctx)
			if err != nil {
				yield("", types.NewAppError(types.ErrCodeUpstreamStorage,
					fmt.Sprintf("listing s3://%s/%s", s.bucket, prefix), err))
				return
			}
			page++

			if err := checkPage(out); err != nil {
				yield("", types.NewAppErrorWithDetails(types.ErrCodeBadListing,
					fmt.Sprintf("s3://%s/%s page %d: %s", s.bucket, prefix, page, err), nil,
					map[string]any{"prefix": prefix, "page": page}))
				return
			}

			for _, obj := range out.Contents {
				if !yield(aws.ToString(obj.Key), nil) {
					return
				}
			}
		}
	}
}

func checkPage(out *s3.ListObjectsV2Output) error {
	if out == nil {
		return errors.New("empty response")
	}
	if out.KeyCount == nil && out.Contents == nil {
		return errors.New("missing contents")
	}
	if out.KeyCount != nil && int(*out.KeyCount) != len(out.Contents) {
		return fmt.Errorf("key count %d does not match %d contents", *out.KeyCount, len(out.Contents))
	}
	for i, obj := range out.Contents {
		if obj.Key == nil {
			return fmt.Errorf("contents[%d] has no key", i)
		}
	}
	return nil
}

// Get opens the body of key. The caller closes it. An object that comes
// back without a body is a bad_fetch error.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("get s3://%s/%s", s.bucket, key), err)
	}
	if out.Body == nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeBadFetch,
			fmt.Sprintf("s3://%s/%s returned no body", s.bucket, key), nil,
			map[string]any{"key": key})
	}
	return out.Body, nil
}

// Exists reports whether key is present. Only a NotFound response maps to
// false; any other failure is returned.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, types.NewAppError(types.ErrCodeUpstreamStorage,
		fmt.Sprintf("head s3://%s/%s", s.bucket, key), err)
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// Upload streams body to key through the multipart transfer manager. The
// object is committed only when the upload completes; an error from body
// aborts the upload.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("upload s3://%s/%s", s.bucket, key), err)
	}

	s.logger.DebugContext(ctx, "uploaded object",
		"bucket", s.bucket,
		"key", key,
		"content_type", contentType,
		"location", out.Location,
	)
	return nil
}
