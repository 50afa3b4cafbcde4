// Package s3store implements the C1 BlobContainer adapter over Amazon S3
// or an S3-compatible endpoint, adapted from the teacher's S3 content
// store: same client construction, HeadBucket verification, multipart
// threshold, and exponential-backoff retry wrapper, stripped of the
// write-buffering cache coupling a repository backend has no use for
// (every write here streams straight through to S3).
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/snapvault/internal/logger"
	"github.com/marmos91/snapvault/pkg/metrics"
	"github.com/marmos91/snapvault/pkg/repository/blob"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

// retryConfig controls the exponential backoff applied to transient S3
// errors (throttling, network blips, 5xx responses).
type retryConfig struct {
	maxRetries        uint
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

// Config configures a Store.
type Config struct {
	// Client is a preconfigured S3 client, for example one built by
	// NewClientFromCredentials. It is required: New fails if it is nil.
	Client *s3.Client

	// Bucket is the S3 bucket backing the repository.
	Bucket string

	// KeyPrefix is prepended to every blob name, letting one bucket host
	// several repositories side by side.
	KeyPrefix string

	// MultipartThreshold is the blob size at or above which WriteBlob switches
	// from PutObject to a multipart upload. S3 requires parts (other than
	// the last) to be at least 5MB.
	MultipartThreshold int64

	// PartSize is the size of each multipart upload part.
	PartSize int64

	MaxRetries        uint
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	Metrics metrics.BlobStoreMetrics
}

// Store is a blob.Store backed by S3.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string

	multipartThreshold int64
	partSize           int64

	retry retryConfig

	metrics metrics.BlobStoreMetrics
}

const (
	defaultMultipartThreshold = 100 * 1024 * 1024
	defaultPartSize           = 16 * 1024 * 1024
	s3MinPartSize              = 5 * 1024 * 1024
)

// NewClientFromCredentials builds an S3 client from static credentials and
// an optional custom endpoint, for S3-compatible stores (MinIO, etc).
func NewClientFromCredentials(ctx context.Context, endpoint, region, accessKeyID, secretAccessKey string, forcePathStyle bool) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = forcePathStyle
	}), nil
}

// New constructs a Store and verifies bucket access via HeadBucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3store: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3store: bucket is required")
	}

	multipartThreshold := cfg.MultipartThreshold
	if multipartThreshold <= 0 {
		multipartThreshold = defaultMultipartThreshold
	}
	partSize := cfg.PartSize
	if partSize <= 0 {
		partSize = defaultPartSize
	}
	if partSize < s3MinPartSize {
		return nil, fmt.Errorf("s3store: part size must be at least %d bytes, got %d", s3MinPartSize, partSize)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff == 0 {
		initialBackoff = 100 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 2 * time.Second
	}
	backoffMultiplier := cfg.BackoffMultiplier
	if backoffMultiplier == 0 {
		backoffMultiplier = 2.0
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("s3store: access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:             cfg.Client,
		bucket:             cfg.Bucket,
		keyPrefix:          cfg.KeyPrefix,
		multipartThreshold: multipartThreshold,
		partSize:           partSize,
		retry: retryConfig{
			maxRetries:        maxRetries,
			initialBackoff:    initialBackoff,
			maxBackoff:        maxBackoff,
			backoffMultiplier: backoffMultiplier,
		},
		metrics: cfg.Metrics,
	}, nil
}

func (s *Store) key(name string) string {
	if s.keyPrefix != "" {
		return s.keyPrefix + name
	}
	return name
}

func (s *Store) calculateBackoff(attempt int) time.Duration {
	d := float64(s.retry.initialBackoff) * math.Pow(s.retry.backoffMultiplier, float64(attempt))
	if d > float64(s.retry.maxBackoff) {
		return s.retry.maxBackoff
	}
	return time.Duration(d)
}

// isRetryableError reports whether err is a transient S3/network failure
// worth retrying: throttling, 5xx responses, and generic smithy API
// errors without a definitive client-fault code.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "ThrottlingException":
			return true
		case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidArgument":
			return false
		}
	}
	// Unclassified errors (network resets, DNS hiccups) are treated as
	// retryable; the bounded retry count keeps this from looping forever.
	return true
}

func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"
	}
	return false
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperation(op, time.Since(start), err)
}

func (s *Store) ReadBlob(ctx context.Context, name string) (io.ReadCloser, error) {
	start := time.Now()
	var err error
	defer func() { s.observe("ReadBlob", start, err) }()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	out, getErr := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if getErr != nil {
		if isNotFoundError(getErr) {
			err = fmt.Errorf("s3store: %q: %w", name, rerr.ErrBlobNotFound)
			return nil, err
		}
		err = fmt.Errorf("s3store: get %q: %w", name, getErr)
		return nil, err
	}
	return out.Body, nil
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFoundError(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3store: head %q: %w", name, err)
}

// WriteBlob uploads length bytes under name. failIfExists is honored with
// a best-effort existence check: S3 has no atomic create-if-absent
// primitive, so this narrows but cannot eliminate the race; callers that
// need true fail-if-exists (the repository-index CAS path) are expected
// to treat ErrBlobExists as a signal to re-read and retry, not as proof
// of exclusivity.
func (s *Store) WriteBlob(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	return s.writeBlob(ctx, name, r, length, failIfExists)
}

// WriteBlobAtomic is identical to WriteBlob: S3's PutObject and
// CompleteMultipartUpload are already all-or-nothing at the object-key
// level, so there is no additional guarantee to provide here.
func (s *Store) WriteBlobAtomic(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	return s.writeBlob(ctx, name, r, length, failIfExists)
}

func (s *Store) writeBlob(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	start := time.Now()
	var err error
	defer func() { s.observe("WriteBlob", start, err) }()

	if err = ctx.Err(); err != nil {
		return err
	}

	if failIfExists {
		exists, existsErr := s.Exists(ctx, name)
		if existsErr != nil {
			err = existsErr
			return err
		}
		if exists {
			err = fmt.Errorf("s3store: %q: %w", name, rerr.ErrBlobExists)
			return err
		}
	}

	data, readErr := io.ReadAll(r)
	if readErr != nil {
		err = fmt.Errorf("s3store: read source for %q: %w", name, readErr)
		return err
	}
	if int64(len(data)) != length {
		err = fmt.Errorf("s3store: %q: declared length %d but got %d bytes", name, length, len(data))
		return err
	}

	if length >= s.multipartThreshold {
		err = s.multipartUpload(ctx, name, data)
	} else {
		err = s.putWithRetry(ctx, s.key(name), data)
	}
	return err
}

func (s *Store) putWithRetry(ctx context.Context, key string, data []byte) error {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("s3store: retrying PutObject", "backoff", backoff, "attempt", attempt, "key", key)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		attempts++
		_, lastErr = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	return fmt.Errorf("s3store: put %q after %d attempts: %w", key, attempts, lastErr)
}

// multipartUpload splits data into fixed-size parts and uploads them
// sequentially through S3's multipart API. The repository engine already
// parallelizes across shards/blobs via pkg/repository/async, so a single
// multipart upload does not need its own internal fan-out.
func (s *Store) multipartUpload(ctx context.Context, name string, data []byte) error {
	key := s.key(name)

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3store: create multipart upload for %q: %w", name, err)
	}
	uploadID := created.UploadId

	var completed []types.CompletedPart
	partNumber := int32(1)
	for offset := int64(0); offset < int64(len(data)); offset += s.partSize {
		end := offset + s.partSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}

		var part *s3.UploadPartOutput
		var lastErr error
		for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
			if attempt > 0 {
				backoff := s.calculateBackoff(attempt - 1)
				select {
				case <-ctx.Done():
					_, _ = s.client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
						Bucket: aws.String(s.bucket), Key: aws.String(key), UploadId: uploadID,
					})
					return ctx.Err()
				case <-time.After(backoff):
				}
			}
			part, lastErr = s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(data[offset:end]),
			})
			if lastErr == nil {
				break
			}
			if !isRetryableError(lastErr) {
				break
			}
		}
		if lastErr != nil {
			_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket: aws.String(s.bucket), Key: aws.String(key), UploadId: uploadID,
			})
			return fmt.Errorf("s3store: upload part %d for %q: %w", partNumber, name, lastErr)
		}

		completed = append(completed, types.CompletedPart{
			ETag:       part.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		partNumber++
	}

	if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	}); err != nil {
		_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket: aws.String(s.bucket), Key: aws.String(key), UploadId: uploadID,
		})
		return fmt.Errorf("s3store: complete multipart upload for %q: %w", name, err)
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix string) (map[string]blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]blob.Metadata)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3store: list prefix %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			name := *obj.Key
			if s.keyPrefix != "" && len(name) >= len(s.keyPrefix) {
				name = name[len(s.keyPrefix):]
			}
			size := int64(0)
			if obj.Size != nil {
				size = *obj.Size
			}
			out[name] = blob.Metadata{Length: size}
		}
	}
	return out, nil
}

func (s *Store) DeleteBlobIgnoringMissing(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("s3store: delete %q: %w", name, err)
	}
	return nil
}

// DeleteBlobsIgnoringMissing batches deletions through S3's DeleteObjects
// API, chunking at the 1000-object-per-request limit.
func (s *Store) DeleteBlobsIgnoringMissing(ctx context.Context, names []string) error {
	const maxBatch = 1000

	for i := 0; i < len(names); i += maxBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := i + maxBatch
		if end > len(names) {
			end = len(names)
		}
		batch := names[i:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		for j, name := range batch {
			objects[j] = types.ObjectIdentifier{Key: aws.String(s.key(name))}
		}

		result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3store: batch delete: %w", err)
		}
		if len(result.Errors) > 0 {
			first := result.Errors[0]
			return fmt.Errorf("s3store: batch delete: %d failures, first on key %s: %s",
				len(result.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
