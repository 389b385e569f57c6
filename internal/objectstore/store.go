// Package objectstore reads and writes objects in an S3 bucket under the retry engine.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/jzx17/bffkit/internal/config"
	"github.com/jzx17/bffkit/internal/logging"
	"github.com/jzx17/bffkit/pkg/result"
	"github.com/jzx17/bffkit/pkg/retry"
	"github.com/jzx17/bffkit/pkg/types"
)

// RetryProfile is the config profile read by the CLI for storage calls
const RetryProfile = "storage"

const defaultConcurrency = 8

// DefaultRetryConfig retries three times with a growing pause
func DefaultRetryConfig() config.RetryConfig {
	return config.RetryConfig{Retries: 3, DelayMs: 200, ExponentialBackoff: true}
}

// Store proxies object reads and writes to one bucket
type Store struct {
	api         API
	bucket      string
	executor    *retry.Executor
	retry       config.RetryConfig
	concurrency int
	logger      *slog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithExecutor sets the retry executor
func WithExecutor(executor *retry.Executor) Option {
	return func(s *Store) {
		s.executor = executor
	}
}

// WithRetryConfig sets budget and timing of storage retries
func WithRetryConfig(rc config.RetryConfig) Option {
	return func(s *Store) {
		s.retry = rc
	}
}

// WithConcurrency limits parallel requests issued by GetMany
func WithConcurrency(n int) Option {
	return func(s *Store) {
		s.concurrency = n
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store for bucket
func New(api API, bucket string, opts ...Option) (*Store, error) {
	if api == nil {
		return nil, errors.New("objectstore: s3 api is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("objectstore: bucket is required: %w", types.ErrInvalidInput)
	}

	s := &Store{
		api:         api,
		bucket:      bucket,
		retry:       DefaultRetryConfig(),
		concurrency: defaultConcurrency,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	if s.executor == nil {
		s.executor = retry.NewExecutor()
	}
	s.logger = logging.OrDiscard(s.logger).With("bucket", bucket)

	return s, nil
}

// Get downloads the object stored under key
func (s *Store) Get(ctx context.Context, key string) result.Result[[]byte] {
	if key == "" {
		return result.Fail[[]byte](fmt.Errorf("get: empty key: %w", types.ErrInvalidInput))
	}

	policy := config.PolicyFor[[]byte](s.retry).WithRetryOnError(retry.IsTransient)
	body, err := retry.ExecuteWithName(s.executor, ctx, "objectstore.get", policy, func(ctx context.Context) ([]byte, error) {
		out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, classify(err)
		}
		defer out.Body.Close()

		data, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %w", types.ErrUpstream, err)
		}
		return data, nil
	})

	return result.Wrap(result.Of(body, err), "get "+key)
}

// Put uploads body under key and returns the ETag of the stored object
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) result.Result[string] {
	if key == "" {
		return result.Fail[string](fmt.Errorf("put: empty key: %w", types.ErrInvalidInput))
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	policy := config.PolicyFor[string](s.retry).WithRetryOnError(retry.IsTransient)
	etag, err := retry.ExecuteWithName(s.executor, ctx, "objectstore.put", policy, func(ctx context.Context) (string, error) {
		out, err := s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return "", classify(err)
		}
		return aws.ToString(out.ETag), nil
	})

	r := result.Wrap(result.Of(etag, err), "put "+key)
	if r.IsOk() {
		s.logger.Debug("object stored", "key", key, "size", len(body))
	}
	return r
}

// GetMany downloads keys in parallel. The first failure cancels the rest and is returned.
func (s *Store) GetMany(ctx context.Context, keys []string) result.Result[map[string][]byte] {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var mu sync.Mutex
	objects := make(map[string][]byte, len(keys))

	for _, key := range keys {
		g.Go(func() error {
			body, err := s.Get(gctx, key).Get()
			if err != nil {
				return err
			}

			mu.Lock()
			objects[key] = body
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result.Fail[map[string][]byte](err)
	}
	return result.Ok(objects)
}

// classify maps S3 failures onto the shared sentinels
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %w", types.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %w", types.ErrNotFound, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %w", types.ErrUnauthorized, err)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return types.Transient(fmt.Errorf("%w: %w", types.ErrRateLimited, err), time.Second)
		case "InvalidArgument", "InvalidRequest", "EntityTooLarge", "KeyTooLongError":
			return fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
		}
	}

	var httpErr *awshttp.ResponseError
	if errors.As(err, &httpErr) {
		switch status := httpErr.HTTPStatusCode(); {
		case status == http.StatusNotFound:
			return fmt.Errorf("%w: %w", types.ErrNotFound, err)
		case status == http.StatusForbidden || status == http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", types.ErrUnauthorized, err)
		case status == http.StatusTooManyRequests:
			return types.Transient(fmt.Errorf("%w: %w", types.ErrRateLimited, err), time.Second)
		}
	}

	return fmt.Errorf("%w: %w", types.ErrUpstream, err)
}
