// Package s3compat implements object.Store for S3-compatible services
// (AWS S3, Cloudflare R2, Storj gateway).
package s3compat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"formrelay/pkg/api"
	"formrelay/pkg/object"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Config holds S3 connection details.
type Config struct {
	// AccountID builds the Cloudflare R2 endpoint when EndpointOverride is empty.
	AccountID        string
	AccessKey        string
	SecretAccessKey  string
	Region           string
	EndpointOverride string
	UsePathStyle     bool
	// WaitMinDelay and WaitMaxDelay bound the delay between HeadObject
	// attempts in WaitForChange. Default 200ms and 1s.
	WaitMinDelay time.Duration
	WaitMaxDelay time.Duration
}

// Storage implements object.Store for S3-compatible services.
type Storage struct {
	client   *s3.Client
	minDelay time.Duration
	maxDelay time.Duration
}

// Init bootstraps the S3 client using static credentials.
func (s *Storage) Init(ctx context.Context, param any) error {
	cfg, ok := param.(Config)
	if !ok {
		if p, ok := param.(*Config); ok && p != nil {
			cfg = *p
		} else {
			return fmt.Errorf("s3: unexpected config type %T", param)
		}
	}

	if cfg.AccountID == "" && cfg.EndpointOverride == "" {
		return errors.New("s3: AccountID or EndpointOverride required")
	}
	if cfg.AccessKey == "" || cfg.SecretAccessKey == "" {
		return errors.New("s3: AccessKey and SecretAccessKey are required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	if cfg.WaitMinDelay <= 0 {
		cfg.WaitMinDelay = 200 * time.Millisecond
	}
	if cfg.WaitMaxDelay < cfg.WaitMinDelay {
		cfg.WaitMaxDelay = max(time.Second, cfg.WaitMinDelay)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return fmt.Errorf("s3: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		base := cfg.EndpointOverride
		if base == "" {
			base = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
		}
		o.BaseEndpoint = aws.String(base)
		o.UsePathStyle = cfg.UsePathStyle
	})

	s.client = client
	s.minDelay = cfg.WaitMinDelay
	s.maxDelay = cfg.WaitMaxDelay
	return nil
}

// Close cleans up resources; no-op for S3.
func (s *Storage) Close(_ context.Context) error {
	return nil
}

// ResolveBucket issues HeadBucket.
func (s *Storage) ResolveBucket(ctx context.Context, name string) (object.Bucket, error) {
	if err := s.ensureClient(); err != nil {
		return object.Bucket{Name: name}, err
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err != nil {
		if isNotFound(err) || statusCode(err) == http.StatusForbidden {
			return object.Bucket{Name: name}, fmt.Errorf("s3: bucket %q: %w", name, object.ErrBucketNotFound)
		}
		return object.Bucket{Name: name}, mapError("HeadBucket", err)
	}
	return object.Bucket{Name: name, Resolved: true}, nil
}

// ReadMetadata issues HeadObject.
func (s *Storage) ReadMetadata(ctx context.Context, bucket object.Bucket, key string) (object.Metadata, error) {
	if err := s.ensureClient(); err != nil {
		return object.Metadata{}, err
	}

	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket.Name),
		Key:    aws.String(key),
	})
	if err != nil {
		return object.Metadata{}, mapError("HeadObject", err)
	}
	return headToMetadata(key, resp), nil
}

// WriteObject uploads the full object body with PutObject.
func (s *Storage) WriteObject(ctx context.Context, bucket object.Bucket, key string, r io.Reader, sizeHint int64, contentType string) error {
	if err := s.ensureClient(); err != nil {
		return err
	}

	// the SDK needs a seekable body to sign the payload over plain HTTP
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("s3: read content: %w", err)
		}
		body = bytes.NewReader(data)
		sizeHint = int64(len(data))
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket.Name),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if sizeHint >= 0 {
		input.ContentLength = aws.Int64(sizeHint)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("s3: bucket %q: %w", bucket.Name, object.ErrBucketNotFound)
		}
		return mapError("PutObject", err)
	}
	return nil
}

// WaitForChange runs the SDK's ObjectExists waiter with a retry rule that
// keeps waiting while the object is absent, still carries the baseline
// ETag, or HEAD fails. The last HEAD error is reported with ErrTimeout.
func (s *Storage) WaitForChange(ctx context.Context, bucket object.Bucket, key string, baseline *object.Metadata, bound time.Duration) (*object.Metadata, error) {
	if err := s.ensureClient(); err != nil {
		return nil, err
	}
	if bound <= 0 {
		m, err := s.ReadMetadata(ctx, bucket, key)
		if errors.Is(err, object.ErrNotFound) {
			return nil, object.ErrTimeout
		}
		if err != nil {
			return nil, err
		}
		if object.Changed(baseline, &m) {
			return &m, nil
		}
		return &m, object.ErrTimeout
	}

	var (
		last    *object.Metadata
		lastErr error
	)
	waiter := s3.NewObjectExistsWaiter(s.client, func(o *s3.ObjectExistsWaiterOptions) {
		o.MinDelay = s.minDelay
		o.MaxDelay = s.maxDelay
		o.Retryable = func(ctx context.Context, in *s3.HeadObjectInput, out *s3.HeadObjectOutput, err error) (bool, error) {
			if err != nil {
				if isNotFound(err) {
					last = nil
					return true, nil
				}
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return false, err
				}
				// keep polling; the error only surfaces if the bound runs out
				lastErr = mapError("HeadObject", err)
				return true, nil
			}
			m := headToMetadata(key, out)
			last = &m
			return !object.Changed(baseline, last), nil
		}
	})

	out, err := waiter.WaitForOutput(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket.Name),
		Key:    aws.String(key),
	}, bound)
	if err == nil {
		m := headToMetadata(key, out)
		return &m, nil
	}
	if ctx.Err() != nil {
		return last, ctx.Err()
	}
	if lastErr != nil {
		return last, fmt.Errorf("%w (last read error: %v)", object.ErrTimeout, lastErr)
	}
	return last, fmt.Errorf("%w: %v", object.ErrTimeout, err)
}

func (s *Storage) ensureClient() error {
	if s.client == nil {
		return errors.New("s3: client not initialized")
	}
	return nil
}

func headToMetadata(key string, resp *s3.HeadObjectOutput) object.Metadata {
	return object.Metadata{
		Key:          key,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         object.NormalizeETag(aws.ToString(resp.ETag)),
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: aws.ToTime(resp.LastModified),
	}
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch strings.ToLower(apiErr.ErrorCode()) {
		case "nosuchkey", "notfound", "nosuchbucket", "404":
			return true
		}
	}
	return statusCode(err) == http.StatusNotFound
}

func statusCode(err error) int {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return object.ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &api.TransportError{Service: "s3", Op: op, Err: err}
}

// Ensure Storage implements Store interface.
var _ object.Store = (*Storage)(nil)
