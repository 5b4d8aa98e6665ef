// Package minio implements object.Store with the MinIO client. It works
// with MinIO and any S3-compatible provider the MinIO SDK supports.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"formrelay/pkg/api"
	"formrelay/pkg/object"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds MinIO connection details.
type Config struct {
	Endpoint  string // host:port, no scheme
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	// PollBackoff is used by WaitForChange. Defaults to object.DefaultBackoff.
	PollBackoff *object.Backoff
}

// Storage implements object.Store using minio-go.
type Storage struct {
	client  *minio.Client
	backoff object.Backoff
}

// Init creates the MinIO client. No request is issued until first use.
func (s *Storage) Init(_ context.Context, param any) error {
	cfg, ok := param.(Config)
	if !ok {
		if p, ok := param.(*Config); ok && p != nil {
			cfg = *p
		} else {
			return fmt.Errorf("minio: unexpected config type %T", param)
		}
	}
	if cfg.Endpoint == "" {
		return errors.New("minio: Endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return errors.New("minio: AccessKey and SecretKey are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return fmt.Errorf("minio: create client: %w", err)
	}

	s.client = client
	s.backoff = object.DefaultBackoff
	if cfg.PollBackoff != nil {
		s.backoff = *cfg.PollBackoff
	}
	return nil
}

// Close is a no-op; the MinIO client holds no resources that need release.
func (s *Storage) Close(_ context.Context) error {
	return nil
}

// ResolveBucket checks BucketExists.
func (s *Storage) ResolveBucket(ctx context.Context, name string) (object.Bucket, error) {
	if err := s.ensureClient(); err != nil {
		return object.Bucket{Name: name}, err
	}

	exists, err := s.client.BucketExists(ctx, name)
	if err != nil {
		return object.Bucket{Name: name}, mapError("BucketExists", err)
	}
	if !exists {
		return object.Bucket{Name: name}, fmt.Errorf("minio: bucket %q: %w", name, object.ErrBucketNotFound)
	}
	return object.Bucket{Name: name, Resolved: true}, nil
}

// ReadMetadata issues StatObject.
func (s *Storage) ReadMetadata(ctx context.Context, bucket object.Bucket, key string) (object.Metadata, error) {
	if err := s.ensureClient(); err != nil {
		return object.Metadata{}, err
	}

	info, err := s.client.StatObject(ctx, bucket.Name, key, minio.StatObjectOptions{})
	if err != nil {
		return object.Metadata{}, mapError("StatObject", err)
	}
	return infoToMetadata(info), nil
}

// WriteObject streams r with PutObject. sizeHint may be -1 when the size is
// unknown; MinIO then buffers parts in memory.
func (s *Storage) WriteObject(ctx context.Context, bucket object.Bucket, key string, r io.Reader, sizeHint int64, contentType string) error {
	if err := s.ensureClient(); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, bucket.Name, key, r, sizeHint, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
			return fmt.Errorf("minio: bucket %q: %w", bucket.Name, object.ErrBucketNotFound)
		}
		return mapError("PutObject", err)
	}
	return nil
}

// WaitForChange polls StatObject with capped backoff.
func (s *Storage) WaitForChange(ctx context.Context, bucket object.Bucket, key string, baseline *object.Metadata, bound time.Duration) (*object.Metadata, error) {
	if err := s.ensureClient(); err != nil {
		return nil, err
	}
	return object.Poll(ctx, bound, s.backoff, baseline, func(ctx context.Context) (object.Metadata, error) {
		return s.ReadMetadata(ctx, bucket, key)
	})
}

func (s *Storage) ensureClient() error {
	if s.client == nil {
		return errors.New("minio: client not initialized")
	}
	return nil
}

func infoToMetadata(info minio.ObjectInfo) object.Metadata {
	return object.Metadata{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         object.NormalizeETag(info.ETag),
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return object.ErrNotFound
	}
	if resp.StatusCode == http.StatusNotFound {
		return object.ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &api.TransportError{Service: "minio", Op: op, Err: err}
}

// Ensure Storage implements Store interface.
var _ object.Store = (*Storage)(nil)
