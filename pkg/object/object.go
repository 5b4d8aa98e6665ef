// Package object contains the object store capability set used by the
// verified uploader. Implementations include S3-compatible services, MinIO
// and SQLite.
package object

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Metadata describes an object as reported by the store.
type Metadata struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// Bucket is a handle returned by ResolveBucket. An unresolved handle still
// carries the name so writes can be attempted against it.
type Bucket struct {
	Name     string
	Resolved bool
}

// Common errors returned by implementations.
var (
	ErrNotFound       = errors.New("object not found")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrTimeout        = errors.New("object change not observed before deadline")
)

// Lifecycle defines init/teardown behavior.
type Lifecycle interface {
	Init(ctx context.Context, param any) error
	Close(ctx context.Context) error
}

// Store is the capability set the uploader needs from a blob store.
type Store interface {
	Lifecycle
	// ResolveBucket checks the bucket exists. ErrBucketNotFound if it does not.
	ResolveBucket(ctx context.Context, name string) (Bucket, error)
	// ReadMetadata returns ErrNotFound when the object is absent.
	ReadMetadata(ctx context.Context, bucket Bucket, key string) (Metadata, error)
	// WriteObject replaces any existing object unconditionally.
	WriteObject(ctx context.Context, bucket Bucket, key string, r io.Reader, sizeHint int64, contentType string) error
	// WaitForChange blocks until the object's ETag differs from baseline
	// (nil baseline means absent) or bound elapses. On timeout it returns the
	// last observed metadata, possibly nil, together with ErrTimeout.
	WaitForChange(ctx context.Context, bucket Bucket, key string, baseline *Metadata, bound time.Duration) (*Metadata, error)
}

// NormalizeETag strips the quotes S3-compatible services put around ETags.
func NormalizeETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}

// Changed reports whether current is distinguishable from baseline.
// Absence is a distinct state from any present metadata.
func Changed(baseline, current *Metadata) bool {
	switch {
	case baseline == nil && current == nil:
		return false
	case baseline == nil || current == nil:
		return true
	}
	return NormalizeETag(baseline.ETag) != NormalizeETag(current.ETag)
}
