// Package upload writes content to an object store and confirms, with
// bounded polling, that the store reflects the new version.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"formrelay/pkg/api"
	"formrelay/pkg/object"

	"github.com/rs/zerolog"
)

// Status is the classification of an upload attempt.
type Status int

const (
	// StatusFailed means the write did not happen or was rejected.
	StatusFailed Status = iota
	// StatusConfirmed means post-write metadata differs from the baseline.
	StatusConfirmed
	// StatusUnconfirmed means the write succeeded but no change was observed
	// within the wait bound.
	StatusUnconfirmed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusUnconfirmed:
		return "unconfirmed"
	default:
		return "failed"
	}
}

// Content is the stream to upload. Size may be -1 when unknown.
type Content struct {
	Body        io.Reader
	Size        int64
	ContentType string
}

// Outcome describes the post-upload state of an object.
type Outcome struct {
	Status Status
	Key    string
	Bucket string
	// Metadata is the confirmed metadata, or for StatusUnconfirmed the last
	// observed metadata, which may be nil.
	Metadata *object.Metadata
	// Baseline is the metadata read before the write, nil when absent.
	Baseline       *object.Metadata
	BucketResolved bool
	// Degraded collects intermediate errors that did not abort the upload.
	Degraded []error
	// Err is the reason for StatusFailed.
	Err     error
	Elapsed time.Duration
}

// Uploader performs verified uploads against a single store. It is safe for
// concurrent use.
type Uploader struct {
	store        object.Store
	strictBucket bool
	log          zerolog.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithStrictBucket makes a failed bucket resolution fail the upload before
// any write is issued.
func WithStrictBucket(strict bool) Option {
	return func(u *Uploader) { u.strictBucket = strict }
}

// WithLogger sets the logger used for upload telemetry.
func WithLogger(l zerolog.Logger) Option {
	return func(u *Uploader) { u.log = l }
}

// New returns an Uploader for store.
func New(store object.Store, opts ...Option) *Uploader {
	u := &Uploader{store: store, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload writes content under key in bucket, then waits up to waitBound for
// the store to report metadata that differs from what it reported before the
// write. The returned error is non-nil only when Status is StatusFailed.
func (u *Uploader) Upload(ctx context.Context, content Content, key, bucket string, waitBound time.Duration) (Outcome, error) {
	start := time.Now()
	out := Outcome{Key: key, Bucket: bucket}

	fail := func(err error) (Outcome, error) {
		out.Status = StatusFailed
		out.Err = err
		out.Elapsed = time.Since(start)
		u.logOutcome(out)
		return out, err
	}

	if key == "" {
		return fail(&api.ValidationError{Field: "key", Reason: "required"})
	}
	if content.Body == nil {
		return fail(&api.ValidationError{Field: "content", Reason: "required"})
	}
	if waitBound < 0 {
		waitBound = 0
	}

	handle, err := u.store.ResolveBucket(ctx, bucket)
	if err != nil {
		if u.strictBucket {
			return fail(fmt.Errorf("resolve bucket %q: %w", bucket, err))
		}
		out.Degraded = append(out.Degraded, fmt.Errorf("resolve bucket %q: %w", bucket, err))
		handle = object.Bucket{Name: bucket}
	}
	out.BucketResolved = handle.Resolved

	baseline, err := u.store.ReadMetadata(ctx, handle, key)
	switch {
	case err == nil:
		out.Baseline = &baseline
	case errors.Is(err, object.ErrNotFound):
	default:
		out.Degraded = append(out.Degraded, fmt.Errorf("read baseline: %w", err))
	}

	if err := u.store.WriteObject(ctx, handle, key, content.Body, content.Size, content.ContentType); err != nil {
		return fail(fmt.Errorf("write %s/%s: %w", bucket, key, err))
	}

	current, err := u.store.WaitForChange(ctx, handle, key, out.Baseline, waitBound)
	out.Metadata = current
	if err == nil && object.Changed(out.Baseline, current) {
		out.Status = StatusConfirmed
	} else {
		out.Status = StatusUnconfirmed
		if err != nil {
			out.Degraded = append(out.Degraded, fmt.Errorf("wait for change: %w", err))
		}
	}
	out.Elapsed = time.Since(start)
	u.logOutcome(out)
	return out, nil
}

func (u *Uploader) logOutcome(out Outcome) {
	var ev *zerolog.Event
	switch out.Status {
	case StatusConfirmed:
		ev = u.log.Info()
	case StatusUnconfirmed:
		ev = u.log.Warn()
	default:
		ev = u.log.Error().Err(out.Err)
	}
	ev = ev.
		Str("bucket", out.Bucket).
		Str("key", out.Key).
		Str("status", out.Status.String()).
		Bool("bucket_resolved", out.BucketResolved).
		Bool("baseline_present", out.Baseline != nil).
		Dur("elapsed", out.Elapsed)
	if out.Metadata != nil {
		ev = ev.Str("etag", out.Metadata.ETag).Int64("size", out.Metadata.Size)
	}
	if len(out.Degraded) > 0 {
		ev = ev.Errs("degraded", out.Degraded)
	}
	ev.Msg("upload finished")
}
