package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"formrelay/pkg/object"
)

func newTestStorage(t *testing.T, cfg Config) *Storage {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "objects.db")
	cfg.Source = fmt.Sprintf("file:%s?cache=shared&mode=rwc", dbPath)

	st := &Storage{}
	if err := st.Init(ctx, cfg); err != nil {
		t.Fatalf("init storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(ctx) })
	return st
}

func TestSQLiteObjectStore(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, Config{Buckets: []string{"discoursio"}})

	bucket, err := st.ResolveBucket(ctx, "discoursio")
	if err != nil {
		t.Fatalf("ResolveBucket: %v", err)
	}
	if !bucket.Resolved {
		t.Fatalf("ResolveBucket: expected resolved handle")
	}

	key := "userpic.png"
	if _, err := st.ReadMetadata(ctx, bucket, key); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("ReadMetadata before write: expected ErrNotFound got %v", err)
	}

	content := []byte("abcdefghijklmnopqrstuvwxyz")
	if err := st.WriteObject(ctx, bucket, key, bytes.NewReader(content), int64(len(content)), "image/png"); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}

	meta, err := st.ReadMetadata(ctx, bucket, key)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.Key != key {
		t.Fatalf("ReadMetadata: expected key %s got %s", key, meta.Key)
	}
	if meta.Size != int64(len(content)) {
		t.Fatalf("ReadMetadata: expected size %d got %d", len(content), meta.Size)
	}
	if meta.ContentType != "image/png" {
		t.Fatalf("ReadMetadata: expected content type image/png got %s", meta.ContentType)
	}
	if meta.ETag != hashETag(content) {
		t.Fatalf("ReadMetadata: expected etag %s got %s", hashETag(content), meta.ETag)
	}
}

func TestSQLiteMissingBucket(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, Config{})

	bucket, err := st.ResolveBucket(ctx, "nope")
	if !errors.Is(err, object.ErrBucketNotFound) {
		t.Fatalf("ResolveBucket: expected ErrBucketNotFound got %v", err)
	}
	if bucket.Resolved || bucket.Name != "nope" {
		t.Fatalf("ResolveBucket: unexpected handle %+v", bucket)
	}

	err = st.WriteObject(ctx, bucket, "k", bytes.NewReader([]byte("x")), 1, "")
	if !errors.Is(err, object.ErrBucketNotFound) {
		t.Fatalf("WriteObject: expected ErrBucketNotFound got %v", err)
	}
}

func TestSQLiteLastWriterWins(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, Config{Buckets: []string{"b"}})
	bucket := object.Bucket{Name: "b"}

	for _, body := range []string{"first", "second", "second"} {
		if err := st.WriteObject(ctx, bucket, "k", bytes.NewReader([]byte(body)), -1, ""); err != nil {
			t.Fatalf("WriteObject(%s): %v", body, err)
		}
	}

	meta, err := st.ReadMetadata(ctx, bucket, "k")
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.ETag != hashETag([]byte("second")) {
		t.Fatalf("expected last write to win, got etag %s", meta.ETag)
	}
}

func TestSQLiteVisibilityDelay(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, Config{
		Buckets:         []string{"b"},
		VisibilityDelay: 150 * time.Millisecond,
		PollBackoff:     &object.Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Factor: 2},
	})
	bucket := object.Bucket{Name: "b"}

	if err := st.WriteObject(ctx, bucket, "k", bytes.NewReader([]byte("v1")), -1, ""); err != nil {
		t.Fatalf("WriteObject v1: %v", err)
	}
	if _, err := st.ReadMetadata(ctx, bucket, "k"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("fresh object should be invisible, got %v", err)
	}

	got, err := st.WaitForChange(ctx, bucket, "k", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForChange v1: %v", err)
	}
	if got.ETag != hashETag([]byte("v1")) {
		t.Fatalf("WaitForChange v1: unexpected etag %s", got.ETag)
	}

	if err := st.WriteObject(ctx, bucket, "k", bytes.NewReader([]byte("v2")), -1, ""); err != nil {
		t.Fatalf("WriteObject v2: %v", err)
	}
	stale, err := st.ReadMetadata(ctx, bucket, "k")
	if err != nil {
		t.Fatalf("ReadMetadata stale: %v", err)
	}
	if stale.ETag != got.ETag {
		t.Fatalf("expected stale v1 while v2 propagates, got %s", stale.ETag)
	}

	fresh, err := st.WaitForChange(ctx, bucket, "k", &stale, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForChange v2: %v", err)
	}
	if fresh.ETag != hashETag([]byte("v2")) {
		t.Fatalf("WaitForChange v2: unexpected etag %s", fresh.ETag)
	}
}

func TestSQLiteWaitTimeout(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t, Config{Buckets: []string{"b"}, VisibilityDelay: time.Hour})
	bucket := object.Bucket{Name: "b"}

	if err := st.WriteObject(ctx, bucket, "k", bytes.NewReader([]byte("v1")), -1, ""); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	got, err := st.WaitForChange(ctx, bucket, "k", nil, 50*time.Millisecond)
	if !errors.Is(err, object.ErrTimeout) {
		t.Fatalf("WaitForChange: expected ErrTimeout got %v", err)
	}
	if got != nil {
		t.Fatalf("WaitForChange: expected no observed metadata, got %+v", got)
	}
}

func TestSQLiteInitValidation(t *testing.T) {
	ctx := context.Background()
	if err := (&Storage{}).Init(ctx, Config{}); err == nil {
		t.Fatalf("expected error for missing source")
	}
	if err := (&Storage{}).Init(ctx, Config{Source: "file::memory:", Table: "bad name"}); err == nil {
		t.Fatalf("expected error for invalid table name")
	}
	if err := (&Storage{}).Init(ctx, 42); err == nil {
		t.Fatalf("expected error for unexpected config type")
	}
}
