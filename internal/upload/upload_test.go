package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"formrelay/pkg/api"
	"formrelay/pkg/object"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type version struct {
	meta      object.Metadata
	visibleAt time.Time
	prev      *version
}

// fakeStore is an eventually consistent in-memory store. Each write becomes
// visible to ReadMetadata after delay; until then readers see the previous
// version.
type fakeStore struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]*version
	delay   time.Duration
	etagFn  func([]byte) string

	resolveErr error
	readErr    error
	writeErr   error

	resolves, reads, writes, waits int
	written                        []string
}

func newFakeStore(buckets ...string) *fakeStore {
	f := &fakeStore{buckets: map[string]bool{}, objects: map[string]*version{}}
	for _, b := range buckets {
		f.buckets[b] = true
	}
	return f
}

func (f *fakeStore) Init(context.Context, any) error { return nil }
func (f *fakeStore) Close(context.Context) error     { return nil }

func (f *fakeStore) ResolveBucket(_ context.Context, name string) (object.Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if f.resolveErr != nil {
		return object.Bucket{Name: name}, f.resolveErr
	}
	if !f.buckets[name] {
		return object.Bucket{Name: name}, object.ErrBucketNotFound
	}
	return object.Bucket{Name: name, Resolved: true}, nil
}

func (f *fakeStore) ReadMetadata(_ context.Context, bucket object.Bucket, key string) (object.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return object.Metadata{}, f.readErr
	}
	v := f.objects[bucket.Name+"/"+key]
	for v != nil && time.Now().Before(v.visibleAt) {
		v = v.prev
	}
	if v == nil {
		return object.Metadata{}, object.ErrNotFound
	}
	return v.meta, nil
}

func (f *fakeStore) WriteObject(_ context.Context, bucket object.Bucket, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.written = append(f.written, string(data))
	if f.writeErr != nil {
		return f.writeErr
	}
	etag := f.etag(data)
	now := time.Now()
	k := bucket.Name + "/" + key
	f.objects[k] = &version{
		meta: object.Metadata{
			Key: key, Size: int64(len(data)), ETag: etag,
			ContentType: contentType, LastModified: now,
		},
		visibleAt: now.Add(f.delay),
		prev:      f.objects[k],
	}
	return nil
}

func (f *fakeStore) WaitForChange(ctx context.Context, bucket object.Bucket, key string, baseline *object.Metadata, bound time.Duration) (*object.Metadata, error) {
	f.mu.Lock()
	f.waits++
	f.mu.Unlock()
	backoff := object.Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Factor: 2}
	return object.Poll(ctx, bound, backoff, baseline, func(ctx context.Context) (object.Metadata, error) {
		return f.ReadMetadata(ctx, bucket, key)
	})
}

func (f *fakeStore) etag(data []byte) string {
	if f.etagFn != nil {
		return f.etagFn(data)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (f *fakeStore) counts() (resolves, reads, writes, waits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolves, f.reads, f.writes, f.waits
}

func content(s string) Content {
	return Content{Body: strings.NewReader(s), Size: int64(len(s)), ContentType: "image/png"}
}

func TestUpload_EndToEnd(t *testing.T) {
	store := newFakeStore("discoursio")
	store.delay = 200 * time.Millisecond
	store.etagFn = func([]byte) string { return "h2" }
	u := New(store)

	out, err := u.Upload(context.Background(), content("abc"), "userpic.png", "discoursio", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, out.Status)
	require.NotNil(t, out.Metadata)
	assert.Equal(t, "h2", out.Metadata.ETag)
	assert.Nil(t, out.Baseline)
	assert.True(t, out.BucketResolved)
	assert.Empty(t, out.Degraded)
	assert.Less(t, out.Elapsed, 2*time.Second)
}

func TestUpload_NewHashConfirmed(t *testing.T) {
	store := newFakeStore("b")
	u := New(store)
	ctx := context.Background()

	first, err := u.Upload(ctx, content("h1 content"), "k", "b", time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, first.Status)

	store.delay = 100 * time.Millisecond
	second, err := u.Upload(ctx, content("h2 content"), "k", "b", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, second.Status)
	require.NotNil(t, second.Baseline)
	assert.Equal(t, first.Metadata.ETag, second.Baseline.ETag)
	assert.NotEqual(t, second.Baseline.ETag, second.Metadata.ETag)
	assert.Equal(t, store.etag([]byte("h2 content")), second.Metadata.ETag)
}

func TestUpload_IdenticalContentUnconfirmed(t *testing.T) {
	store := newFakeStore("b")
	u := New(store)
	ctx := context.Background()

	_, err := u.Upload(ctx, content("same"), "k", "b", time.Second)
	require.NoError(t, err)

	out, err := u.Upload(ctx, content("same"), "k", "b", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusUnconfirmed, out.Status)
	require.NotNil(t, out.Metadata)
	assert.Equal(t, out.Baseline.ETag, out.Metadata.ETag)
	require.Len(t, out.Degraded, 1)
	assert.ErrorIs(t, out.Degraded[0], object.ErrTimeout)
}

func TestUpload_Idempotent(t *testing.T) {
	once := newFakeStore("b")
	twice := newFakeStore("b")
	ctx := context.Background()

	_, err := New(once).Upload(ctx, content("payload"), "k", "b", time.Second)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := New(twice).Upload(ctx, content("payload"), "k", "b", 50*time.Millisecond)
		require.NoError(t, err)
	}

	a, err := once.ReadMetadata(ctx, object.Bucket{Name: "b"}, "k")
	require.NoError(t, err)
	b, err := twice.ReadMetadata(ctx, object.Bucket{Name: "b"}, "k")
	require.NoError(t, err)
	assert.Equal(t, a.ETag, b.ETag)
	assert.Equal(t, a.Size, b.Size)
	assert.Len(t, twice.objects, 1)
}

func TestUpload_TimeoutBound(t *testing.T) {
	store := newFakeStore("b")
	store.delay = time.Hour
	u := New(store)

	bound := 150 * time.Millisecond
	start := time.Now()
	out, err := u.Upload(context.Background(), content("slow"), "k", "b", bound)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, StatusUnconfirmed, out.Status)
	assert.Nil(t, out.Metadata)
	assert.GreaterOrEqual(t, elapsed, bound)
	assert.Less(t, elapsed, bound+200*time.Millisecond)
}

func TestUpload_WriteFailureSkipsPolling(t *testing.T) {
	store := newFakeStore("b")
	store.writeErr = &api.TransportError{Service: "s3", Op: "PutObject", Err: errors.New("access denied")}
	u := New(store)

	out, err := u.Upload(context.Background(), content("x"), "k", "b", time.Second)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	var terr *api.TransportError
	assert.ErrorAs(t, err, &terr)
	assert.ErrorAs(t, out.Err, &terr)

	_, reads, writes, waits := store.counts()
	assert.Equal(t, 1, writes)
	assert.Equal(t, 0, waits)
	assert.Equal(t, 1, reads, "only the baseline read")
}

func TestUpload_MissingBucketTolerant(t *testing.T) {
	store := newFakeStore()
	u := New(store)

	out, err := u.Upload(context.Background(), content("x"), "k", "ghost", 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, out.BucketResolved)
	require.NotEmpty(t, out.Degraded)
	assert.ErrorIs(t, out.Degraded[0], object.ErrBucketNotFound)
	assert.Equal(t, StatusConfirmed, out.Status, "outcome follows the write and polling steps")

	_, _, writes, _ := store.counts()
	assert.Equal(t, 1, writes)
}

func TestUpload_MissingBucketStrict(t *testing.T) {
	store := newFakeStore()
	u := New(store, WithStrictBucket(true))

	out, err := u.Upload(context.Background(), content("x"), "k", "ghost", time.Second)
	require.ErrorIs(t, err, object.ErrBucketNotFound)
	assert.Equal(t, StatusFailed, out.Status)

	_, reads, writes, waits := store.counts()
	assert.Zero(t, reads)
	assert.Zero(t, writes)
	assert.Zero(t, waits)
}

func TestUpload_BaselineReadErrorIsDegraded(t *testing.T) {
	store := newFakeStore("b")
	store.readErr = &api.TransportError{Service: "s3", Op: "HeadObject", Err: errors.New("timeout")}
	u := New(store)

	out, err := u.Upload(context.Background(), content("x"), "k", "b", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusUnconfirmed, out.Status)
	assert.Nil(t, out.Baseline)
	require.Len(t, out.Degraded, 2)
	var terr *api.TransportError
	assert.ErrorAs(t, out.Degraded[0], &terr)
	assert.ErrorIs(t, out.Degraded[1], object.ErrTimeout)
}

func TestUpload_Validation(t *testing.T) {
	store := newFakeStore("b")
	u := New(store)
	var verr *api.ValidationError

	out, err := u.Upload(context.Background(), content("x"), "", "b", time.Second)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "key", verr.Field)
	assert.Equal(t, StatusFailed, out.Status)

	_, err = u.Upload(context.Background(), Content{}, "k", "b", time.Second)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)

	resolves, reads, writes, waits := store.counts()
	assert.Zero(t, resolves+reads+writes+waits)
}

func TestUpload_ConcurrentCallers(t *testing.T) {
	store := newFakeStore("b")
	store.delay = 20 * time.Millisecond
	u := New(store)

	var wg sync.WaitGroup
	outs := make([]Outcome, 8)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := bytes.Repeat([]byte{byte('a' + i)}, i+1)
			out, err := u.Upload(context.Background(), Content{Body: bytes.NewReader(body), Size: int64(len(body))}, "shared", "b", time.Second)
			assert.NoError(t, err)
			outs[i] = out
		}(i)
	}
	wg.Wait()

	_, _, writes, _ := store.counts()
	assert.Equal(t, len(outs), writes)

	time.Sleep(2 * store.delay)
	final, err := store.ReadMetadata(context.Background(), object.Bucket{Name: "b"}, "shared")
	require.NoError(t, err)
	last := store.written[len(store.written)-1]
	assert.Equal(t, store.etag([]byte(last)), final.ETag, "last writer wins")
	for _, out := range outs {
		assert.NotEqual(t, StatusFailed, out.Status)
	}
}

func TestUpload_ParentCancel(t *testing.T) {
	store := newFakeStore("b")
	store.delay = time.Hour
	u := New(store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := u.Upload(ctx, content("x"), "k", "b", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusUnconfirmed, out.Status)
	assert.Less(t, out.Elapsed, 2*time.Second)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "confirmed", StatusConfirmed.String())
	assert.Equal(t, "unconfirmed", StatusUnconfirmed.String())
	assert.Equal(t, "failed", StatusFailed.String())
}
