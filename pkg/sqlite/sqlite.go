// Package sqlite implements object.Store backed by SQLite.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"formrelay/pkg/object"

	_ "modernc.org/sqlite"
)

// Config defines how the SQLite storage should be initialized.
type Config struct {
	// Source is the DSN/connection string, e.g. file:objects.db?cache=shared.
	Source string
	// Driver name registered with database/sql. Defaults to "sqlite".
	Driver string
	// Table to store objects. Defaults to "objects". Buckets live in
	// "<table>_buckets".
	Table string
	// Buckets are created on Init when missing.
	Buckets []string
	// VisibilityDelay hides a freshly written version from ReadMetadata for
	// the given duration, simulating an eventually consistent store.
	VisibilityDelay time.Duration
	// PollBackoff is used by WaitForChange. Defaults to object.DefaultBackoff.
	PollBackoff *object.Backoff
	// DB lets callers supply an existing *sql.DB connection.
	DB *sql.DB
}

// Storage satisfies object.Store using SQLite tables.
type Storage struct {
	db      *sql.DB
	table   string
	buckets string
	delay   time.Duration
	backoff object.Backoff
	ownsDB  bool
}

// Init configures the storage and ensures the backing tables exist.
func (s *Storage) Init(ctx context.Context, param any) error {
	cfg, ok := param.(Config)
	if !ok {
		if p, ok := param.(*Config); ok && p != nil {
			cfg = *p
		} else {
			return fmt.Errorf("sqlite: unexpected config type %T", param)
		}
	}

	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Table == "" {
		cfg.Table = "objects"
	}
	if cfg.Source == "" && cfg.DB == nil {
		return errors.New("sqlite: Source is required")
	}

	table, err := sanitizeName(cfg.Table)
	if err != nil {
		return err
	}
	s.table = table
	s.buckets = table + "_buckets"
	s.delay = cfg.VisibilityDelay
	s.backoff = object.DefaultBackoff
	if cfg.PollBackoff != nil {
		s.backoff = *cfg.PollBackoff
	}

	if cfg.DB != nil {
		s.db = cfg.DB
	} else {
		db, err := sql.Open(cfg.Driver, cfg.Source)
		if err != nil {
			return fmt.Errorf("sqlite: open database: %w", err)
		}
		// a single connection serializes writers and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
		s.db = db
		s.ownsDB = true
	}

	// previous_* columns hold the version readers see until visible_at
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	)`, s.buckets),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		data BLOB NOT NULL,
		size INTEGER NOT NULL,
		etag TEXT NOT NULL,
		content_type TEXT,
		last_modified TEXT NOT NULL,
		visible_at TEXT NOT NULL,
		previous_size INTEGER,
		previous_etag TEXT,
		previous_content_type TEXT,
		previous_last_modified TEXT,
		PRIMARY KEY (bucket, key)
	)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}

	for _, b := range cfg.Buckets {
		if err := s.CreateBucket(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the DB connection when owned by the storage.
func (s *Storage) Close(_ context.Context) error {
	if s.db != nil && s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// CreateBucket registers a bucket; existing buckets are left untouched.
func (s *Storage) CreateBucket(ctx context.Context, name string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("sqlite: bucket name required")
	}

	query := fmt.Sprintf(`INSERT INTO %s (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`, s.buckets)
	if _, err := s.db.ExecContext(ctx, query, name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("sqlite: create bucket: %w", err)
	}
	return nil
}

// ResolveBucket looks the bucket up in the buckets table.
func (s *Storage) ResolveBucket(ctx context.Context, name string) (object.Bucket, error) {
	if err := s.ensureDB(); err != nil {
		return object.Bucket{Name: name}, err
	}

	query := fmt.Sprintf(`SELECT name FROM %s WHERE name = ?`, s.buckets)
	var found string
	err := s.db.QueryRowContext(ctx, query, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return object.Bucket{Name: name}, fmt.Errorf("sqlite: bucket %q: %w", name, object.ErrBucketNotFound)
	}
	if err != nil {
		return object.Bucket{Name: name}, fmt.Errorf("sqlite: resolve bucket: %w", err)
	}
	return object.Bucket{Name: found, Resolved: true}, nil
}

// ReadMetadata returns the currently visible version of the object.
func (s *Storage) ReadMetadata(ctx context.Context, bucket object.Bucket, key string) (object.Metadata, error) {
	if err := s.ensureDB(); err != nil {
		return object.Metadata{}, err
	}
	return s.readVisible(ctx, s.db, bucket.Name, key)
}

// WriteObject stores the content, replacing any existing version.
func (s *Storage) WriteObject(ctx context.Context, bucket object.Bucket, key string, r io.Reader, _ int64, contentType string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("sqlite: key required")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("sqlite: read content: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	bq := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE name = ?`, s.buckets)
	if err := tx.QueryRowContext(ctx, bq, bucket.Name).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: check bucket: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("sqlite: bucket %q: %w", bucket.Name, object.ErrBucketNotFound)
	}

	// Capture the version readers currently see so a delayed write keeps
	// serving it until visible_at.
	var prev *object.Metadata
	if m, err := s.readVisible(ctx, tx, bucket.Name, key); err == nil {
		prev = &m
	} else if !errors.Is(err, object.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`INSERT INTO %s (bucket, key, data, size, etag, content_type, last_modified, visible_at,
		previous_size, previous_etag, previous_content_type, previous_last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET data=excluded.data, size=excluded.size, etag=excluded.etag,
		content_type=excluded.content_type, last_modified=excluded.last_modified, visible_at=excluded.visible_at,
		previous_size=excluded.previous_size, previous_etag=excluded.previous_etag,
		previous_content_type=excluded.previous_content_type, previous_last_modified=excluded.previous_last_modified`, s.table)

	var prevSize, prevETag, prevType, prevModified any
	if prev != nil {
		prevSize = prev.Size
		prevETag = prev.ETag
		prevType = nullIfEmpty(prev.ContentType)
		prevModified = prev.LastModified.Format(time.RFC3339Nano)
	}

	_, err = tx.ExecContext(ctx, query,
		bucket.Name,
		key,
		data,
		int64(len(data)),
		hashETag(data),
		nullIfEmpty(contentType),
		now.Format(time.RFC3339Nano),
		now.Add(s.delay).Format(time.RFC3339Nano),
		prevSize, prevETag, prevType, prevModified,
	)
	if err != nil {
		return fmt.Errorf("sqlite: write object: %w", err)
	}
	return tx.Commit()
}

// WaitForChange polls ReadMetadata with capped backoff.
func (s *Storage) WaitForChange(ctx context.Context, bucket object.Bucket, key string, baseline *object.Metadata, bound time.Duration) (*object.Metadata, error) {
	return object.Poll(ctx, bound, s.backoff, baseline, func(ctx context.Context) (object.Metadata, error) {
		return s.ReadMetadata(ctx, bucket, key)
	})
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Storage) readVisible(ctx context.Context, q queryRower, bucket, key string) (object.Metadata, error) {
	query := fmt.Sprintf(`SELECT size, etag, content_type, last_modified, visible_at,
		previous_size, previous_etag, previous_content_type, previous_last_modified
		FROM %s WHERE bucket = ? AND key = ?`, s.table)
	var (
		size         int64
		etag         string
		contentType  sql.NullString
		lastModified string
		visibleAt    string
		prevSize     sql.NullInt64
		prevETag     sql.NullString
		prevType     sql.NullString
		prevModified sql.NullString
	)
	err := q.QueryRowContext(ctx, query, bucket, key).Scan(
		&size, &etag, &contentType, &lastModified, &visibleAt,
		&prevSize, &prevETag, &prevType, &prevModified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return object.Metadata{}, object.ErrNotFound
	}
	if err != nil {
		return object.Metadata{}, fmt.Errorf("sqlite: read metadata: %w", err)
	}
	visible, err := time.Parse(time.RFC3339Nano, visibleAt)
	if err != nil {
		return object.Metadata{}, fmt.Errorf("sqlite: parse visible_at: %w", err)
	}
	if time.Now().UTC().Before(visible) {
		if !prevETag.Valid {
			return object.Metadata{}, object.ErrNotFound
		}
		return rowToMetadata(key, prevSize.Int64, prevETag.String, prevType.String, prevModified.String)
	}
	return rowToMetadata(key, size, etag, contentType.String, lastModified)
}

func (s *Storage) ensureDB() error {
	if s.db == nil {
		return errors.New("sqlite: storage not initialized")
	}
	return nil
}

func rowToMetadata(key string, size int64, etag, contentType, lastModified string) (object.Metadata, error) {
	t, err := time.Parse(time.RFC3339Nano, lastModified)
	if err != nil {
		return object.Metadata{}, fmt.Errorf("sqlite: parse last_modified: %w", err)
	}

	return object.Metadata{
		Key:          key,
		Size:         size,
		ETag:         etag,
		ContentType:  contentType,
		LastModified: t,
	}, nil
}

func hashETag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sanitizeName(name string) (string, error) {
	re := regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	if !re.MatchString(name) {
		return "", fmt.Errorf("sqlite: invalid table name %q", name)
	}
	return name, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure Storage implements Store interface.
var _ object.Store = (*Storage)(nil)
