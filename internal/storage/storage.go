// Package storage opens the object store backend selected by configuration.
package storage

import (
	"context"
	"fmt"

	"formrelay/internal/config"
	"formrelay/pkg/minio"
	"formrelay/pkg/object"
	"formrelay/pkg/s3compat"
	"formrelay/pkg/sqlite"

	"github.com/rs/zerolog/log"
)

// Open creates and initializes the configured store. For the sqlite driver
// the buckets listed in seed are created so local setups work out of the box.
// The caller owns the store and must Close it.
func Open(ctx context.Context, cfg config.StorageConfig, seed ...string) (object.Store, error) {
	var (
		store object.Store
		param any
	)

	switch cfg.Driver {
	case "s3", "r2":
		log.Info().Str("driver", cfg.Driver).Msg("using S3-compatible object storage backend")
		store = &s3compat.Storage{}
		param = s3compat.Config{
			AccountID:        cfg.S3AccountID,
			AccessKey:        cfg.S3AccessKey,
			SecretAccessKey:  cfg.S3SecretKey,
			Region:           cfg.S3Region,
			EndpointOverride: cfg.S3Endpoint,
			UsePathStyle:     cfg.S3PathStyle,
		}
	case "minio":
		log.Info().Str("endpoint", cfg.MinioEndpoint).Msg("using MinIO object storage backend")
		store = &minio.Storage{}
		param = minio.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		}
	case "sqlite":
		log.Info().Str("source", cfg.SQLiteSource).Msg("using SQLite object storage backend")
		store = &sqlite.Storage{}
		param = sqlite.Config{
			Source:          cfg.SQLiteSource,
			Buckets:         seed,
			VisibilityDelay: cfg.SQLiteVisibilityDelay,
		}
	default:
		return nil, fmt.Errorf("storage: unknown backend driver %q", cfg.Driver)
	}

	if err := store.Init(ctx, param); err != nil {
		return nil, fmt.Errorf("storage: init %s: %w", cfg.Driver, err)
	}
	return store, nil
}
