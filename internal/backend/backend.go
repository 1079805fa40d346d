// Package backend opens the snapshot repository selected by the configuration.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/clinic-keeper/internal/config"
	"github.com/and161185/clinic-keeper/internal/crypto"
	"github.com/and161185/clinic-keeper/internal/migrate"
	"github.com/and161185/clinic-keeper/internal/repository"
	"github.com/and161185/clinic-keeper/internal/repository/file"
	"github.com/and161185/clinic-keeper/internal/repository/postgres"
	"github.com/and161185/clinic-keeper/internal/repository/s3"
	"github.com/and161185/clinic-keeper/internal/repository/sqlite"
)

// Open returns the repository for cfg. PostgreSQL is migrated first.
func Open(ctx context.Context, cfg config.Storage, log *zap.Logger) (repository.SnapshotRepository, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var sealer *crypto.Sealer
	if cfg.Passphrase != "" {
		s, err := crypto.NewSealer(cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		sealer = s
	}

	switch cfg.Driver {
	case config.DriverFile:
		var opts []file.Option
		if sealer != nil {
			opts = append(opts, file.WithSealer(sealer))
		}
		log.Info("snapshot storage", zap.String("driver", cfg.Driver), zap.String("path", cfg.Path), zap.Bool("sealed", sealer != nil))
		return file.New(cfg.Path, opts...)

	case config.DriverSQLite:
		log.Info("snapshot storage", zap.String("driver", cfg.Driver), zap.String("path", cfg.Path))
		return sqlite.New(ctx, cfg.Path)

	case config.DriverPostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		log.Info("snapshot storage", zap.String("driver", cfg.Driver), zap.Int("keep", cfg.Keep))
		return postgres.NewSnapshotRepo(db, cfg.Keep), nil

	case config.DriverS3:
		var opts []s3.Option
		if sealer != nil {
			opts = append(opts, s3.WithSealer(sealer))
		}
		log.Info("snapshot storage", zap.String("driver", cfg.Driver),
			zap.String("bucket", cfg.S3.Bucket), zap.String("key", cfg.S3.Key), zap.Bool("sealed", sealer != nil))
		return s3.New(ctx, s3.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Key:             cfg.S3.Key,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		}, opts...)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
