package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"snapshotd/pkg/db"
	"snapshotd/pkg/metrics"
	gos3 "snapshotd/pkg/s3"
	"snapshotd/services/api/internal/config"
	"snapshotd/services/snapshots"
	"snapshotd/services/snapshots/blobstore"
	"snapshotd/services/snapshots/local"
	"snapshotd/services/snapshots/postgres"
	"snapshotd/services/snapshots/redisquota"
)

// runtime holds the stores shared by every long-running command.
type runtime struct {
	cfg      config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	driver      snapshots.Driver
	sqlDB       *sql.DB
	redis       *redisquota.Counter
	shares      *snapshots.ShareStore
	jobs        *snapshots.JobStore
	generations *snapshots.GenerationStore
	quota       *snapshots.Quota
}

func loadConfig(ctx context.Context) (config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, component string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.With().Timestamp().Str("service", "snapshotd").Str("component", component).Logger()
}

func openRuntime(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = metrics.New(rt.registry)

	if err := rt.openDriver(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	var counter snapshots.QuotaCounter = rt.driver
	if cfg.QuotaBackend == "redis" {
		c, err := redisquota.New(redisquota.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("init redis quota: %w", err)
		}
		rt.redis = c
		counter = c
	}

	opts := snapshots.Options{Logger: logger, Metrics: rt.metrics}
	var err error
	if rt.shares, err = snapshots.NewShareStore(rt.driver, cfg.ShareObjectPrefix, opts); err != nil {
		rt.Close()
		return nil, err
	}
	if rt.jobs, err = snapshots.NewJobStore(rt.driver, opts); err != nil {
		rt.Close()
		return nil, err
	}
	if rt.generations, err = snapshots.NewGenerationStore(rt.driver, cfg.GenerationObjectPrefix, opts); err != nil {
		rt.Close()
		return nil, err
	}
	if rt.quota, err = snapshots.NewQuota(counter, opts); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) openDriver(ctx context.Context) error {
	cfg := rt.cfg
	if cfg.StoreDriver == "local" {
		d, err := local.New(cfg.LocalDataDir)
		if err != nil {
			return fmt.Errorf("open local store: %w", err)
		}
		rt.driver = d
		rt.logger.Info().Str("dir", cfg.LocalDataDir).Msg("using local store")
		return nil
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	rt.sqlDB = sqlDB
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, sqlDB); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}
	d, err := postgres.New(sqlDB, blobs)
	if err != nil {
		return err
	}
	rt.driver = d
	rt.logger.Info().Str("blob_backend", cfg.BlobBackend).Str("bucket", cfg.BlobBucket).Msg("using postgres store")
	return nil
}

func openBlobs(ctx context.Context, cfg config.Config) (snapshots.BlobStore, error) {
	switch cfg.BlobBackend {
	case "s3":
		client, err := gos3.NewClientFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("init s3 client: %w", err)
		}
		return blobstore.NewS3(client, cfg.BlobBucket, "")
	case "minio":
		return blobstore.NewMinio(ctx, blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.BlobBucket,
		})
	case "gcs":
		return blobstore.NewGCS(ctx, cfg.BlobBucket, "")
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

// ready backs /readyz.
func (rt *runtime) ready(ctx context.Context) error {
	if rt.sqlDB != nil {
		if err := db.Ping(ctx, rt.sqlDB); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

func (rt *runtime) Close() {
	var errs []error
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.driver != nil {
		errs = append(errs, rt.driver.Close())
	} else if rt.sqlDB != nil {
		errs = append(errs, rt.sqlDB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		rt.logger.Warn().Err(err).Msg("close stores")
	}
}
