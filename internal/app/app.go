// Package app assembles the engine and its backends from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maneesh/scatterstore/internal/checksum"
	"github.com/maneesh/scatterstore/internal/config"
	"github.com/maneesh/scatterstore/internal/engine"
	"github.com/maneesh/scatterstore/internal/metadata"
	"github.com/maneesh/scatterstore/internal/storage"
	"github.com/sirupsen/logrus"
)

// App owns every client opened for a process
type App struct {
	Engine   *engine.Service
	Store    metadata.Store
	Registry *storage.Registry

	closers []func() error
	log     logrus.FieldLogger
}

// Build opens the metadata store, the optional cache and every enabled
// provider, then creates the engine. Partially opened clients are closed
// when it fails.
func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (_ *App, err error) {
	a := &App{log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, err := a.openMetadata(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store

	a.Registry, err = storage.NewRegistry()
	if err != nil {
		return nil, err
	}
	if err := a.openProviders(ctx, cfg); err != nil {
		return nil, err
	}

	alg, err := checksum.Parse(cfg.Engine.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithAlgorithm(alg),
		engine.WithChunkVerification(cfg.Engine.VerifyChunks),
	}
	if cfg.Engine.RandomSeed != 0 {
		opts = append(opts, engine.WithSeed(cfg.Engine.RandomSeed))
	}
	a.Engine = engine.NewService(a.Store, a.Registry, opts...)

	log.WithFields(logrus.Fields{
		"providers":     a.Registry.Names(),
		"metadata":      cfg.Metadata.Backend,
		"cache":         cfg.Cache.Enabled,
		"checksum":      alg,
		"verify_chunks": cfg.Engine.VerifyChunks,
	}).Info("Engine ready")
	return a, nil
}

func (a *App) openMetadata(ctx context.Context, cfg *config.Config) (metadata.Store, error) {
	var store metadata.Store

	switch cfg.Metadata.Backend {
	case "tidb":
		a.log.Info("Connecting to TiDB...")
		tidb, err := metadata.NewTiDBStore(cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize TiDB store: %w", err)
		}
		if err := tidb.EnsureSchema(ctx); err != nil {
			_ = tidb.Close()
			return nil, err
		}
		store = tidb
	default:
		if err := ensureParent(cfg.Metadata.SQLitePath); err != nil {
			return nil, err
		}
		sqlite, err := metadata.OpenSQLiteStore(cfg.Metadata.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = sqlite
	}

	if cfg.Cache.Enabled {
		a.log.Info("Connecting to Redis...")
		client, err := metadata.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize Redis client: %w", err)
		}
		store = metadata.NewCachedStore(store, client, a.log)
	}

	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *App) openProviders(ctx context.Context, cfg *config.Config) error {
	p := cfg.Providers

	for _, d := range []config.DiskProviderConfig{p.Filesystem, p.Archive} {
		if !d.Enabled {
			continue
		}
		compression, err := storage.ParseCompression(d.Compression)
		if err != nil {
			return err
		}
		disk, err := storage.NewFilesystemProvider(d.Name, d.Dir, compression)
		if err != nil {
			return err
		}
		if err := a.Registry.Register(disk); err != nil {
			return err
		}
	}

	if p.Database.Enabled {
		if err := ensureParent(p.Database.Path); err != nil {
			return err
		}
		db, err := storage.OpenDatabaseProvider(p.Database.Name, p.Database.Path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if err := a.Registry.Register(db); err != nil {
			return err
		}
	}

	if p.MinIO.Enabled {
		a.log.Info("Connecting to MinIO...")
		minio, err := storage.NewMinioProvider(ctx, p.MinIO.Name, storage.MinioOptions{
			Endpoint:   p.MinIO.Endpoint,
			AccessKey:  p.MinIO.AccessKey,
			SecretKey:  p.MinIO.SecretKey,
			BucketName: p.MinIO.BucketName,
			UseSSL:     p.MinIO.UseSSL,
		}, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize MinIO provider: %w", err)
		}
		if err := a.Registry.Register(minio); err != nil {
			return err
		}
	}

	return nil
}

func ensureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return nil
}

// Close releases every client in reverse order of opening
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
