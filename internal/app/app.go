// Package app wires configuration into stores and services.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/dergi/internal/cache"
	"github.com/andresuchdata/dergi/internal/config"
	"github.com/andresuchdata/dergi/internal/drive"
	"github.com/andresuchdata/dergi/internal/metrics"
	"github.com/andresuchdata/dergi/internal/processor"
	"github.com/andresuchdata/dergi/internal/repository"
	badgerrepo "github.com/andresuchdata/dergi/internal/repository/badger"
	"github.com/andresuchdata/dergi/internal/repository/postgres"
	"github.com/andresuchdata/dergi/internal/service"
	"github.com/andresuchdata/dergi/internal/storage"
	"github.com/andresuchdata/dergi/pkg/logger"
)

// App holds the long lived dependencies of a process.
type App struct {
	Config   *config.Config
	Store    storage.BlobStore
	Repo     repository.IssueRepository
	Uploads  *service.UploadService
	Issues   *service.IssueService
	Drive    *drive.Service // nil without credentials
	Ingest   *drive.IngestService
	Registry *prometheus.Registry

	closers []func() error
	log     zerolog.Logger
}

// New builds every store and service from cfg. Close releases them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		log:      logger.Component("app"),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.Store = store

	repo, err := a.newRepository(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	issueCache, err := cache.NewIssueCache(cfg.Cache)
	if err != nil {
		a.log.Warn().Err(err).Msg("Redis unavailable, issue cache disabled")
		issueCache = cache.NewNoopIssueCache()
	}
	a.Repo = cache.NewCachedIssueRepository(repo, issueCache)

	m := metrics.New(a.Registry)
	opts := []service.Option{
		service.WithMetrics(m),
		service.WithMaxDepth(cfg.Pipeline.ListMaxDepth),
	}

	images := processor.NewImageProcessor(processor.WebPEncoder{})
	selector := processor.NewSelector(
		processor.NewPDFProcessor(processor.NewPoppler(), processor.WebPEncoder{}),
		images,
	)

	a.Uploads = service.NewUploadService(a.Store, a.Repo, selector, images, service.UploadConfig{
		Concurrency:    cfg.Pipeline.Concurrency,
		MaxUploadBytes: cfg.Pipeline.MaxUploadBytes(),
		TargetHeight:   cfg.Pipeline.PageHeight,
		PageQuality:    cfg.Pipeline.PageQuality,
		CoverQuality:   cfg.Pipeline.CoverQuality,
		MaxPages:       cfg.Pipeline.MaxPages,
		CacheControl:   cfg.Storage.CacheControl,
	}, opts...)
	a.Issues = service.NewIssueService(a.Store, a.Repo, opts...)

	if cfg.Drive.CredentialsJSON != "" {
		d, err := drive.NewService(ctx, cfg.Drive.CredentialsJSON, cfg.Pipeline.MaxUploadBytes())
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Drive = d
		a.Ingest = drive.NewIngestService(d, a.Uploads)
	}

	a.log.Info().
		Str("storage", cfg.Storage.Backend).
		Str("metadata", cfg.Metadata.Backend).
		Bool("cache", cfg.Cache.Enabled).
		Bool("drive", a.Drive != nil).
		Msg("Application wired")

	return a, nil
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryStore(cfg.PublicURL), nil
	case "s3":
		client, err := storage.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, cfg), nil
	case "minio":
		store, err := storage.NewMinioStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx, cfg.Region); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func (a *App) newRepository(cfg *config.Config) (repository.IssueRepository, error) {
	switch cfg.Metadata.Backend {
	case "badger":
		repo, err := badgerrepo.Open(cfg.Metadata.BadgerDir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	case "postgres":
		db, err := postgres.NewDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return postgres.NewIssueRepository(db), nil
	}
	return nil, fmt.Errorf("unknown metadata backend %q", cfg.Metadata.Backend)
}

// Migrate creates the metadata schema when the store needs one.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.Repo.(repository.Migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}

// Close releases stores in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
