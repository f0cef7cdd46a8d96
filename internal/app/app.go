// Package app assembles the archive gateway: object store, cache
// layers, format registry, planner, invalidator, and HTTP server.
package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/megfs/meg/internal/api"
	"github.com/megfs/meg/internal/cache"
	"github.com/megfs/meg/internal/config"
	"github.com/megfs/meg/internal/format"
	"github.com/megfs/meg/internal/invalidator"
	"github.com/megfs/meg/internal/metrics"
	"github.com/megfs/meg/internal/mimetype"
	"github.com/megfs/meg/internal/planner"
	"github.com/megfs/meg/internal/store"
)

// memoryCacheSize bounds the default in-memory provider.
const memoryCacheSize = 5000

// Options overrides the concrete collaborators the app builds by
// default. Tests inject fakes here.
type Options struct {
	// Store replaces the S3 adapter.
	Store store.ObjectStore
	// CacheProvider replaces the in-memory provider.
	CacheProvider cache.Provider
	// Notifications switches the invalidator from polling to push.
	Notifications <-chan invalidator.BucketNotification
	// PollInterval overrides the invalidator poll period. Zero uses
	// the default.
	PollInterval time.Duration
}

// App owns every long-lived component of the gateway.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	metrics     *metrics.Registry
	caches      *cache.Layers
	registry    *format.Registry
	planner     *planner.Planner
	invalidator *invalidator.Invalidator
	server      *api.Server

	notifications <-chan invalidator.BucketNotification
}

// New wires the application from a validated config.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	st := opts.Store
	if st == nil {
		bucket, err := cfg.ResolveBucket()
		if err != nil {
			return nil, err
		}
		st, err = store.NewS3(store.S3Config{
			Bucket:    bucket,
			Endpoint:  endpointFor(cfg),
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
	}

	provider := opts.CacheProvider
	if provider == nil {
		provider = cache.NewMemory(memoryCacheSize)
	}
	caches := cache.NewLayers(provider)

	reg := metrics.NewRegistry()
	formats := format.NewRegistry()
	pl := planner.New(st, caches, formats, mimetype.Stdlib{}, reg, logger)
	iv := invalidator.New(st, caches, pl, opts.PollInterval, reg, logger)

	srv := api.NewServer(api.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		ForceDownload: cfg.Server.ForceDownload,
		APIKey:        cfg.Server.APIKey,
	}, pl, reg, logger)

	return &App{
		cfg:           cfg,
		logger:        logger,
		metrics:       reg,
		caches:        caches,
		registry:      formats,
		planner:       pl,
		invalidator:   iv,
		server:        srv,
		notifications: opts.Notifications,
	}, nil
}

// endpointFor returns the custom endpoint to dial, or empty for plain
// AWS. An s3:// URL names only the bucket, not an endpoint.
func endpointFor(cfg *config.Config) string {
	if strings.HasPrefix(cfg.S3.URL, "s3://") {
		return ""
	}
	return cfg.S3.URL
}

// Registry exposes the format registry so callers can register custom
// formats before Run.
func (a *App) Registry() *format.Registry {
	return a.registry
}

// Caches exposes the cache layers, mainly for tests and diagnostics.
func (a *App) Caches() *cache.Layers {
	return a.caches
}

// Run starts the invalidator and the HTTP server and blocks until ctx
// is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.invalidator.Run(ctx, a.notifications)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return a.server.Shutdown(shutdownCtx)
}
