// Package app initializes and holds the long-lived audit services, acting as
// a dependency injection container. It is built once at startup from a
// validated Config and handed to the commands that need it.
package app

import (
	"context"
	"fmt"
	"net/http"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-machine/internal/api"
	archivegcs "github.com/JakeFAU/seo-audit-machine/internal/archive/gcs"
	archivelocal "github.com/JakeFAU/seo-audit-machine/internal/archive/local"
	archivemem "github.com/JakeFAU/seo-audit-machine/internal/archive/memory"
	"github.com/JakeFAU/seo-audit-machine/internal/audit"
	"github.com/JakeFAU/seo-audit-machine/internal/clock/system"
	"github.com/JakeFAU/seo-audit-machine/internal/config"
	"github.com/JakeFAU/seo-audit-machine/internal/crawl"
	"github.com/JakeFAU/seo-audit-machine/internal/engine"
	"github.com/JakeFAU/seo-audit-machine/internal/id/uuid"
	"github.com/JakeFAU/seo-audit-machine/internal/inspect"
	"github.com/JakeFAU/seo-audit-machine/internal/logging"
	"github.com/JakeFAU/seo-audit-machine/internal/progress"
	"github.com/JakeFAU/seo-audit-machine/internal/progress/sinks"
	pubmem "github.com/JakeFAU/seo-audit-machine/internal/publisher/memory"
	pubgcp "github.com/JakeFAU/seo-audit-machine/internal/publisher/pubsub"
	"github.com/JakeFAU/seo-audit-machine/internal/sitemap"
	storemem "github.com/JakeFAU/seo-audit-machine/internal/store/memory"
	storepg "github.com/JakeFAU/seo-audit-machine/internal/store/postgres"
)

// App holds the shared long-lived services for the audit machine.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Store    audit.Store
	Engine   *engine.Engine
	Hub      *progress.Hub
	Registry *prometheus.Registry

	closers []func(context.Context) error
}

// New builds the full service graph from configuration. It fails fast when
// any critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	logger.Info("initializing audit services",
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("archive_backend", cfg.Archive.Backend))

	a := &App{Config: cfg, Logger: logger}
	clk := system.New()
	ids := uuid.New()

	// Store backend.
	switch cfg.Store.Backend {
	case "postgres":
		store, err := storepg.New(ctx, storepg.Config{
			DSN:             cfg.Store.DSN,
			MaxConns:        cfg.Store.MaxConns,
			MinConns:        cfg.Store.MinConns,
			MaxConnLifetime: cfg.StoreConnLifetime(),
		}, ids, clk)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
	case "memory":
		a.Store = storemem.New(ids, clk)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	// Artifact archive (optional).
	var archive audit.BlobStore
	switch cfg.Archive.Backend {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		archive, err = archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("initialize gcs archive: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	case "local":
		archive, err = archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("initialize local archive: %w", err)
		}
	case "memory":
		archive = archivemem.NewBlobStore()
	case "":
		// Archiving disabled.
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}

	// Run-sealed event publisher.
	var publisher audit.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pub, err := pubgcp.New(client)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub publisher: %w", err)
		}
		publisher = pub
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	} else {
		publisher = pubmem.New()
	}

	// Progress pipeline: prometheus + log sinks behind the non-blocking hub.
	a.Registry = prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		return nil, fmt.Errorf("initialize prometheus sink: %w", err)
	}
	a.Hub = progress.NewHub(progress.Config{Logger: logger}, promSink, sinks.NewLogSink(logger))
	a.closers = append(a.closers, a.Hub.Close)

	resolver := sitemap.New(sitemap.Config{
		MaxDepth:     cfg.Sitemap.MaxDepth,
		FetchTimeout: cfg.SitemapFetchTimeout(),
		MaxBodyBytes: cfg.Sitemap.MaxBodyBytes,
		UserAgent:    cfg.Crawler.UserAgent,
	}, nil, archive, logger)

	crawler := crawl.New(crawl.Config{
		MaxDepth:       cfg.Crawler.MaxDepth,
		MaxPages:       cfg.Crawler.MaxPages,
		Concurrency:    cfg.Crawler.Concurrency,
		RequestTimeout: cfg.CrawlTimeout(),
		UserAgent:      cfg.Crawler.UserAgent,
	}, logger)

	// The inspector is optional: without a token only CRAWL_ONLY runs work.
	var inspector *inspect.Inspector
	if cfg.Inspect.Token != "" {
		client := inspect.NewGSCClient(inspect.GSCConfig{Endpoint: cfg.Inspect.Endpoint},
			nil, inspect.StaticTokenSource(cfg.Inspect.Token), archive, logger)
		inspector = inspect.New(client, inspect.Config{
			SustainedRPS: cfg.Inspect.SustainedRPS,
			Burst:        cfg.Inspect.Burst,
			Concurrency:  cfg.Inspect.Concurrency,
		}, nil, nil, clk, logger)
	}

	deps := engine.Deps{
		Store:     a.Store,
		Resolver:  resolver,
		Crawler:   crawler,
		Publisher: publisher,
		Topic:     cfg.PubSub.TopicName,
		Emitter:   a.Hub,
		Clock:     clk,
		Logger:    logger,
	}
	if inspector != nil {
		deps.Inspector = inspector
	}
	eng, err := engine.New(deps)
	if err != nil {
		return nil, fmt.Errorf("initialize engine: %w", err)
	}
	a.Engine = eng
	return a, nil
}

// APIHandler builds the read-only HTTP handler over the audit store.
func (a *App) APIHandler() http.Handler {
	return api.NewServer(a.Store, a.Registry, a.Logger).Handler()
}

// Close releases all held resources in reverse initialization order.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return firstErr
}
