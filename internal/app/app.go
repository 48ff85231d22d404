// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jobrunner/cddfetch/internal/adapters/archive"
	httpAdapter "github.com/jobrunner/cddfetch/internal/adapters/http"
	"github.com/jobrunner/cddfetch/internal/adapters/metrics"
	"github.com/jobrunner/cddfetch/internal/adapters/mosaic"
	tlsAdapter "github.com/jobrunner/cddfetch/internal/adapters/tls"
	"github.com/jobrunner/cddfetch/internal/adapters/watcher"
	"github.com/jobrunner/cddfetch/internal/application"
	"github.com/jobrunner/cddfetch/internal/catalog"
	"github.com/jobrunner/cddfetch/internal/config"
	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/layout"
	"github.com/jobrunner/cddfetch/internal/manifest"
	"github.com/jobrunner/cddfetch/internal/planner"
	"github.com/jobrunner/cddfetch/internal/portal"
	"github.com/jobrunner/cddfetch/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Index        *catalog.Index
	Gateway      *portal.Gateway
	Planner      *planner.Planner
	Layout       *layout.Manager
	Manifest     *manifest.Store
	FetchService *application.FetchService
	RunManager   *application.RunManager
	HTTPServer   *httpAdapter.Server
	TLSServer    *tlsAdapter.Server
	Watcher      *watcher.Watcher
	Metrics      *metrics.Collector
}

// New creates and initializes a new application. extraProgress, when not
// nil, receives every progress event in addition to the run manager (the
// CLI uses it to print per-tile lines).
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, extraProgress output.ProgressSink) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("cddfetch")
		metricsCollector = app.Metrics
	} else {
		metricsCollector = &output.NoOpMetrics{}
	}

	// Load tile catalogs
	app.Index = catalog.NewIndex()
	if err := app.Index.LoadDir(cfg.Catalog.Dir); err != nil {
		return nil, fmt.Errorf("loading catalogs: %w", err)
	}

	// Load the captured portal session and build the gateway
	session, err := portal.LoadSession(cfg.Session.File)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	app.Gateway = portal.NewGateway(portal.Config{
		BaseURL:    cfg.Portal.BaseURL,
		SearchPath: cfg.Portal.SearchPath,
		Timeout:    cfg.Portal.Timeout,
		Delay:      cfg.Portal.Delay,
		UserAgent:  cfg.Portal.UserAgent,
	}, session, metricsCollector, logger)

	app.Planner = planner.New(app.Index, cfg.Fetch.MaxAreaKm2, logger)
	app.Layout = layout.NewManager(cfg.Output.Root)

	app.Manifest, err = manifest.Open(app.Layout.ManifestPath())
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}

	// Optional mosaic builder
	var mosaicker output.Mosaicker
	if cfg.Mosaic.Enabled {
		builder, err := mosaic.NewBuilder(cfg.Mosaic.Command, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing mosaic builder: %w", err)
		}
		mosaicker = builder
	}

	// Optional archive sink
	var sink output.ArchiveSink
	if cfg.Archive.Enabled {
		sink, err = initArchive(ctx, cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("initializing archive: %w", err)
		}
	}

	// Progress events go to the run manager; the relay breaks the
	// construction cycle between it and the fetch service.
	relay := &progressRelay{}
	var progress output.ProgressSink = relay
	if extraProgress != nil {
		progress = output.MultiProgress{relay, extraProgress}
	}

	app.FetchService = application.NewFetchService(
		app.Gateway,
		app.Layout,
		app.Manifest,
		metricsCollector,
		progress,
		mosaicker,
		sink,
		logger,
	)

	app.RunManager = application.NewRunManager(
		app.Planner,
		app.FetchService,
		application.FetchOptions{MaxAttempts: cfg.Fetch.MaxAttempts},
		logger,
	)
	relay.sink = app.RunManager

	// Initialize HTTP server
	var metricsHandler http.Handler
	var metricsMiddleware func(http.Handler) http.Handler
	if app.Metrics != nil {
		metricsHandler = metrics.Handler()
		metricsMiddleware = app.Metrics.Middleware
	}
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.RunManager,
		app.Index,
		metricsHandler,
		metricsMiddleware,
		cfg.Metrics.Path,
		logger,
	)

	// Initialize TLS server if enabled
	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					ClientID:          cfg.TLS.DNS.ClientID,
				},
			},
			app.HTTPServer.Router(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// Initialize catalog watcher for hot-reload
	if cfg.Catalog.Watch {
		w, err := watcher.New(
			watcher.Config{
				Paths: []string{cfg.Catalog.Dir},
			},
			app.handleCatalogEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize catalog watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start starts all serve-mode components and blocks on the HTTP server.
func (a *App) Start(ctx context.Context) error {
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start catalog watcher", "error", err)
		}
	}

	if a.Config.TLS.Enabled && a.TLSServer != nil {
		return a.TLSServer.ListenAndServe(a.Config.Server.Address())
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	if a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTPS server shutdown error", "error", err)
		}
	} else if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTP server shutdown error", "error", err)
		}
	}

	if a.Manifest != nil {
		if err := a.Manifest.Close(); err != nil {
			a.Logger.Error("manifest close error", "error", err)
		}
	}

	return nil
}

// handleCatalogEvent handles catalog file events for hot-reload.
func (a *App) handleCatalogEvent(_ context.Context, event watcher.Event) error {
	a.Logger.Info("catalog event", "path", event.Path, "operation", event.Operation.String())

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return a.Index.LoadFile(event.Path)

	case watcher.OpDelete:
		// Deleted catalogs stay loaded until the process restarts: tiles
		// already planned must keep resolving.
		return nil
	}

	return nil
}

// progressRelay forwards events to a sink assigned after construction.
type progressRelay struct {
	sink output.ProgressSink
}

func (r *progressRelay) Publish(event domain.ProgressEvent) {
	if r.sink != nil {
		r.sink.Publish(event)
	}
}

// initArchive initializes the configured archive sink.
func initArchive(ctx context.Context, cfg config.ArchiveConfig) (output.ArchiveSink, error) {
	switch cfg.Type {
	case "s3":
		return archive.NewS3Sink(ctx, archive.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return archive.NewAzureSink(archive.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
