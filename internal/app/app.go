// Package app builds the collector's long-lived services from configuration
// and owns their shutdown. Both the one-shot CLI and the HTTP service start
// from an App.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/browser"
	chromedplauncher "github.com/JakeFAU/polmsg-collector/internal/browser/chromedp"
	staticlauncher "github.com/JakeFAU/polmsg-collector/internal/browser/static"
	"github.com/JakeFAU/polmsg-collector/internal/clock/system"
	"github.com/JakeFAU/polmsg-collector/internal/config"
	"github.com/JakeFAU/polmsg-collector/internal/coordinator"
	"github.com/JakeFAU/polmsg-collector/internal/delivery"
	"github.com/JakeFAU/polmsg-collector/internal/export"
	"github.com/JakeFAU/polmsg-collector/internal/id/uuid"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
	"github.com/JakeFAU/polmsg-collector/internal/pagination"
	"github.com/JakeFAU/polmsg-collector/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/polmsg-collector/internal/publisher/pubsub"
	"github.com/JakeFAU/polmsg-collector/internal/session"
	gcsstorage "github.com/JakeFAU/polmsg-collector/internal/storage/gcs"
	"github.com/JakeFAU/polmsg-collector/internal/storage/httpapi"
	localstorage "github.com/JakeFAU/polmsg-collector/internal/storage/local"
	memorystorage "github.com/JakeFAU/polmsg-collector/internal/storage/memory"
	pgstore "github.com/JakeFAU/polmsg-collector/internal/storage/postgres"
	"github.com/JakeFAU/polmsg-collector/internal/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// ReadyCheck reports whether a dependency can serve requests.
type ReadyCheck func(ctx context.Context) error

type closer struct {
	name string
	fn   func() error
}

// App holds the services shared by every run.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	coordinator *coordinator.Coordinator
	runs        ingest.RunStore
	ids         ingest.IDGenerator
	clock       ingest.Clock

	checks  map[string]ReadyCheck
	closers []closer
}

// Coordinator returns the run coordinator.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coordinator }

// Runs returns the run store.
func (a *App) Runs() ingest.RunStore { return a.runs }

// IDs returns the shared id generator.
func (a *App) IDs() ingest.IDGenerator { return a.ids }

// Clock returns the shared clock.
func (a *App) Clock() ingest.Clock { return a.clock }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// ReadyChecks returns the dependency checks registered while building.
func (a *App) ReadyChecks() map[string]ReadyCheck {
	out := make(map[string]ReadyCheck, len(a.checks))
	for name, check := range a.checks {
		out[name] = check
	}
	return out
}

// Build creates the application's dependencies. Anything opened before a
// failure is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(),
		checks: make(map[string]ReadyCheck),
	}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	logger.Info("building application dependencies",
		zap.String("browser_backend", cfg.Browser.Backend),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("export_backend", cfg.Export.Backend),
		zap.Bool("pubsub_enabled", cfg.PubSub.Enabled),
	)

	if err := app.setupTelemetry(ctx); err != nil {
		return nil, err
	}

	ingestor, err := app.setupStore(ctx)
	if err != nil {
		return nil, err
	}

	exporter, err := app.setupExporter(ctx)
	if err != nil {
		return nil, err
	}

	notifier, err := app.setupNotifier(ctx)
	if err != nil {
		return nil, err
	}

	controller, err := app.setupController()
	if err != nil {
		return nil, err
	}

	orchestrator := delivery.New(ingestor, delivery.Config{
		BatchSize:      cfg.Delivery.BatchSize,
		MaxRetries:     cfg.Delivery.MaxRetries,
		BaseDelay:      time.Duration(cfg.Delivery.BackoffBaseMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Delivery.BackoffMaxMs) * time.Millisecond,
		RateLimitDelay: time.Duration(cfg.Delivery.RateLimitDelaySeconds) * time.Second,
		BatchPause:     time.Duration(cfg.Delivery.BatchPauseMs) * time.Millisecond,
	}, logger.Named("delivery"), delivery.WithClock(app.clock))

	coordCfg, err := coordinatorConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts := []coordinator.Option{
		coordinator.WithIDGenerator(app.ids),
		coordinator.WithClock(app.clock),
	}
	if exporter != nil {
		opts = append(opts, coordinator.WithExporter(exporter))
	}
	if notifier != nil {
		opts = append(opts, coordinator.WithNotifier(notifier))
	}
	app.coordinator = coordinator.New(controller, orchestrator, coordCfg, logger.Named("coordinator"), opts...)

	logger.Info("application dependencies built")
	return app, nil
}

// Close releases every resource opened by Build in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupTelemetry(ctx context.Context) error {
	cfg := a.cfg.Telemetry
	if !cfg.Enabled {
		return nil
	}
	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.Endpoint,
		Headers:     cfg.Headers,
		SampleRatio: cfg.SampleRatio,
	}, a.logger.Named("telemetry"))
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}
	a.onClose("tracer provider", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		return tel.Shutdown(ctx)
	})
	return nil
}

func (a *App) setupStore(ctx context.Context) (ingest.Ingestor, error) {
	cfg := a.cfg.Store
	switch cfg.Driver {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres pool init failed: %w", err)
		}
		a.onClose("postgres pool", func() error {
			pool.Close()
			return nil
		})
		messages, err := pgstore.NewMessageStore(pool, cfg.Table,
			pgstore.WithIDGenerator(a.ids),
			pgstore.WithClock(a.clock),
		)
		if err != nil {
			return nil, fmt.Errorf("message store init failed: %w", err)
		}
		if err := messages.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("message store schema: %w", err)
		}
		runs, err := pgstore.NewRunStore(pool, cfg.RunTable)
		if err != nil {
			return nil, fmt.Errorf("run store init failed: %w", err)
		}
		if err := runs.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("run store schema: %w", err)
		}
		a.runs = runs
		a.checks["postgres"] = messages.Ping
		a.logger.Info("using postgres store",
			zap.String("table", cfg.Table),
			zap.String("run_table", cfg.RunTable),
		)
		return messages, nil
	case "http":
		client, err := httpapi.New(httpapi.Config{
			BaseURL: cfg.APIBaseURL,
			APIKey:  cfg.APIKey,
			Timeout: time.Duration(cfg.APITimeoutSeconds) * time.Second,
		}, a.logger.Named("ingest_api"))
		if err != nil {
			return nil, fmt.Errorf("ingest api client init failed: %w", err)
		}
		a.runs = memorystorage.NewRunStore()
		a.checks["ingest_api"] = client.Ping
		a.logger.Info("using ingest API store", zap.String("base_url", cfg.APIBaseURL))
		return client, nil
	default:
		a.runs = memorystorage.NewRunStore()
		a.logger.Info("using in-memory store")
		return memorystorage.NewMessageStore(a.ids), nil
	}
}

func (a *App) setupExporter(ctx context.Context) (*export.Exporter, error) {
	cfg := a.cfg.Export
	var blobs ingest.BlobStore
	switch cfg.Backend {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Bucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose("gcs client", store.Close)
		blobs = store
		a.logger.Info("exporting snapshots to GCS", zap.String("bucket", cfg.Bucket))
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = store
		a.logger.Info("exporting snapshots to disk", zap.String("path", cfg.BaseDir))
	case "memory":
		blobs = memorystorage.NewBlobStore()
		a.logger.Info("exporting snapshots in memory")
	default:
		a.logger.Info("snapshot export disabled")
		return nil, nil
	}
	return export.New(blobs, cfg.Prefix, a.logger.Named("export")), nil
}

func (a *App) setupNotifier(ctx context.Context) (ingest.Publisher, error) {
	cfg := a.cfg.PubSub
	if !cfg.Enabled {
		a.logger.Info("run notifications disabled")
		return nil, nil
	}
	pub, err := gcppublisher.Open(ctx, cfg.ProjectID, cfg.Topic, a.logger.Named("pubsub"))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.onClose("pubsub publisher", pub.Close)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return pub, nil
}

func (a *App) setupController() (*session.Controller, error) {
	cfg := a.cfg.Browser
	var launcher browser.Launcher
	switch cfg.Backend {
	case "static":
		launcher = staticlauncher.New(staticlauncher.Config{Timeout: cfg.NavigationTimeout()})
		a.logger.Info("using static page backend")
	default:
		l, err := chromedplauncher.New(chromedplauncher.Config{
			Headless:          cfg.Headless,
			ExecPath:          cfg.ExecPath,
			Stealth:           cfg.Stealth,
			MaxParallel:       a.cfg.Scrape.Workers,
			NavigationTimeout: cfg.NavigationTimeout(),
		}, a.logger.Named("chromedp"))
		if err != nil {
			return nil, fmt.Errorf("chromedp launcher init failed: %w", err)
		}
		launcher = l
		a.logger.Info("using chromedp page backend",
			zap.Bool("headless", cfg.Headless),
			zap.Bool("stealth", cfg.Stealth),
		)
	}

	opts := []session.Option{session.WithClock(a.clock)}
	if cfg.NavigationRPS > 0 {
		opts = append(opts, session.WithPacer(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.NavigationRPS,
			DefaultBurst: cfg.NavigationBurst,
		})))
	}
	if cfg.Seed != 0 {
		opts = append(opts, session.WithRand(rand.New(rand.NewSource(cfg.Seed)))) //nolint:gosec // profile jitter
	}
	return session.NewController(launcher, session.NewDetector(0), a.logger.Named("session"), opts...), nil
}

func coordinatorConfig(cfg config.Config) (coordinator.Config, error) {
	viewports, err := cfg.Browser.ParsedViewports()
	if err != nil {
		return coordinator.Config{}, fmt.Errorf("parse viewports: %w", err)
	}
	return coordinator.Config{
		AntiDetection: session.AntiDetection{
			UserAgents:        cfg.Browser.UserAgents,
			Viewports:         viewports,
			Locales:           cfg.Browser.Locales,
			Timezones:         cfg.Browser.Timezones,
			NavigationTimeout: cfg.Browser.NavigationTimeout(),
			LoadDelay:         cfg.Scrape.LoadDelay(),
			EmptyBodyWait:     cfg.Browser.EmptyBodyWait(),
		},
		Pagination: pagination.Config{
			MaxRecords:        cfg.Scrape.MaxRecords,
			MaxScrollAttempts: cfg.Scrape.MaxScrollAttempts,
			StallThreshold:    cfg.Scrape.StallThreshold,
			ScrollDelay:       cfg.Scrape.ScrollDelay(),
			LoadTimeout:       time.Duration(cfg.Scrape.LoadTimeoutSeconds) * time.Second,
			MaxDuration:       cfg.Scrape.MaxRunDuration(),
		},
		BatchSize:      cfg.Delivery.BatchSize,
		SourceName:     cfg.Scrape.SourceName,
		IncludeReplies: cfg.Scrape.IncludeReplies,
		IncludeReposts: cfg.Scrape.IncludeReposts,
		DateLimitDays:  cfg.Scrape.DateLimitDays,
		Concurrency:    cfg.Scrape.Workers,
	}, nil
}
