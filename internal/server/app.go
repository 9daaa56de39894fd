// Package server builds the harvester's dependency graph from configuration
// and runs the HTTP control plane.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/api"
	"github.com/JakeFAU/hoops-harvester/internal/catalog"
	"github.com/JakeFAU/hoops-harvester/internal/clock/system"
	"github.com/JakeFAU/hoops-harvester/internal/config"
	"github.com/JakeFAU/hoops-harvester/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/hoops-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/hoops-harvester/internal/fetcher/fallback"
	headlessfetcher "github.com/JakeFAU/hoops-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/hoops-harvester/internal/fetcher/retry"
	"github.com/JakeFAU/hoops-harvester/internal/harvest"
	"github.com/JakeFAU/hoops-harvester/internal/hash/sha256"
	"github.com/JakeFAU/hoops-harvester/internal/id/uuid"
	"github.com/JakeFAU/hoops-harvester/internal/metrics"
	"github.com/JakeFAU/hoops-harvester/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/hoops-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/hoops-harvester/internal/runner"
	"github.com/JakeFAU/hoops-harvester/internal/sink"
	gcsstorage "github.com/JakeFAU/hoops-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/hoops-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/hoops-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/hoops-harvester/internal/storage/postgres"
	"github.com/JakeFAU/hoops-harvester/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	catalog *catalog.Catalog
	manager *runner.Manager

	headless  *headlessfetcher.Opener
	gcsClient *storage.Client
	index     *pgstore.ArtifactIndex
	publisher *gcppublisher.Publisher
}

// Build creates the application's dependencies. Resources acquired before a
// failure are released before Build returns.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	logger.Info("building application dependencies",
		zap.String("fetch_mode", cfg.Crawler.FetchMode),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	plan, err := cfg.Plan()
	if err != nil {
		return nil, err
	}
	selectors, err := cfg.SelectorTable()
	if err != nil {
		return nil, err
	}
	app.catalog, err = catalog.New(cfg.Source, cfg.Output, selectors)
	if err != nil {
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}

	fetcher, err := app.setupFetcher()
	if err != nil {
		return nil, err
	}
	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupIndex(ctx); err != nil {
		return nil, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}

	clock := system.New()
	artifactSink, err := sink.New(app.catalog, blobStore, sha256.New(), clock, cfg.Storage.ContentType)
	if err != nil {
		return nil, fmt.Errorf("artifact sink init failed: %w", err)
	}

	deps := worker.Deps{
		Resolver: app.catalog,
		Fetcher:  fetcher,
		Sink:     artifactSink,
		Clock:    clock,
	}
	// Typed nils would defeat the worker's optional checks.
	if app.index != nil {
		deps.Index = app.index
	}
	if app.publisher != nil {
		deps.Publisher = app.publisher
	}
	w, err := worker.New(deps, worker.Config{
		JobTimeout: cfg.Crawler.JobTimeout,
		Topic:      cfg.PubSub.Topic,
	}, logger.Named("worker"))
	if err != nil {
		return nil, fmt.Errorf("worker init failed: %w", err)
	}

	runStore := memorystorage.NewRunStore()
	d, err := dispatcher.New(w, runStore, clock, dispatcher.Config{
		Workers:   cfg.Crawler.Concurrency,
		QueueSize: cfg.Crawler.QueueDepth,
	}, logger.Named("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}

	app.manager, err = runner.New(d, runStore, uuid.New(), clock, plan, logger.Named("runner"))
	if err != nil {
		return nil, fmt.Errorf("runner init failed: %w", err)
	}
	return app, nil
}

// Catalog returns the resolver built from configuration.
func (a *App) Catalog() *catalog.Catalog {
	return a.catalog
}

// Runs returns the run manager.
func (a *App) Runs() *runner.Manager {
	return a.manager
}

// Serve runs the HTTP control plane until ctx is canceled, then drains
// in-flight runs.
func (a *App) Serve(ctx context.Context) error {
	apiServer := api.NewServer(a.manager, api.Options{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
	}, a.logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var listenErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case listenErr = <-serveErr:
		a.logger.Error("http server error", zap.Error(listenErr))
	}
	apiServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if listenErr != nil {
		errs = append(errs, fmt.Errorf("http server: %w", listenErr))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.manager.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("runner shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases every client the application holds.
func (a *App) Close() {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.index != nil {
		a.index.Close()
	}
}

func (a *App) setupFetcher() (*retry.Engine, error) {
	static := func() harvest.SessionOpener {
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Crawler.UserAgent,
			RespectRobots: a.cfg.HTTP.RespectRobots,
			Timeout:       a.cfg.HTTP.Timeout,
		}, a.logger.Named("colly"))
	}
	headless := func() (harvest.SessionOpener, error) {
		opener, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
			SettleDelay:       a.cfg.Headless.SettleDelay,
			WaitForRule:       a.cfg.Headless.WaitForRule,
			ExecPath:          a.cfg.Headless.ExecPath,
		}, a.logger.Named("chromedp"))
		if err != nil {
			return nil, fmt.Errorf("headless opener init failed: %w", err)
		}
		a.headless = opener
		return opener, nil
	}

	var opener harvest.SessionOpener
	switch a.cfg.Crawler.FetchMode {
	case config.FetchModeStatic:
		opener = static()
	case config.FetchModeHeadless:
		h, err := headless()
		if err != nil {
			return nil, err
		}
		opener = h
	case config.FetchModeAuto:
		h, err := headless()
		if err != nil {
			return nil, err
		}
		opener = fallback.New(static(), h, a.logger.Named("fallback"))
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", a.cfg.Crawler.FetchMode)
	}
	a.logger.Info("session opener ready", zap.String("fetch_mode", a.cfg.Crawler.FetchMode))

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Crawler.RequestsPerSecond,
		DefaultBurst: a.cfg.Crawler.Burst,
	})
	engine, err := retry.New(opener, retry.Config{
		MaxRetries:        a.cfg.Retry.MaxRetries,
		BaseDelay:         a.cfg.Retry.BaseDelay,
		DelayFirstAttempt: a.cfg.Retry.DelayFirstAttempt,
		AttemptTimeout:    a.cfg.Retry.AttemptTimeout,
	}, retry.WithLimiter(limiter), retry.WithLogger(a.logger.Named("retry")))
	if err != nil {
		return nil, fmt.Errorf("retry engine init failed: %w", err)
	}
	return engine, nil
}

func (a *App) setupStorage(ctx context.Context) (harvest.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

func (a *App) setupIndex(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN configured, artifact index disabled")
		return nil
	}
	index, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("artifact index init failed: %w", err)
	}
	a.index = index
	if err := index.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("artifact index schema: %w", err)
	}
	a.logger.Info("artifact index initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		a.logger.Warn("no Pub/Sub topic configured, artifact notifications disabled")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher, err = gcppublisher.New(client)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}
