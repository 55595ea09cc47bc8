// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/api"
	"github.com/JakeFAU/article-forge/internal/article"
	"github.com/JakeFAU/article-forge/internal/clock/system"
	"github.com/JakeFAU/article-forge/internal/config"
	"github.com/JakeFAU/article-forge/internal/enhancer"
	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/hash/sha256"
	"github.com/JakeFAU/article-forge/internal/logging"
	"github.com/JakeFAU/article-forge/internal/pipeline"
	"github.com/JakeFAU/article-forge/internal/providers/httpapi"
	"github.com/JakeFAU/article-forge/internal/providers/research"
	"github.com/JakeFAU/article-forge/internal/providers/transcript"
	"github.com/JakeFAU/article-forge/internal/providers/writer"
	memorypublisher "github.com/JakeFAU/article-forge/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/article-forge/internal/publisher/pubsub"
	"github.com/JakeFAU/article-forge/internal/runner"
	"github.com/JakeFAU/article-forge/internal/scheduler"
	gcsstorage "github.com/JakeFAU/article-forge/internal/storage/gcs"
	localstorage "github.com/JakeFAU/article-forge/internal/storage/local"
	memorystorage "github.com/JakeFAU/article-forge/internal/storage/memory"
	pgstore "github.com/JakeFAU/article-forge/internal/storage/postgres"
	"github.com/JakeFAU/article-forge/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	runner         *runner.Runner
	scheduler      *scheduler.Scheduler
	pool           *pgxpool.Pool
	storage        *storage.Client
	pubsub         *gcppublisher.Publisher
	tracerShutdown telemetry.ShutdownFunc
}

type stores struct {
	jobs  forge.JobStore
	posts forge.PostStore
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Only non-sensitive fields are logged.
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend"`
		Postgres       bool   `json:"postgres"`
		PubSub         bool   `json:"pubsub"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
		Postgres:       cfg.DB.DSN != "",
		PubSub:         cfg.PubSub.ProjectID != "",
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close stops background work and releases clients. The runner finishes the
// job in flight unless ctx ends first.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	if a.runner != nil && a.runner.Stop() {
		if h, ok := a.runner.Current(); ok {
			if err := h.Wait(ctx); err != nil {
				a.logger.Warn("runner did not stop in time", zap.Error(err))
			}
		}
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	_, app.tracerShutdown, err = telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	st, err := setupDatabase(ctx, app)
	if err != nil {
		return nil, err
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	repairer := article.NewRepairer(cfg.Repair(), st.posts, article.WithLogger(logger.Named("repair")))
	transcriber, researcher, writerSvc := setupProviders(app)

	deps := pipeline.Deps{
		Posts:     st.posts,
		Research:  researcher,
		Writer:    writerSvc,
		Repairer:  repairer,
		Blobs:     blobStore,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     clock,
	}
	if transcriber != nil {
		deps.Transcript = transcriber
	}
	pipe, err := pipeline.New(deps, cfg.Pipeline, logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	app.runner = runner.New(st.jobs, pipe, clock, cfg.Runner, logger.Named("runner"))

	var enh *enhancer.Enhancer
	if cfg.Enhancer.Enabled {
		enh = enhancer.New(
			st.posts,
			researcher,
			writerSvc.WithAssistant(cfg.Providers.Writer.EnhancerAssistantID),
			repairer,
			pipe,
			clock,
			cfg.Enhancer.Config,
			logger.Named("enhancer"),
		)
	}

	var batcher scheduler.Batcher
	if enh != nil {
		batcher = enh
	}
	app.scheduler, err = scheduler.New(cfg.Scheduler, app.runner, batcher, logger.Named("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	apiDeps := api.Deps{
		Jobs:      st.jobs,
		Posts:     st.posts,
		Runner:    app.runner,
		Generator: pipe,
		Archive:   pipe,
		Clock:     clock,
		Ready:     map[string]api.Check{},
	}
	if enh != nil {
		apiDeps.Enhancer = enh
	}
	if app.pool != nil {
		apiDeps.Ready["postgres"] = app.pool.Ping
	}
	app.apiServer = api.NewServer(apiDeps, *cfg, logger.Named("api"))

	return app, nil
}

func setupDatabase(ctx context.Context, app *App) (stores, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory job and post stores")
		jobs := memorystorage.NewJobStore()
		return stores{jobs: jobs, posts: memorystorage.NewPostStore(jobs)}, nil
	}
	var err error
	app.pool, err = pgstore.NewPool(ctx, app.cfg.DB)
	if err != nil {
		return stores{}, fmt.Errorf("postgres init failed: %w", err)
	}
	jobs, err := pgstore.NewJobStore(app.pool)
	if err != nil {
		return stores{}, fmt.Errorf("job store init failed: %w", err)
	}
	posts, err := pgstore.NewPostStore(app.pool)
	if err != nil {
		return stores{}, fmt.Errorf("post store init failed: %w", err)
	}
	app.logger.Info("postgres stores initialized", zap.Bool("migrated", app.cfg.DB.Migrate))
	return stores{jobs: jobs, posts: posts}, nil
}

func setupStorage(ctx context.Context, app *App) (forge.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobStore, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (forge.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" || app.cfg.PubSub.TopicName == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsub, err = gcppublisher.Dial(ctx, gcppublisher.Config{
		ProjectID: app.cfg.PubSub.ProjectID,
		Topic:     app.cfg.PubSub.TopicName,
		Source:    app.cfg.PubSub.Source,
		EventType: app.cfg.PubSub.EventType,
	}, gcppublisher.WithLogger(app.logger.Named("pubsub")))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsub, nil
}

// setupProviders builds the provider services. A provider without an API key
// gets no client, so the transcript service is omitted and research degrades.
func setupProviders(app *App) (*transcript.Service, *research.Service, *writer.Service) {
	cfg := app.cfg
	connect := cfg.Providers.ConnectTimeout

	var transcriber *transcript.Service
	if p := cfg.Providers.Transcript; p.APIKey != "" {
		client := newProviderClient("supadata", p.ProviderConfig, connect, app.logger,
			httpapi.WithHeader("x-api-key", p.APIKey))
		transcriber = transcript.NewService(client, cfg.TranscriptService(), app.logger.Named("transcript"))
	} else {
		app.logger.Warn("transcript provider has no api key, URL generation is disabled")
	}

	var researchAPI research.API
	if p := cfg.Providers.Research; p.APIKey != "" {
		researchAPI = newProviderClient("parallel", p.ProviderConfig, connect, app.logger,
			httpapi.WithHeader("x-api-key", p.APIKey))
	} else {
		app.logger.Warn("research provider has no api key, research will be skipped")
	}
	researcher := research.NewService(researchAPI, cfg.ResearchService(), app.logger.Named("research"))

	var writerAPI writer.API
	if p := cfg.Providers.Writer; p.APIKey != "" {
		writerAPI = newProviderClient("openai", p.ProviderConfig, connect, app.logger,
			httpapi.WithHeader("Authorization", "Bearer "+p.APIKey),
			httpapi.WithHeader("OpenAI-Beta", "assistants=v2"))
	} else {
		app.logger.Warn("writer provider has no api key, generation will fail")
	}
	writerSvc := writer.NewService(writerAPI, cfg.WriterService(), app.logger.Named("writer"))

	return transcriber, researcher, writerSvc
}

func newProviderClient(
	name string,
	p config.ProviderConfig,
	connectTimeout time.Duration,
	logger *zap.Logger,
	opts ...httpapi.ClientOption,
) *httpapi.Client {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = httpapi.DefaultTimeout
	}
	base := []httpapi.ClientOption{
		httpapi.WithHTTPClient(&http.Client{Timeout: timeout, Transport: httpapi.NewTransport(connectTimeout)}),
		httpapi.WithLogger(logger.Named(name)),
	}
	if p.RateLimit > 0 {
		base = append(base, httpapi.WithRateLimit(p.RateLimit))
	}
	return httpapi.NewClient(name, p.BaseURL, append(base, opts...)...)
}
