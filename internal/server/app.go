// Package server builds the application's dependencies and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-draw-watcher/internal/api"
	"github.com/JakeFAU/realtime-draw-watcher/internal/archive"
	"github.com/JakeFAU/realtime-draw-watcher/internal/clock/system"
	"github.com/JakeFAU/realtime-draw-watcher/internal/config"
	"github.com/JakeFAU/realtime-draw-watcher/internal/dispatcher"
	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/extractor"
	"github.com/JakeFAU/realtime-draw-watcher/internal/guard"
	"github.com/JakeFAU/realtime-draw-watcher/internal/hash/sha256"
	"github.com/JakeFAU/realtime-draw-watcher/internal/id/uuid"
	"github.com/JakeFAU/realtime-draw-watcher/internal/logging"
	"github.com/JakeFAU/realtime-draw-watcher/internal/metrics"
	memorypublisher "github.com/JakeFAU/realtime-draw-watcher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-draw-watcher/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/realtime-draw-watcher/internal/publisher/redis"
	"github.com/JakeFAU/realtime-draw-watcher/internal/session"
	gcsstorage "github.com/JakeFAU/realtime-draw-watcher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-draw-watcher/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-draw-watcher/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-draw-watcher/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/realtime-draw-watcher/internal/storage/sqlite"
	"github.com/JakeFAU/realtime-draw-watcher/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	clock  draw.Clock
	ids    draw.IDGenerator
	hasher draw.Fingerprinter

	guard      guard.Guard
	events     draw.EventPublisher
	store      draw.RecordStore
	archive    session.Archiver
	extractors draw.ExtractorFactory
	limits     *extractor.HostLimits

	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
	checks    map[string]api.Check

	redisClient     *redis.Client
	pgPool          *pgxpool.Pool
	sqlite          *sqlitestore.RecordStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	gcsClient       *storage.Client
	tracerProvider  *sdktrace.TracerProvider
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}
	app, err := build(ctx, cfg, logger)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	app.tracerProvider = tp
	return app, nil
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		hasher: sha256.New(),
		checks: map[string]api.Check{},
	}
	app.logger.Info("building application dependencies",
		zap.String("guard", cfg.Guard.Backend),
		zap.String("events", cfg.Events.Backend),
		zap.String("store", cfg.Store.Backend),
		zap.String("archive", cfg.Archive.Backend),
	)

	steps := []func(context.Context) error{
		app.setupGuard,
		app.setupEvents,
		app.setupStore,
		app.setupArchive,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.closeInfrastructure()
			return nil, err
		}
	}
	app.limits = extractor.NewHostLimits(cfg.Extract.HostRPS, cfg.Extract.HostBurst)
	app.extractors = newExtractorFactory(cfg, logger, app.limits, "")
	app.dispatch = dispatcher.New(app.buildSession, cfg.Server.History, logger)
	app.apiServer = api.NewServer(app.dispatch, app.clock, cfg, logger.Named("api"), app.checks)
	return app, nil
}

func (a *App) redis(ctx context.Context) (*redis.Client, error) {
	if a.redisClient != nil {
		return a.redisClient, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", a.cfg.Redis.Addr, err)
	}
	a.redisClient = client
	a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	a.logger.Info("redis connected", zap.String("addr", a.cfg.Redis.Addr))
	return client, nil
}

func (a *App) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pgPool != nil {
		return a.pgPool, nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.Postgres.DSN,
		MaxConns:        a.cfg.Postgres.MaxConns,
		MinConns:        a.cfg.Postgres.MinConns,
		MaxConnLifetime: a.cfg.Postgres.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.pgPool = pool
	a.checks["postgres"] = pool.Ping
	a.logger.Info("postgres pool initialized")
	return pool, nil
}

func (a *App) setupGuard(ctx context.Context) error {
	opts := guard.Options{Clock: a.clock, IDs: a.ids}
	switch a.cfg.Guard.Backend {
	case "file":
		g, err := guard.NewFile(a.cfg.Guard.Dir, opts)
		if err != nil {
			return fmt.Errorf("file guard init failed: %w", err)
		}
		a.guard = g
	case "redis":
		client, err := a.redis(ctx)
		if err != nil {
			return fmt.Errorf("redis guard init failed: %w", err)
		}
		a.guard = guard.NewRedis(client, opts)
	case "postgres":
		pool, err := a.postgres(ctx)
		if err != nil {
			return fmt.Errorf("postgres guard init failed: %w", err)
		}
		g, err := guard.NewPostgres(pool, a.cfg.Guard.Table, opts)
		if err != nil {
			return fmt.Errorf("postgres guard init failed: %w", err)
		}
		if err := g.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres guard schema: %w", err)
		}
		a.guard = g
	default:
		a.logger.Warn("using in-memory guard; sessions are exclusive within this process only")
		a.guard = guard.NewMemory(opts)
	}
	return nil
}

func (a *App) setupEvents(ctx context.Context) error {
	switch a.cfg.Events.Backend {
	case "redis":
		client, err := a.redis(ctx)
		if err != nil {
			return fmt.Errorf("redis events init failed: %w", err)
		}
		p, err := redispublisher.New(client)
		if err != nil {
			return fmt.Errorf("redis events init failed: %w", err)
		}
		a.events = p
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubPublisher = client.Publisher(a.cfg.PubSub.TopicName)
		p, err := gcppublisher.New(a.pubsubPublisher)
		if err != nil {
			return fmt.Errorf("pubsub events init failed: %w", err)
		}
		a.events = p
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	default:
		a.logger.Warn("using in-memory event channel; change events are not delivered outside this process")
		a.events = memorypublisher.New()
	}
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case "postgres":
		pool, err := a.postgres(ctx)
		if err != nil {
			return fmt.Errorf("record store init failed: %w", err)
		}
		s, err := pgstore.NewRecordStore(pool, a.cfg.Store.Table)
		if err != nil {
			return fmt.Errorf("record store init failed: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("record store schema: %w", err)
		}
		a.store = s
	case "sqlite":
		s, err := sqlitestore.Open(a.cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.sqlite = s
		if err := s.Migrate(ctx); err != nil {
			return fmt.Errorf("sqlite store migrate: %w", err)
		}
		a.store = s
		a.checks["store"] = s.Ping
		a.logger.Info("sqlite store opened", zap.String("path", a.cfg.Store.SQLitePath))
	default:
		a.logger.Warn("using in-memory record store; records are lost on exit")
		a.store = memorystorage.NewRecordStore()
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	var blobs draw.BlobStore
	switch a.cfg.Archive.Backend {
	case "local":
		s, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return fmt.Errorf("local archive init failed: %w", err)
		}
		blobs = s
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		s, err := gcsstorage.New(ctx, client, gcsstorage.Config{
			Bucket:       a.cfg.Archive.Bucket,
			Prefix:       a.cfg.Archive.Prefix,
			VerifyBucket: true,
		})
		if err != nil {
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		blobs = s
	default:
		return nil
	}
	a.archive = archive.New(blobs)
	a.logger.Info("final records will be archived", zap.String("backend", a.cfg.Archive.Backend))
	return nil
}

// buildSession is the dispatcher's session builder.
func (a *App) buildSession(req dispatcher.Request) (dispatcher.Runner, error) {
	return a.newSession(req, a.extractors)
}

func (a *App) newSession(req dispatcher.Request, extractors draw.ExtractorFactory) (*session.Session, error) {
	f, _, err := a.cfg.Family(req.Family)
	if err != nil {
		return nil, err
	}
	date := req.Date
	if date.IsZero() {
		date = draw.Today(a.clock.Now(), f.Location)
	}
	sc := a.cfg.Session
	return session.New(session.Config{
		Family:               f,
		Date:                 date,
		Regions:              req.Regions,
		IterationTimeout:     sc.IterationTimeout,
		FinalizeTimeout:      sc.FinalizeTimeout,
		MaxConsecutiveErrors: sc.MaxConsecutiveErrors,
		CheckpointEvery:      sc.CheckpointEvery,
		PublishWholeFields:   sc.PublishWholeFields,
		SnapshotTTL:          sc.SnapshotTTL,
		LockStaleAfter:       a.cfg.Guard.StaleAfter,
	}, session.Deps{
		Extractors: extractors,
		Events:     a.events,
		Store:      a.store,
		Hasher:     a.hasher,
		Guard:      a.guard,
		Archive:    a.archive,
		Clock:      a.clock,
		IDs:        a.ids,
		Logger:     a.logger,
	})
}

// RunOnce runs a single session in the foreground. A non-empty frames path
// replays recorded frames instead of the configured extractor.
func (a *App) RunOnce(ctx context.Context, req dispatcher.Request, frames string) (session.Result, error) {
	extractors := a.extractors
	if frames != "" {
		extractors = newExtractorFactory(a.cfg, a.logger, a.limits, frames)
	}
	s, err := a.newSession(req, extractors)
	if err != nil {
		return session.Result{}, fmt.Errorf("build session: %w", err)
	}
	res, err := s.Run(ctx)
	if err != nil {
		return res, fmt.Errorf("session %s: %w", s.ID(), err)
	}
	return res, nil
}

// Run starts the HTTP server and dispatcher and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan error, 1)
	go func() {
		a.logger.Info("dispatcher started")
		dispatchDone <- a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	// Running sessions finalize before their stores are closed.
	select {
	case err := <-dispatchDone:
		if err != nil {
			a.logger.Error("dispatcher shutdown error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		a.logger.Warn("sessions did not finalize before the shutdown timeout")
	}

	return a.Close()
}

// Handler exposes the HTTP handler for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Dispatcher returns the session dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Close gracefully shuts down the application.
func (a *App) Close() error {
	a.closeInfrastructure()
	if a.tracerProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		// Syncing stderr/stdout fails on some platforms; nothing else to do.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("sqlite store close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}
