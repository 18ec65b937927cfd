package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/molehq/molesearch-backend/internal/clients/redisconn"
	"github.com/molehq/molesearch-backend/internal/config"
	"github.com/molehq/molesearch-backend/internal/enrich"
	"github.com/molehq/molesearch-backend/internal/http/handlers"
	"github.com/molehq/molesearch-backend/internal/http/middleware"
	"github.com/molehq/molesearch-backend/internal/objectstore"
	"github.com/molehq/molesearch-backend/internal/observability"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/search"
	"github.com/molehq/molesearch-backend/internal/search/elastic"
	"github.com/molehq/molesearch-backend/internal/server"
	"github.com/molehq/molesearch-backend/internal/services"
	"github.com/molehq/molesearch-backend/internal/tasks"
	"github.com/molehq/molesearch-backend/internal/worker"
)

// App owns every long-lived component. The server and worker binaries
// wire the same core; only the outermost piece differs.
type App struct {
	Log      *logger.Logger
	Cfg      *config.Config
	Redis    *redis.Client
	Store    tasks.Store
	Manager  *tasks.Manager
	Pipeline *enrich.Pipeline
	Engine   search.Engine

	Server *server.Server
	Worker *worker.Worker

	otelShutdown func(context.Context) error
	closers      []func() error
}

// NewServer wires the HTTP serving side: core plus services, handlers
// and the router.
func NewServer(ctx context.Context, cfg *config.Config) (*App, error) {
	a, err := newCore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	searchSvc, err := services.NewSearchService(a.Log, a.Engine, a.Pipeline, a.Manager)
	if err != nil {
		return nil, a.failInit(err)
	}
	authSvc, err := services.NewAuthService(a.Log, a.Store, cfg.Security.Auth)
	if err != nil {
		return nil, a.failInit(err)
	}
	apiKeySvc, err := services.NewAPIKeyService(a.Log, a.Store)
	if err != nil {
		return nil, a.failInit(err)
	}

	fileHandler, err := a.buildFileHandler(ctx)
	if err != nil {
		return nil, a.failInit(err)
	}

	srv, err := server.New(a.Log, cfg.Server.Addr(), server.RouterConfig{
		Log:            a.Log,
		CORSOrigins:    cfg.Server.CORSOrigins,
		ServiceName:    cfg.Observability.ServiceName,
		Tracing:        cfg.Observability.Enable,
		AuthMiddleware: middleware.NewAuthMiddleware(a.Log, authSvc, apiKeySvc),
		HealthHandler:  handlers.NewHealthHandler(a.Store),
		SearchHandler:  handlers.NewSearchHandler(a.Log, searchSvc),
		DataHandler:    handlers.NewDataHandler(a.Log, searchSvc),
		TaskHandler:    handlers.NewTaskHandler(a.Log, a.Manager),
		AuthHandler:    handlers.NewAuthHandler(a.Log, authSvc),
		APIKeyHandler:  handlers.NewAPIKeyHandler(a.Log, apiKeySvc),
		FileHandler:    fileHandler,
	})
	if err != nil {
		return nil, a.failInit(err)
	}
	a.Server = srv
	return a, nil
}

// NewWorker wires the task-processing side.
func NewWorker(ctx context.Context, cfg *config.Config) (*App, error) {
	a, err := newCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	w, err := worker.New(a.Log, a.Manager, a.Pipeline, a.Engine, cfg.Worker.CheckInterval())
	if err != nil {
		return nil, a.failInit(err)
	}
	a.Worker = w
	return a, nil
}

func newCore(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logMode := "development"
	if cfg.Server.Mode == "release" {
		logMode = "production"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Log: log, Cfg: cfg}
	a.otelShutdown = observability.InitOTel(ctx, log, cfg.Observability)

	client, err := redisconn.New(ctx, log, cfg.TaskStore)
	if err != nil {
		return nil, a.failInit(fmt.Errorf("init redis: %w", err))
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)

	store, err := tasks.NewRedisStore(log, client)
	if err != nil {
		return nil, a.failInit(err)
	}
	a.Store = store

	manager, err := tasks.NewManager(log, store, cfg.TaskStore.TaskTTL())
	if err != nil {
		return nil, a.failInit(err)
	}
	a.Manager = manager

	pipeline, pipelineClose, err := enrich.Build(ctx, log, cfg.Extractor)
	if err != nil {
		return nil, a.failInit(fmt.Errorf("init enrichment pipeline: %w", err))
	}
	a.Pipeline = pipeline
	if pipelineClose != nil {
		a.closers = append(a.closers, pipelineClose)
	}

	engine, err := elastic.NewEngine(log, elastic.Config{
		BaseURL:       cfg.SearchEngine.Elasticsearch.BaseURL(),
		Index:         cfg.SearchEngine.Elasticsearch.Index,
		Username:      cfg.SearchEngine.Elasticsearch.Username,
		Password:      cfg.SearchEngine.Elasticsearch.Password,
		Timeout:       cfg.SearchEngine.Elasticsearch.Timeout(),
		MaxRetries:    cfg.SearchEngine.Elasticsearch.MaxRetries,
		BatchSize:     cfg.SearchEngine.Elasticsearch.BatchSize,
		RefreshPolicy: cfg.SearchEngine.Elasticsearch.RefreshPolicy,
		Dimensions:    cfg.SearchEngine.Elasticsearch.VectorDimensions,
	})
	if err != nil {
		return nil, a.failInit(fmt.Errorf("init search engine: %w", err))
	}
	a.Engine = engine
	a.closers = append(a.closers, func() error { return engine.Close(context.Background()) })

	return a, nil
}

// buildFileHandler is optional: without a configured bucket the upload
// route responds 500 instead of failing startup.
func (a *App) buildFileHandler(ctx context.Context) (*handlers.FileHandler, error) {
	osCfg := a.Cfg.Extractor.ASR.Audio.ObjectStore
	if osCfg.Bucket == "" {
		a.Log.Warn("object store not configured; file uploads disabled")
		return handlers.NewFileHandler(a.Log, nil, "uploads"), nil
	}
	uploader, err := objectstore.New(ctx, a.Log, osCfg)
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}
	a.closers = append(a.closers, func() error { uploader.Close(); return nil })
	return handlers.NewFileHandler(a.Log, uploader, "uploads"), nil
}

func (a *App) failInit(err error) error {
	a.Close(context.Background())
	return err
}

// Close tears components down in reverse construction order.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.Log != nil {
			a.Log.Warn("close failed", "error", err.Error())
		}
	}
	a.closers = nil
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil && a.Log != nil {
			a.Log.Warn("otel shutdown failed", "error", err.Error())
		}
		a.otelShutdown = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
