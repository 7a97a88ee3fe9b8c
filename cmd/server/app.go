package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/compositor/internal/config"
	"github.com/phrazzld/compositor/internal/events"
	"github.com/phrazzld/compositor/internal/imaging"
	"github.com/phrazzld/compositor/internal/platform/gemini"
	"github.com/phrazzld/compositor/internal/platform/postgres"
	"github.com/phrazzld/compositor/internal/platform/redis"
	"github.com/phrazzld/compositor/internal/service/auth"
	"github.com/phrazzld/compositor/internal/store"
	"github.com/phrazzld/compositor/internal/task"
	"github.com/phrazzld/compositor/internal/worker"
)

// eventHandlerTimeout bounds how long one event may spend in the handlers.
const eventHandlerTimeout = 5 * time.Second

// application holds the controller and its optional collaborators.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	history    store.HistoryStore
	publisher  *redis.Publisher
	jwtService auth.JWTService

	emitter    *events.InMemoryEventEmitter
	controller *worker.Controller

	stopDispatch chan struct{}
	dispatchDone chan struct{}
}

// newApplication wires the Gemini-backed pipeline into a new application.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	imageService, err := gemini.NewImageService(ctx, logger, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image service: %w", err)
	}
	logger.Info("image service initialized", "model", cfg.LLM.ModelName)

	return newApplicationWithExecutor(ctx, cfg, logger, imaging.NewPipeline(imageService, logger))
}

func newApplicationWithExecutor(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	executor task.Executor,
) (*application, error) {
	app := &application{
		config:       cfg,
		logger:       logger,
		emitter:      events.NewInMemoryEventEmitter(logger),
		stopDispatch: make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	app.emitter.RegisterHandler(events.HandlerFunc(app.logEvent))

	if cfg.Auth.JWTSecret != "" {
		svc, err := auth.NewJWTService(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		app.jwtService = svc
		logger.Info("API authentication enabled",
			"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)
	} else {
		logger.Warn("API authentication disabled, auth.jwt_secret is not set")
	}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		app.db = db
		historyStore := postgres.NewHistoryStore(db, logger)
		app.history = historyStore
		app.emitter.RegisterHandler(historyStore)
		logger.Info("task history persistence enabled")
	}

	if cfg.Events.RedisAddr != "" {
		publisher, err := redis.NewPublisher(cfg.Events, logger)
		if err != nil {
			app.closeResources()
			return nil, err
		}
		app.publisher = publisher
		app.emitter.RegisterHandler(publisher)
		logger.Info("redis event publishing enabled", "channel", cfg.Events.Channel)
	}

	queue := task.NewQueue(task.QueueConfig{
		Capacity:          cfg.Queue.Capacity,
		ConcurrencyLimit:  cfg.Queue.ConcurrencyLimit,
		MaxRetries:        cfg.Queue.MaxRetries,
		EstimatedDuration: time.Duration(cfg.Queue.EstimatedTaskSeconds) * time.Second,
	}, logger)

	app.controller = worker.New(queue, executor, worker.Config{
		StopTimeout: cfg.Queue.StopTimeout,
		EventBuffer: cfg.Queue.EventBuffer,
	}, logger)

	go app.dispatchEvents()

	logger.Info("application initialized")
	return app, nil
}

// Run serves the HTTP API until ctx ends or the process is signalled.
func (app *application) Run(ctx context.Context) error {
	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// dispatchEvents forwards controller events to the emitter until cleanup.
// Events still buffered when dispatch stops are delivered before it returns.
func (app *application) dispatchEvents() {
	defer close(app.dispatchDone)

	for {
		select {
		case e := <-app.controller.Events():
			app.emit(e)
		case <-app.stopDispatch:
			for {
				select {
				case e := <-app.controller.Events():
					app.emit(e)
				default:
					return
				}
			}
		}
	}
}

// logEvent records lifecycle events at debug level.
func (app *application) logEvent(ctx context.Context, e *events.Event) error {
	if e.Type == events.TypeTaskProgress {
		return nil
	}
	attrs := []any{"event_type", e.Type}
	if e.IsTaskEvent() {
		attrs = append(attrs, "task_id", e.TaskID.String())
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	app.logger.DebugContext(ctx, "event dispatched", attrs...)
	return nil
}

func (app *application) emit(e *events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventHandlerTimeout)
	defer cancel()
	// handler failures are logged by the emitter
	_ = app.emitter.EmitEvent(ctx, e)
}

// cleanup stops processing, flushes pending events and releases resources.
func (app *application) cleanup() {
	if err := app.controller.Close(); err != nil {
		app.logger.Error("processing did not stop cleanly", "error", err)
	}

	close(app.stopDispatch)
	<-app.dispatchDone

	app.closeResources()
	app.logger.Info("application shutdown completed")
}

func (app *application) closeResources() {
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
}
