package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/handlers"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/locators"
	"github.com/ternarybob/vetter/internal/queue"
	"github.com/ternarybob/vetter/internal/services/browser"
	"github.com/ternarybob/vetter/internal/services/cooldown"
	"github.com/ternarybob/vetter/internal/services/delivery"
	"github.com/ternarybob/vetter/internal/services/drive"
	"github.com/ternarybob/vetter/internal/services/intake"
	"github.com/ternarybob/vetter/internal/services/notify"
	"github.com/ternarybob/vetter/internal/services/pipeline"
	"github.com/ternarybob/vetter/internal/services/proxy"
	"github.com/ternarybob/vetter/internal/services/retrieval"
	"github.com/ternarybob/vetter/internal/services/scheduler"
	"github.com/ternarybob/vetter/internal/services/session"
	"github.com/ternarybob/vetter/internal/services/submission"
	"github.com/ternarybob/vetter/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	Clock          common.Clock
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager
	Catalog        *locators.Catalog

	// Outbound
	Notifier  interfaces.Notifier
	Publisher interfaces.LinkPublisher

	// Pipeline
	Sessions  *session.Manager
	Submitter *submission.Machine
	Retriever *retrieval.Machine
	Deliverer *delivery.Service
	Processor *pipeline.Processor
	Pool      *queue.Pool

	// Intake and housekeeping
	Cooldowns *cooldown.Registry
	Intake    *intake.Service
	Scheduler *scheduler.Service
	Sweeper   *scheduler.Sweeper

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	WSHandler         *handlers.WebSocketHandler
	SubmissionHandler *handlers.SubmissionHandler
	StatusHandler     *handlers.StatusHandler
	ItemHandler       *handlers.ItemHandler
	CooldownHandler   *handlers.CooldownHandler
}

// New wires every component. Nothing runs until Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		Clock:     common.SystemClock{},
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initDirectories(); err != nil {
		return nil, err
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Int("workers", cfg.Queue.Workers).
		Bool("drive_fallback", app.Publisher != nil).
		Str("locators", locatorSource(cfg.Locators.File)).
		Msg("Application initialization complete")

	return app, nil
}

func locatorSource(file string) string {
	if file == "" {
		return "embedded"
	}
	return file
}

func (a *App) initDirectories() error {
	for _, dir := range []string{a.Config.Paths.Uploads, a.Config.Paths.Downloads} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initServices builds the pipeline bottom-up: notifier, sessions, state machines, pool,
// then intake and the housekeeping scheduler.
func (a *App) initServices() error {
	catalog := locators.Default()
	if a.Config.Locators.File != "" {
		loaded, err := locators.Load(a.Config.Locators.File)
		if err != nil {
			return fmt.Errorf("failed to load locators: %w", err)
		}
		catalog = loaded
	}
	a.Catalog = catalog

	a.WSHandler = handlers.NewWebSocketHandler(a.Config.Notify, a.Logger)
	a.Notifier = notify.NewFanout(a.WSHandler, notify.NewLogNotifier(a.Logger))

	if a.Config.Drive.Enabled {
		publisher, err := drive.NewPublisher(a.ctx, a.Config.Drive, a.Logger)
		if err != nil {
			// Direct delivery still works without share links
			a.Logger.Warn().Err(err).Msg("Drive share links disabled")
		} else {
			a.Publisher = publisher
		}
	}

	var proxies session.ProxySource
	if a.Config.Browser.Proxy != "" || a.Config.Browser.WebshareToken != "" {
		proxies = proxy.NewResolver(a.Config, a.Logger)
	}

	loginState := session.NewLoginState()
	a.Sessions = session.NewManager(
		session.NewOptions(a.Config),
		browser.NewLauncher(a.Logger),
		a.StorageManager.CookieStorage(),
		catalog,
		proxies,
		loginState,
		a.Clock,
		a.Logger,
	)

	a.Submitter = submission.NewMachine(submission.NewOptions(a.Config), catalog, loginState, a.Notifier, a.Clock, a.Logger)
	a.Retriever = retrieval.NewMachine(retrieval.NewOptions(a.Config), catalog, nil, a.Notifier, a.Clock, a.Logger)
	a.Deliverer = delivery.NewService(delivery.NewOptions(a.Config), a.Notifier, a.Publisher, a.Clock, a.Logger)

	items := a.StorageManager.WorkItemStorage()
	a.Processor = pipeline.NewProcessor(a.Sessions, a.Submitter, a.Retriever, a.Deliverer, items, a.Clock, a.Logger)
	a.Pool = queue.NewPool(queue.NewConfig(a.Config), a.Processor, a.Sessions, items, a.Notifier, a.Clock, a.Logger)

	a.Cooldowns = cooldown.NewRegistryFromConfig(a.Config, a.StorageManager.CooldownStorage(), a.Clock, a.Logger)
	a.Intake = intake.NewService(intake.NewOptions(a.Config), a.Pool, loginState, a.Cooldowns, items, a.Notifier, a.Clock, a.Logger)

	a.Scheduler = scheduler.NewService(a.Clock, a.Logger)
	a.Sweeper = scheduler.NewSweeperFromConfig(a.Config, a.Cooldowns, items, a.Clock, a.Logger)
	if a.Config.Cleanup.Enabled {
		if err := a.Sweeper.Register(a.Scheduler, a.Config.Cleanup.Schedule); err != nil {
			return fmt.Errorf("failed to register cleanup job: %w", err)
		}
		if a.Config.Cleanup.GCSchedule != "" {
			if err := scheduler.RegisterStorageGC(a.Scheduler, a.Config.Cleanup.GCSchedule, a.StorageManager); err != nil {
				return fmt.Errorf("failed to register storage gc job: %w", err)
			}
		}
	}

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.SubmissionHandler = handlers.NewSubmissionHandler(a.Intake, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Pool, a.Sessions.LoginState(), a.Logger)
	a.ItemHandler = handlers.NewItemHandler(a.StorageManager.WorkItemStorage(), a.Logger)
	a.CooldownHandler = handlers.NewCooldownHandler(a.Cooldowns, a.Config.Admin.Token, a.Logger)
}

// Start launches the worker pool and the scheduler
func (a *App) Start() error {
	if err := a.Pool.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close drains the pool, stops housekeeping and closes storage
func (a *App) Close() error {
	joinTimeout := common.ParseDuration(a.Config.Queue.JoinTimeout, 30*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout+5*time.Second)
	defer cancel()

	if a.Pool != nil {
		if err := a.Pool.Stop(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Worker pool did not stop cleanly")
		} else {
			a.Logger.Info().Msg("Worker pool stopped")
		}
	}

	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if a.Sessions != nil {
		a.Sessions.Close()
	}

	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
