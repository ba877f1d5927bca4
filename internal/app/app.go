package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/extraction"
	"github.com/ternarybob/quarry/internal/handlers"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/services/browser"
	"github.com/ternarybob/quarry/internal/services/events"
	"github.com/ternarybob/quarry/internal/services/jobs"
	"github.com/ternarybob/quarry/internal/services/llm"
	"github.com/ternarybob/quarry/internal/services/report"
	"github.com/ternarybob/quarry/internal/services/scheduler"
	"github.com/ternarybob/quarry/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService
	Sweeper      *scheduler.Sweeper
	Reports      *report.Service

	// Extraction engine
	LLM          *llm.ProviderFactory
	Browsers     *browser.Factory
	Orchestrator *extraction.Orchestrator
	Runner       *jobs.Runner

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	ExtractHandler *handlers.ExtractHandler
	WSHandler      *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// The event bus must exist before the WebSocket handler subscribes to it
	app.EventService = events.NewService(app.Logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &app.Config.WebSocket)

	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	app.Logger.Info().
		Str("recipe", app.Orchestrator.Recipe().Name).
		Bool("sweeper", app.Sweeper != nil).
		Bool("reports", app.Config.Report.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(context.Background(), a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("path", a.Config.Storage.Badger.Path).
		Str("action_cache", a.Config.Storage.ActionCache).
		Str("results", a.Config.Storage.Results).
		Msg("Storage layer initialized")

	return nil
}

func (a *App) initServices() error {
	recipe := extraction.DefaultRecipe()
	if path := a.Config.Extraction.RecipePath; path != "" {
		loaded, err := extraction.LoadRecipe(path)
		if err != nil {
			return err
		}
		recipe = loaded
		a.Logger.Info().Str("path", path).Str("recipe", recipe.Name).Msg("Loaded extraction recipe")
	}

	// 1. LLM provider used by the browser action provider
	a.LLM = llm.NewProviderFactory(&a.Config.Gemini, &a.Config.Claude, &a.Config.LLM, a.Logger)

	// 2. Browser sessions, one per run
	a.Browsers = browser.NewFactory(&a.Config.Browser, recipe.StartURL, a.LLM, "", a.Logger)

	// 3. Orchestrator and background runner
	a.Orchestrator = extraction.NewOrchestrator(
		a.StorageManager.StatusStorage(),
		a.StorageManager.ActionCache(),
		a.StorageManager.ResultSink(),
		a.Browsers,
		a.EventService,
		recipe,
		extraction.OptionsFromConfig(&a.Config.Extraction),
		a.Logger,
	)

	jobTimeout, err := common.ParseDuration(a.Config.Extraction.JobTimeout, 30*time.Minute)
	if err != nil {
		return fmt.Errorf("invalid extraction.job_timeout: %w", err)
	}
	a.Runner = jobs.NewRunner(a.Orchestrator, jobTimeout, a.Logger)

	// 4. Stale job sweeper
	if a.Config.Scheduler.Enabled {
		staleAfter, err := common.ParseDuration(a.Config.Scheduler.StaleAfter, 45*time.Minute)
		if err != nil {
			return fmt.Errorf("invalid scheduler.stale_after: %w", err)
		}
		a.Sweeper = scheduler.NewSweeper(
			a.StorageManager.StatusStorage(),
			a.Runner,
			a.EventService,
			a.Config.Scheduler.Schedule,
			staleAfter,
			a.Logger,
		)
		if err := a.Sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}
	}

	// 5. Spending report emails
	mailer := report.NewSMTPMailer(&a.Config.Report, a.Logger)
	a.Reports = report.NewService(&a.Config.Report, mailer, a.Logger)
	if a.Config.Report.Enabled {
		if !mailer.IsConfigured() {
			a.Logger.Warn().Msg("Report emails enabled but SMTP is not configured")
		}
		if err := a.Reports.Subscribe(a.EventService); err != nil {
			return fmt.Errorf("failed to subscribe report service: %w", err)
		}
	}

	return nil
}

func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.ExtractHandler = handlers.NewExtractHandler(
		a.StorageManager.StatusStorage(),
		a.StorageManager.ResultSink(),
		a.Runner,
		a.EventService,
		a.Logger,
	)
	return nil
}

// Close cancels in-flight runs and waits until ctx ends for them to record
// their final status, then releases storage.
func (a *App) Close(ctx context.Context) error {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}

	if a.Runner != nil {
		if err := a.Runner.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Extraction runs did not finish before shutdown")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.LLM != nil {
		if err := a.LLM.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM clients")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
