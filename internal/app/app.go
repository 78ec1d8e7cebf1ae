package app

import (
	"context"
	"time"

	"importdeck/config"
	"importdeck/internal/events"
	"importdeck/internal/handlers/middleware"
	"importdeck/internal/importer"
	"importdeck/internal/jobs"
	"importdeck/internal/services"
	"importdeck/internal/store"
	"importdeck/internal/websockets"
	"importdeck/pkg/logger"
)

const startupFetchTimeout = 15 * time.Second

type App struct {
	Middleware middleware.Middleware
	Websocket  *websockets.Manager
	EventBus   *events.EventBus
	Config     config.Config

	Store  *store.JobStore
	Client *importer.Client

	// Services
	Completions      *services.CompletionTracker
	Stats            *services.StatsService
	Poll             *services.PollService
	Progress         *services.ProgressService
	Actions          *services.ActionsService
	SchedulerService *services.SchedulerService
}

func New() (*App, error) {
	log := logger.New("app").Function("New")

	config, err := config.New()
	if err != nil {
		return &App{}, log.Err("failed to initialize config", err)
	}

	eventBus := events.New()
	jobStore := store.New()
	client := importer.NewClient(config)

	completions := services.NewCompletionTracker(eventBus)
	statsService := services.NewStatsService(client, eventBus)
	pollService := services.NewPollService(config, client, jobStore, completions, eventBus)
	progressService := services.NewProgressService(config, jobStore, completions, eventBus)
	actionsService := services.NewActionsService(client, jobStore, pollService, progressService, eventBus)
	schedulerService := services.NewSchedulerService()

	websocket, err := websockets.New(eventBus)
	if err != nil {
		return &App{}, log.Err("failed to create websocket manager", err)
	}

	middleware := middleware.New(eventBus, config)

	if config.SchedulerEnabled {
		pollJob := jobs.NewPollJob(
			pollService,
			time.Duration(config.PollIntervalSeconds)*time.Second,
		)
		if err := schedulerService.AddJob(pollJob); err != nil {
			return &App{}, log.Err("failed to register poll job", err)
		}

		if err := schedulerService.Start(context.Background()); err != nil {
			return &App{}, log.Err("failed to start scheduler", err)
		}
		log.Info("Registered import poll job with scheduler",
			"intervalSeconds", config.PollIntervalSeconds,
		)
	}

	// Best-effort warm start: the import server may be down, in which case the
	// poll ticks and invalidation events fill both in later.
	startupCtx, cancel := context.WithTimeout(context.Background(), startupFetchTimeout)
	defer cancel()

	pollService.Refresh(startupCtx)

	if err := statsService.Refresh(startupCtx); err != nil {
		log.Warn("Initial stats fetch failed, serving without a snapshot", "error", err)
	}

	app := &App{
		Config:           config,
		Middleware:       middleware,
		Websocket:        websocket,
		EventBus:         eventBus,
		Store:            jobStore,
		Client:           client,
		Completions:      completions,
		Stats:            statsService,
		Poll:             pollService,
		Progress:         progressService,
		Actions:          actionsService,
		SchedulerService: schedulerService,
	}

	if err := app.validate(); err != nil {
		return &App{}, log.Err("failed to validate app", err)
	}

	return app, nil
}

func (a *App) validate() error {
	log := logger.New("app").Function("validate")

	if a.Config == (config.Config{}) {
		return log.ErrMsg("config is nil")
	}

	nilChecks := []any{
		a.Websocket,
		a.EventBus,
		a.Store,
		a.Client,
		a.Completions,
		a.Stats,
		a.Poll,
		a.Progress,
		a.Actions,
		a.SchedulerService,
		a.Middleware,
	}

	for _, check := range nilChecks {
		if check == nil {
			return log.ErrMsg("nil check failed")
		}
	}

	return nil
}

func (a *App) Close() (err error) {
	if a.Actions != nil {
		a.Actions.Close()
	}

	if a.SchedulerService != nil {
		if closeErr := a.SchedulerService.Stop(context.Background()); closeErr != nil {
			err = closeErr
		}
	}

	if a.EventBus != nil {
		if closeErr := a.EventBus.Close(); closeErr != nil {
			err = closeErr
		}
	}

	return err
}
