package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/services/events"
	"github.com/ternarybob/narro/internal/services/notifications"
	"github.com/ternarybob/narro/internal/services/orchestrator"
	"github.com/ternarybob/narro/internal/services/providers"
	"github.com/ternarybob/narro/internal/services/scheduler"
	"github.com/ternarybob/narro/internal/services/statemachine"
	"github.com/ternarybob/narro/internal/services/status"
	"github.com/ternarybob/narro/internal/storage"
	storagebadger "github.com/ternarybob/narro/internal/storage/badger"
	"github.com/ternarybob/narro/internal/telemetry"
)

// gcDiscardRatio is passed to badger's value-log GC on each sweep
const gcDiscardRatio = 0.5

// garbageCollector is implemented by storage managers that can reclaim
// value-log space
type garbageCollector interface {
	RunGC(discardRatio float64) error
}

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService
	StateMachine   interfaces.StateMachineService
	Registry       interfaces.ProviderRegistry
	Orchestrator   interfaces.OrchestratorService
	StatusService  interfaces.StatusService
	Notifications  interfaces.NotificationService
	Scheduler      interfaces.SchedulerService

	telemetryShutdown telemetry.Shutdown
}

// New initializes the application with all dependencies. Configuration
// problems surface here, before any job can run.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{
		Config: cfg,
		Logger: logger,
	}
	ctx := context.Background()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, common.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.telemetryShutdown = shutdown

	if err := app.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(ctx); err != nil {
		// Release what initStorage opened; a half-built app is never returned
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Str("providers_mode", cfg.Providers.Mode).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Bool("notifications_enabled", cfg.Notifications.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage opens the badger store and seeds configured secrets into the
// key/value store
func (a *App) initStorage(ctx context.Context) error {
	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = manager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	// Seed API keys from config without clobbering operator-rotated values
	if len(a.Config.Secrets) > 0 {
		if _, err := storagebadger.SeedSecrets(ctx, manager.KeyValueStorage(), a.Config.Secrets, a.Logger); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to seed secrets into key/value store")
		}
	}

	// Resolve {key-name} references in config against the KV store. Must
	// happen before providers are built so credentials land in the chain.
	pairs, err := manager.KeyValueStorage().List(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to fetch KV map for config replacement, skipping replacement")
	} else if len(pairs) > 0 {
		kvMap := make(map[string]string, len(pairs))
		for _, pair := range pairs {
			kvMap[pair.Key] = pair.Value
		}
		if err := common.ReplaceInStruct(a.Config, kvMap, a.Logger); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to replace key references in config")
		} else {
			a.Logger.Debug().Int("keys", len(kvMap)).Msg("Applied key/value replacements to config")
		}
	}

	return nil
}

// initServices initializes all business services in dependency order:
// events -> state machine -> providers -> orchestrator -> status ->
// notifications -> scheduler. The orchestrator recovers jobs a previous
// process left behind before the scheduler can start new sweeps.
func (a *App) initServices(ctx context.Context) error {
	a.EventService = events.NewService(a.Config.Events.LogSize, a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to attach event logger: %w", err)
	}

	a.StateMachine = statemachine.NewService(a.StorageManager.EntityStateStorage(), nil, a.Logger)
	if count, err := statemachine.LoadDefinitionsFromFiles(a.StateMachine, a.Config.States.DefinitionsDir, a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to load state definitions from files")
	} else if count > 0 {
		a.Logger.Info().Int("count", count).Msg("State definitions loaded")
	}

	registry, err := providers.BuildRegistry(ctx, a.Config, a.StorageManager.KeyValueStorage(), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}
	a.Registry = registry

	orch, err := orchestrator.NewService(
		a.Config,
		a.StorageManager.JobStorage(),
		a.StorageManager.CounterStorage(),
		a.StateMachine,
		a.Registry,
		a.EventService,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.Orchestrator = orch

	if recovered, err := a.Orchestrator.RecoverInterruptedJobs(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Job recovery incomplete")
	} else if recovered > 0 {
		a.Logger.Info().Int("count", recovered).Msg("Interrupted jobs recovered")
	}

	a.StatusService = status.NewService(a.EventService, a.Logger)
	if err := a.StatusService.Start(); err != nil {
		return fmt.Errorf("failed to start status service: %w", err)
	}

	notifier := notifications.NewNotifier(a.Config.Notifications, a.Logger)
	a.Notifications = notifications.NewService(a.EventService, notifier, a.Logger)
	if a.Config.Notifications.Enabled {
		if err := a.Notifications.Start(); err != nil {
			return fmt.Errorf("failed to start notification service: %w", err)
		}
	}

	if a.Config.Scheduler.Enabled {
		if err := a.initScheduler(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	return nil
}

// initScheduler registers the maintenance sweeps and starts the cron loop
func (a *App) initScheduler() error {
	sched := scheduler.NewService(a.Logger)

	err := sched.RegisterTask("stale-jobs", a.Config.Scheduler.StaleJobSchedule, func() error {
		_, err := a.Orchestrator.FailStaleJobs(context.Background())
		return err
	})
	if err != nil {
		return err
	}

	err = sched.RegisterTask("provider-health", a.Config.Scheduler.HealthSweepSchedule, func() error {
		a.Registry.HealthSweep(context.Background())
		return nil
	})
	if err != nil {
		return err
	}

	if gc, ok := a.StorageManager.(garbageCollector); ok {
		err = sched.RegisterTask("storage-gc", a.Config.Scheduler.StorageGCSchedule, func() error {
			return gc.RunGC(gcDiscardRatio)
		})
		if err != nil {
			return err
		}
	} else {
		a.Logger.Debug().Msg("Storage manager has no GC hook, skipping storage-gc task")
	}

	if err := sched.Start(); err != nil {
		return err
	}
	a.Scheduler = sched
	return nil
}

// Close shuts the application down in reverse dependency order. The
// orchestrator drains in-flight jobs before the bus and storage go away.
func (a *App) Close() error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if a.Orchestrator != nil {
		if err := a.Orchestrator.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Orchestrator close incomplete")
		}
	}

	if a.Notifications != nil {
		if err := a.Notifications.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close notification service")
		}
	}

	if a.StatusService != nil {
		if err := a.StatusService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close status service")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.telemetryShutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Telemetry shutdown incomplete")
		}
		cancel()
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
