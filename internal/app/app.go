// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/synaxhq/synax/internal/cache"
	"github.com/synaxhq/synax/internal/config"
	"github.com/synaxhq/synax/internal/connectivity"
	"github.com/synaxhq/synax/internal/database"
	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/outbox"
	"github.com/synaxhq/synax/internal/remote"
	"github.com/synaxhq/synax/internal/statusapi"
	"github.com/synaxhq/synax/internal/store"
	synxsync "github.com/synaxhq/synax/internal/sync"
	"github.com/synaxhq/synax/internal/syncstate"
)

// Version is stamped into the User-Agent; cmd/synax overrides it at build time
var Version = "dev"

// App represents the application instance with its dependencies
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Logger   *loggy.Logger
	Settings *config.SettingsService
	Store    *store.SQLRepository
	Client   *remote.Client
	State    *syncstate.State
	SyncLogs *synxsync.SQLRepository
	Engine   *synxsync.Engine
	Cache    *cache.Service
	Outbox   *outbox.Service
	Source   connectivity.Source
	Network  *connectivity.ManualSource // set only for the push source
	Monitor  *connectivity.Monitor
	Registry *prometheus.Registry

	background sync.WaitGroup
}

// New initializes a new application instance with all its dependencies
func New(configDir string) (*App, error) {
	// Initialize configuration
	cfg, err := initConfig(configDir)
	if err != nil {
		return nil, err
	}

	// Initialize logger
	if err := initLogger(cfg); err != nil {
		return nil, err
	}
	logger := loggy.GetGlobalLogger()

	loggy.Info("Application initializing",
		"version", Version,
		"config_dir", cfg.ConfigDir(),
		"log_level", cfg.Logging.Level,
		"network_source", cfg.Network.Source,
	)

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	app, err := initServices(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads the application configuration
func initConfig(configDir string) (*config.Config, error) {
	cfg, err := config.LoadFromEnv(configDir, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB, logger *loggy.Logger) (*App, error) {
	ctx := context.Background()

	repo := store.NewSQLRepository(db, logger)
	if _, err := repo.RecoverInterrupted(ctx); err != nil {
		return nil, fmt.Errorf("recovering interrupted records: %w", err)
	}

	settings := config.NewSettingsService(config.NewSQLSettingsRepository(db, logger), logger)
	deviceName, err := settings.DeviceName(ctx)
	if err != nil {
		// Non-fatal, requests just go out without X-Device-Name
		loggy.Warn("Failed to load device name", "error", err)
	}

	client := remote.NewClient(remote.Options{
		BaseURL:           cfg.APIBaseURL(),
		HealthURL:         strings.TrimRight(cfg.API.URL, "/") + cfg.Network.ProbePath,
		Timeout:           cfg.API.Timeout,
		RequestsPerMinute: cfg.API.RequestsPerMinute,
		BurstLimit:        cfg.API.BurstLimit,
		MaxIdleConns:      cfg.API.MaxIdleConns,
		IdleConnTimeout:   cfg.API.IdleConnTimeout,
		DeviceName:        deviceName,
		UserAgent:         "synax-agent/" + Version,
	}, settings, logger.With("component", "remote"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	state := syncstate.New()
	syncLogs := synxsync.NewSQLRepository(db, logger)
	engine := synxsync.NewEngine(repo, client, state, synxsync.Options{
		MaxRetries: cfg.Sync.MaxRetries,
		Logs:       syncLogs,
		Metrics:    synxsync.NewMetrics(registry),
	}, logger.With("component", "sync"))

	entityCache := cache.New(repo, cfg.Cache.Size, cfg.Cache.TTL)

	app := &App{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Settings: settings,
		Store:    repo,
		Client:   client,
		State:    state,
		SyncLogs: syncLogs,
		Engine:   engine,
		Cache:    entityCache,
		Registry: registry,
	}

	app.Outbox = outbox.NewService(repo, entityCache, app.afterEnqueue, logger.With("component", "outbox"))

	source, err := app.newSource(client)
	if err != nil {
		return nil, err
	}
	app.Source = source
	app.Monitor = connectivity.NewMonitor(source, engine, state, logger.With("component", "connectivity"))

	if err := engine.RefreshCounts(ctx); err != nil {
		loggy.Warn("Failed to load queue counts", "error", err)
	}
	return app, nil
}

// newSource builds the connectivity source selected by SYNAX_NETWORK_SOURCE
func (app *App) newSource(pinger connectivity.Pinger) (connectivity.Source, error) {
	cfg := app.Config.Network
	logger := app.Logger.With("component", "connectivity")

	switch cfg.Source {
	case config.NetworkSourceProbe:
		return connectivity.NewProbeSource(pinger, connectivity.ProbeOptions{
			Interval: cfg.ProbeInterval,
			Timeout:  cfg.ProbeTimeout,
			MaxDelay: cfg.ProbeMaxDelay,
		}, logger), nil
	case config.NetworkSourceFile:
		return connectivity.NewFileSource(cfg.StatusFile, logger), nil
	case config.NetworkSourcePush:
		// offline until the platform shell reports otherwise
		app.Network = connectivity.NewManualSource(false)
		return app.Network, nil
	default:
		return nil, fmt.Errorf("unknown network source %q", cfg.Source)
	}
}

// afterEnqueue refreshes the badges and, when configured, drains right away
func (app *App) afterEnqueue(ctx context.Context, kind store.Kind, id int64) {
	if err := app.Engine.RefreshCounts(ctx); err != nil {
		app.Logger.Warn("Failed to refresh counts after enqueue", "kind", kind, "id", id, "error", err)
	}
	if !app.Config.Sync.AutoSync || !app.State.IsOnline() {
		return
	}

	app.background.Add(1)
	go func() {
		defer app.background.Done()
		if _, err := app.Engine.SyncNow(context.WithoutCancel(ctx)); err != nil {
			app.Logger.WithError(err).Error("Opportunistic sync failed")
		}
	}()
}

// StatusAPI builds the local agent API over the app's components
func (app *App) StatusAPI() *statusapi.Server {
	deps := statusapi.Deps{
		Syncer:     app.Engine,
		State:      app.State,
		Recorder:   app.Outbox,
		Queue:      app.Store,
		Cache:      app.Cache,
		Registerer: app.Registry,
		Gatherer:   app.Registry,
	}
	if app.Network != nil {
		deps.Network = app.Network
	}
	return statusapi.New(app.Config.Agent.Addr, deps, app.Logger.With("component", "statusapi"))
}

// Logout drops every queued change, the entity cache and the stored token.
// Settings other than the token survive. A running cycle is allowed to
// finish first and no new cycle starts until the token is gone.
func (app *App) Logout(ctx context.Context) error {
	release, err := app.Engine.Hold(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := app.Store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing local data: %w", err)
	}
	app.Cache.Purge()
	if err := app.Settings.ClearToken(ctx); err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}
	if err := app.Engine.RefreshCounts(ctx); err != nil {
		app.Logger.Warn("Failed to refresh counts after logout", "error", err)
	}
	return nil
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	app.Monitor.Stop()
	app.background.Wait()

	if err := app.DB.Close(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}
	return app.Logger.Close()
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
