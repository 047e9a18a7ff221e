// Package bootstrap wires the storage backends, checkers, agents, and
// HTTP surface into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"watchtower/agents"
	"watchtower/api"
	"watchtower/baseline"
	"watchtower/checks"
	"watchtower/config"
	"watchtower/core"
	"watchtower/correlate"
	"watchtower/health"
	"watchtower/notify"
	"watchtower/sched"
	"watchtower/smoke"
	"watchtower/storage"
)

// InitLogger initializes the zap logger with colored console output.
func InitLogger() (*zap.Logger, *zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	logCore := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), zapcore.InfoLevel)

	logger := zap.New(logCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// App holds every wired component of the monitoring service.
type App struct {
	Cfg   *config.Config
	Sugar *zap.SugaredLogger

	Redis      *storage.Redis
	Mongo      *storage.MongoDB
	ClickHouse *storage.ClickHouse
	SQLite     *storage.SQLite

	Tracker    *core.IssueTracker
	Reporter   *health.Reporter
	Dispatcher *notify.Dispatcher
	Baseline   *baseline.Service
	Smoke      *smoke.Runner
	Correlate  *correlate.Engine
	Registry   *agents.Registry
	Scheduler  *sched.Scheduler
	Server     *api.Server
}

// NewApp connects the backends and wires all components. Failing to reach
// any backend is fatal: a monitor that cannot see its stores is useless.
func NewApp(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*App, error) {
	app := &App{Cfg: cfg, Sugar: sugar}

	var err error
	if app.Redis, err = storage.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, sugar); err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	if app.Mongo, err = storage.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.MaxPoolSize, sugar); err != nil {
		return nil, fmt.Errorf("failed to connect mongodb: %w", err)
	}
	if app.ClickHouse, err = storage.NewClickHouse(storage.ClickHouseOptions{
		Addr:        cfg.ClickHouse.Addr,
		Database:    cfg.ClickHouse.Database,
		Username:    cfg.ClickHouse.Username,
		Password:    cfg.ClickHouse.Password,
		MaxPoolSize: cfg.ClickHouse.MaxPoolSize,
	}, sugar); err != nil {
		return nil, fmt.Errorf("failed to connect clickhouse: %w", err)
	}
	if app.SQLite, err = storage.NewSQLite(cfg.SQLitePath, sugar); err != nil {
		return nil, fmt.Errorf("failed to open issue database: %w", err)
	}

	app.Tracker = core.NewIssueTracker(app.SQLite, sugar)

	var offsite checks.OffsiteBackups
	if hasS3Backups(cfg) {
		s3, err := storage.NewS3Backups(cfg.Backups.S3Region, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 backup inspector: %w", err)
		}
		offsite = s3
	}

	serverChecker := checks.NewServerChecker(cfg, sugar)
	storageChecker := checks.NewStorageChecker(app.Redis, app.Mongo, app.ClickHouse, sugar)
	externalChecker := checks.NewExternalChecker(cfg.External, sugar)
	frontendChecker := checks.NewFrontendChecker(cfg, sugar)
	queueChecker := checks.NewQueueChecker(cfg, app.Redis, sugar)
	backupChecker := checks.NewBackupChecker(cfg, offsite, sugar)

	app.Reporter = health.NewReporter(serverChecker, storageChecker, externalChecker,
		frontendChecker, queueChecker, backupChecker, app.Mongo, sugar)

	notifier := notify.NewChannelNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.SlackWebhookURL, sugar)
	if app.Dispatcher, err = notify.NewDispatcher(notifier, cfg.CooldownTable(), cfg.Alerts.MaxTrackedKeys, sugar); err != nil {
		return nil, fmt.Errorf("failed to init alert dispatcher: %w", err)
	}

	app.Baseline = baseline.NewService(app.ClickHouse, app.Tracker, sugar)
	app.Smoke = smoke.NewRunner(cfg, app.Redis, app.Mongo, app.Mongo, sugar)
	app.Correlate = correlate.NewEngine(app.ClickHouse, app.Mongo, app.Tracker, app.Mongo, sugar)

	runner := agents.NewRunner(cfg, sugar)
	app.Registry = agents.NewRegistry(runner, sugar)
	app.Registry.RegisterShared(agents.NewHealthAgent(app.Reporter, app.Dispatcher, app.ClickHouse, sugar))
	app.Registry.RegisterShared(agents.NewQuickHealthAgent(app.Reporter, app.Dispatcher))
	app.Registry.RegisterShared(agents.NewBaselineAgent(app.Baseline, app.Tracker, sugar))
	app.Registry.RegisterShared(agents.NewCorrelationAgent(app.Correlate, app.Dispatcher))
	app.Registry.RegisterDestinationAware(agents.NewSmokeAgent(app.Smoke, cfg, app.ClickHouse, sugar))

	app.Scheduler = sched.NewScheduler(app.Registry, cfg, sugar)

	app.Server = api.NewServer(cfg.API.Port, cfg.API.RequestsPerSecond, cfg.API.Burst,
		app.Registry, app.Reporter, app.Tracker, []api.ReadinessProbe{
			{Name: "redis", Check: app.Redis.HealthCheck},
			{Name: "mongodb", Check: app.Mongo.HealthCheck},
			{Name: "clickhouse", Check: app.ClickHouse.HealthCheck},
		}, sugar)

	return app, nil
}

func hasS3Backups(cfg *config.Config) bool {
	for _, spec := range cfg.Backups.Specs {
		if spec.Managed == "s3" {
			return true
		}
	}
	return false
}

// Start launches the scheduler and the HTTP server. The HTTP server runs
// in a goroutine; Start returns once both are up.
func (a *App) Start(ctx context.Context) error {
	if a.Cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		a.Sugar.Info("Scheduler disabled by configuration")
	}

	go func() {
		if err := a.Server.Start(); err != nil {
			a.Sugar.Fatalw("HTTP server failed", "error", err)
		}
	}()

	a.Sugar.Infow("Watchtower started",
		"destinations", len(a.Cfg.ActiveDestinations()),
		"agents", len(a.Registry.List()))
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown stops the scheduler, drains the HTTP server, and closes every
// backend connection.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.Cfg.Scheduler.Enabled {
		a.Scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Sugar.Warnw("HTTP server shutdown failed", "error", err)
	}

	if err := a.Redis.Close(); err != nil {
		a.Sugar.Warnw("Redis close failed", "error", err)
	}
	if err := a.Mongo.Close(ctx); err != nil {
		a.Sugar.Warnw("MongoDB close failed", "error", err)
	}
	if err := a.ClickHouse.Close(); err != nil {
		a.Sugar.Warnw("ClickHouse close failed", "error", err)
	}
	if err := a.SQLite.Close(); err != nil {
		a.Sugar.Warnw("Issue database close failed", "error", err)
	}

	a.Sugar.Info("Shutdown complete")
}
