package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	auth "github.com/goliatone/go-church-auth"
	"github.com/goliatone/go-church-auth/activitymap"
	"github.com/goliatone/go-church-auth/gateway"
	"github.com/goliatone/go-church-auth/metrics"
	"github.com/goliatone/go-church-auth/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// App is the wired session stack used by every command.
type App struct {
	Config   auth.Config
	Logger   *slog.Logger
	Store    auth.CredentialStore
	Bus      *auth.AuthFailureBus
	Gateway  *gateway.HTTPGateway
	Client   *gateway.Client
	Manager  *auth.SessionManager
	Guard    *auth.Guard
	Metrics  *metrics.Collector
	Registry *prometheus.Registry

	closers []func() error
}

// NewLogger returns a JSON slog logger at level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	})

	return slog.New(handler).With(slog.String("service", "churchadmin"))
}

// Build wires the stack described by cfg. Logs go to logOut.
func Build(ctx context.Context, cfg auth.Config, logOut io.Writer) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: NewLogger(cfg.LogLevel, logOut),
		Bus:    auth.NewAuthFailureBus(),
	}
	logger := auth.NewSlogLogger(app.Logger)

	store, err := app.openStore(ctx, logger)
	if err != nil {
		return nil, err
	}
	app.Store = store

	app.Registry, app.Metrics = metrics.NewRegistry()
	app.closers = append(app.closers, nopCloser(app.Bus.Subscribe(app.Metrics.ObserveAuthFailure)))

	audit := activitymap.Sink(func(ctx context.Context, rec activitymap.Record) error {
		app.Logger.InfoContext(ctx, "session activity",
			"action", rec.Action,
			"actor", rec.Actor,
			"target", rec.Target,
			"transition", rec.Transition,
			"severity", rec.Severity,
			"reason", rec.Reason,
			"channel", rec.Channel,
		)
		return nil
	}, activitymap.WithChannel("cli"))

	app.Gateway = gateway.FromConfig(cfg,
		gateway.WithAuthFailureBus(app.Bus),
		gateway.WithLogger(logger),
	)

	opts := append(cfg.ManagerOptions(),
		auth.WithManagerLogger(logger),
		auth.WithManagerActivitySink(auth.MultiActivitySink{app.Metrics, audit}),
	)
	app.Manager = auth.NewSessionManager(app.Store, app.Gateway, opts...)
	app.Guard = auth.NewGuard(app.Manager, app.Bus, auth.WithGuardLogger(logger))
	app.closers = append(app.closers, nopCloser(app.Guard.Close))

	app.Client = gateway.NewClient(cfg.APIBaseURL, app.Manager,
		gateway.WithTimeout(cfg.APITimeout),
		gateway.WithBreaker(cfg.BreakerFailures, cfg.BreakerTimeout),
		gateway.WithAuthFailureBus(app.Bus),
		gateway.WithLogger(logger),
	)

	return app, nil
}

func (a *App) openStore(ctx context.Context, logger auth.Logger) (auth.CredentialStore, error) {
	switch a.Config.Store {
	case auth.StoreMemory:
		return auth.NewMemoryCredentialStore(), nil

	case auth.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(a.Config.StorePath), 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		db, err := repository.OpenSQLite(a.Config.StorePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		store := repository.NewBunCredentialStore(db, repository.WithBunLogger(logger))
		if err := store.CreateTable(ctx); err != nil {
			return nil, fmt.Errorf("create credentials table: %w", err)
		}
		return store, nil

	case auth.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
			DB:       a.Config.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		return repository.NewRedisCredentialStore(client, a.Config.RedisKey, 0).WithLogger(logger), nil

	default:
		return auth.NewFileCredentialStore(a.Config.StorePath).WithLogger(logger), nil
	}
}

// Close releases stores and subscriptions.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func nopCloser(fn func()) func() error {
	return func() error {
		fn()
		return nil
	}
}
