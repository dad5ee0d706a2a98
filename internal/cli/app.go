package cli

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"

	"github.com/c0deZ3R0/carsync/cache"
	"github.com/c0deZ3R0/carsync/config"
	"github.com/c0deZ3R0/carsync/logging"
	"github.com/c0deZ3R0/carsync/mirror"
	"github.com/c0deZ3R0/carsync/reconcile"
	"github.com/c0deZ3R0/carsync/storage/sqlite"
	"github.com/c0deZ3R0/carsync/telemetry"
	"github.com/c0deZ3R0/carsync/transport/httptransport"
)

const serviceName = "carsync"

// App is the wired set of components behind every command.
type App struct {
	Engine      *reconcile.Engine
	Gateway     *httptransport.Gateway
	Mirror      *mirror.Store
	Queue       cache.Queue
	DeadLetters cache.DeadLetters

	shutdown telemetry.ShutdownFunc
}

// Open builds an App from cfg. Spans, when enabled, are written to traceOut.
func Open(cfg *config.Config, logger *logging.Logger, traceOut io.Writer) (*App, error) {
	policy, err := reconcile.ParseFailurePolicy(cfg.Replay.FailurePolicy)
	if err != nil {
		return nil, err
	}

	app := &App{shutdown: telemetry.Noop}
	if cfg.Telemetry.Stdout {
		shutdown, err := telemetry.InitTracerWithWriter(serviceName, traceOut, logger.Logger)
		if err != nil {
			return nil, err
		}
		app.shutdown = shutdown
	}

	switch cfg.Queue.Driver {
	case config.DriverSQLite:
		store, err := sqlite.New(&sqlite.Config{
			DataSourceName: cfg.Queue.DSN,
			EnableWAL:      true,
			Logger:         logger.WithComponent(logging.Component("sqlite-store")).Logger,
		})
		if err != nil {
			_ = app.shutdown(context.Background())
			return nil, err
		}
		app.Queue, app.DeadLetters = store, store
	default:
		app.Queue, app.DeadLetters = cache.NewMemory(), cache.NewMemoryDeadLetters()
	}

	app.Mirror = mirror.New(cfg.Mirror.Dir,
		mirror.WithLogger(logger.WithComponent(logging.Component("mirror")).Logger))

	app.Gateway = httptransport.New(cfg.Remote.BaseURL,
		httptransport.WithProbeTimeout(cfg.Remote.ProbeTimeout),
		httptransport.WithRequestTimeout(cfg.Remote.RequestTimeout),
		httptransport.WithLogger(logger.WithComponent(logging.Component("gateway")).Logger),
	)

	metrics, err := reconcile.NewOTelMetrics(otel.Meter(serviceName))
	if err != nil {
		_ = app.Queue.Close()
		_ = app.shutdown(context.Background())
		return nil, err
	}

	app.Engine = reconcile.New(app.Gateway, app.Queue, app.Mirror,
		reconcile.WithLogger(logger.WithComponent(logging.Component("reconcile")).Logger),
		reconcile.WithFailurePolicy(policy),
		reconcile.WithMaxAttempts(cfg.Replay.MaxAttempts),
		reconcile.WithDeadLetters(app.DeadLetters),
		reconcile.WithMetrics(metrics),
	)
	return app, nil
}

// Close releases everything Open acquired.
func (a *App) Close(ctx context.Context) error {
	errs := []error{a.Engine.Close()}
	a.Gateway.Close()
	errs = append(errs, a.Queue.Close(), a.shutdown(ctx))
	return errors.Join(errs...)
}
