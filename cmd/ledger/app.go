package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"ledger"
	"ledger/account"
	"ledger/cache"
	"ledger/config"
	"ledger/engine"
	"ledger/event"
	eventkafka "ledger/event/kafka"
	"ledger/idgen"
	redislock "ledger/lock/redis"
	"ledger/metrics"
	prommetrics "ledger/metrics/prometheus"
	"ledger/store"
	"ledger/store/memory"
	"ledger/store/mysql"
	"ledger/store/postgres"
	"ledger/tracing"
	"ledger/transfer"
	"ledger/txn"
)

// App holds the wired runtime shared by every command.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *sql.DB
	redis *redis.Client

	bus            *event.MemoryEventBus
	engine         *engine.Engine
	accounts       *account.Service
	transfers      *transfer.Orchestrator
	metricsHandler http.Handler

	closers []func(ctx context.Context) error
}

// NewApp opens the configured backends and builds the services.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	ledgerCfg := ledger.ApplyOptions(cfg.Ledger.Options()...)

	st, runner, err := app.openStore(ctx, ledgerCfg)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithConfig(ledgerCfg),
		engine.WithLogger(logger),
	}

	idCfg, err := cfg.IDGen.Generator()
	if err != nil {
		return nil, err
	}
	ids, err := idgen.New(idCfg)
	if err != nil {
		return nil, fmt.Errorf("id generator: %w", err)
	}
	versions, err := idgen.New(idCfg)
	if err != nil {
		return nil, fmt.Errorf("version generator: %w", err)
	}
	opts = append(opts, engine.WithIDSources(ids, versions))

	if cfg.Redis.Enabled {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.onClose(func(context.Context) error { return app.redis.Close() })
		if err := app.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		opts = append(opts,
			engine.WithLocker(redislock.NewRedisLocker(app.redis)),
			engine.WithCache(cache.NewViewCache[store.Account](app.redis, ledgerCfg.CacheTTL,
				cache.WithPrefix(ledgerCfg.CachePrefix),
				cache.WithLogger(logger))))
	} else {
		logger.Warn("redis disabled, running without distributed lock or cache")
	}

	app.bus = event.NewMemoryEventBus(event.WithLogger(logger))
	opts = append(opts, engine.WithEventBus(app.bus))

	if cfg.Kafka.Enabled {
		pub, err := eventkafka.NewPublisher(eventkafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			MaxAttempts:  cfg.Kafka.MaxAttempts,
			RetryBackoff: cfg.Kafka.RetryBackoff,
			Async:        cfg.Kafka.Async,
		}, eventkafka.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return pub.Close() })
		if err := app.bus.SubscribeAll(pub.Handle); err != nil {
			return nil, err
		}
	}

	opts = append(opts, engine.WithMetrics(app.setupMetrics()))

	if cfg.Tracing.Enabled {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		app.onClose(tp.Shutdown)
		opts = append(opts, engine.WithTracer(tracing.NewOTelTracer(tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			TracerProvider: tp,
		})))
	}

	app.engine, err = engine.New(st, runner, opts...)
	if err != nil {
		return nil, err
	}
	app.accounts = account.NewService(app.engine)
	app.transfers = transfer.NewOrchestrator(app.engine)
	return app, nil
}

func (a *App) openStore(ctx context.Context, ledgerCfg ledger.Config) (store.Store, txn.Runner, error) {
	dbCfg := a.cfg.Database

	var err error
	switch dbCfg.Driver {
	case "memory":
		a.logger.Warn("using in-memory store, data is lost on exit")
		st := memory.New()
		return st, st, nil
	case "mysql":
		a.db, err = mysql.Open(ctx, dbCfg.DSN, dbCfg.Pool())
	case "postgres":
		a.db, err = postgres.Open(ctx, dbCfg.DSN, dbCfg.Pool())
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", dbCfg.Driver)
	}
	if err != nil {
		return nil, nil, err
	}
	a.onClose(func(context.Context) error { return a.db.Close() })

	runner := txn.NewManager(a.db, txn.WithIsolation(ledgerCfg.Isolation), txn.WithLogger(a.logger))
	if dbCfg.Driver == "postgres" {
		return postgres.New(a.db), runner, nil
	}
	return mysql.New(a.db), runner, nil
}

func (a *App) setupMetrics() metrics.Metrics {
	if !a.cfg.Metrics.Enabled {
		return &metrics.NoopMetrics{}
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return prommetrics.New(prommetrics.Config{
		Namespace: a.cfg.Metrics.Namespace,
		Registry:  registry,
	})
}

// Migrate applies the schema of the configured SQL dialect.
func (a *App) Migrate(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "mysql":
		return mysql.Migrate(ctx, a.db)
	case "postgres":
		return postgres.Migrate(ctx, a.db)
	default:
		return nil
	}
}

// Ping checks the database and Redis.
func (a *App) Ping(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	ctx := context.Background()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("shutdown", "error", err)
		return err
	}
	return nil
}
