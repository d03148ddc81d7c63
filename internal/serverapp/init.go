package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"tidb-odata/internal/observability"
)

// telemetry holds the providers created by initTelemetry. Any field may be
// nil when its signal is disabled.
type telemetry struct {
	meters  *observability.MeterProvider
	metrics *observability.ODataMetrics
	tracers *observability.TracerProvider
}

// Init acquires every runtime resource: telemetry, the database pool, the
// entity model, and the HTTP server. On failure the resources acquired so far
// are released and the App stays uninitialized. It is idempotent.
func (a *App) Init(ctx context.Context) (err error) {
	a.stateMu.Lock()
	done := a.initialized
	a.stateMu.Unlock()
	if done {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var stack cleanupStack
	defer func() {
		if err != nil {
			_ = stack.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		stack.push("logger provider", func(c context.Context) error {
			return a.loggerProvider.Shutdown(c, a.logger.Logger)
		})
	}

	tel, err := a.initTelemetry(&stack)
	if err != nil {
		return err
	}
	db, err := a.initDatabase(ctx, &stack)
	if err != nil {
		return err
	}

	schema, catalog, err := buildModel(ctx, a.cfg, a.logger, db, a.databaseName, tel.metrics)
	if err != nil {
		return err
	}
	dispatcher := buildDispatcher(a.cfg, a.logger, schema, db)

	odata := buildODataHandler(a.cfg, a.logger, schema, catalog, dispatcher, tel.metrics)
	handler := wrapHTTPHandler(a.cfg, a.logger, buildRouter(a.cfg, a.logger, db, odata, tel.meters))
	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := buildServer(a.cfg, handler, addr)
	stack.push("HTTP server", srv.Shutdown)

	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.meterProvider, a.odataMetrics, a.tracerProvider = tel.meters, tel.metrics, tel.tracers
	a.db = db
	a.schema, a.catalog, a.dispatcher = schema, catalog, dispatcher
	a.handler, a.serverAddr, a.srv = handler, addr, srv
	a.cleanup = stack
	a.initialized = true
	return nil
}

func (a *App) initTelemetry(stack *cleanupStack) (telemetry, error) {
	var tel telemetry
	meters, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return tel, fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meters != nil {
		stack.push("meter provider", func(c context.Context) error {
			return meters.Shutdown(c, a.logger.Logger)
		})
	}
	tracers, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return tel, fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracers != nil {
		stack.push("tracer provider", func(c context.Context) error {
			return tracers.Shutdown(c, a.logger.Logger)
		})
	}
	return telemetry{meters: meters, metrics: metrics, tracers: tracers}, nil
}

// initDatabase opens the pool and waits until TiDB answers a ping.
func (a *App) initDatabase(ctx context.Context, stack *cleanupStack) (*sql.DB, error) {
	a.logger.Info("connecting to TiDB",
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database", a.databaseName),
		slog.Bool("dsn_present", a.cfg.Database.ConnectionString != ""),
	)

	db, statsReg, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	stack.push("database", func(context.Context) error {
		if statsReg != nil {
			if err := statsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db, a.databaseName); err != nil {
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}
	return db, nil
}
