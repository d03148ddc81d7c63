package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tidb-odata/internal/config"
	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/dispatch"
	"tidb-odata/internal/introspection"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/middleware"
	"tidb-odata/internal/naming"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/odatahttp"
	"tidb-odata/internal/operation"
	"tidb-odata/internal/paging"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/uri"
)

// buildModel introspects the database and validates the operation catalog
// against the resulting entity model. A catalog validation failure is fatal.
func buildModel(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, databaseName string, metrics *observability.ODataMetrics) (schema *introspection.Schema, catalog *operation.Catalog, err error) {
	start := time.Now()
	defer func() {
		if metrics != nil {
			metrics.RecordSchemaBuild(ctx, time.Since(start), err == nil)
		}
	}()

	ctx = logging.WithLogger(ctx, logger)
	namer := naming.New(cfg.Naming, logger.Logger)

	schema, err = introspection.IntrospectDatabaseContext(ctx, db, databaseName, cfg.Operations.Namespace, namer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to introspect database %s: %w", databaseName, err)
	}
	logger.Info("entity model built",
		slog.String("namespace", schema.Namespace),
		slog.Int("entity_sets", len(schema.Tables)),
	)

	specs, err := loadOperationSpecs(cfg)
	if err != nil {
		return nil, nil, err
	}
	registry := operation.NewRegistry()
	for _, spec := range specs {
		if err := registry.Register(spec); err != nil {
			return nil, nil, fmt.Errorf("failed to register operation %s: %w", spec.Name, err)
		}
	}
	catalog, err = registry.Build(ctx, namer, schema)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build operation catalog: %w", err)
	}
	return schema, catalog, nil
}

func loadOperationSpecs(cfg *config.Config) ([]operation.Spec, error) {
	if cfg.Operations.CatalogFile == "" {
		return nil, nil
	}
	return operation.LoadCatalogFile(cfg.Operations.CatalogFile)
}

// buildPaging returns nil when server-driven paging is off, which makes every
// request use its raw $top/$skip window.
func buildPaging(cfg *config.Config, logger *logging.Logger) *paging.Resolver {
	if !cfg.Paging.ServerDriven {
		return nil
	}
	provider := paging.NewMemoryProvider(paging.MemoryConfig{
		PageSize:    cfg.Paging.DefaultPageSize,
		MaxPageSize: cfg.Paging.MaxPageSize,
		TTL:         cfg.Paging.TokenTTL,
	}, time.Now)
	logger.Info("server-driven paging enabled",
		slog.Int("default_page_size", cfg.Paging.DefaultPageSize),
		slog.Int("max_page_size", cfg.Paging.MaxPageSize),
		slog.Duration("token_ttl", cfg.Paging.TokenTTL),
	)
	return paging.NewResolver(provider, cfg.Paging.DefaultTop)
}

func buildDispatcher(cfg *config.Config, logger *logging.Logger, schema *introspection.Schema, db *sql.DB) *dispatch.Dispatcher {
	return dispatch.New(schema, planner.New(cfg.Paging.MaxTop), buildPaging(cfg, logger), dbexec.NewStandardExecutor(db))
}

// buildODataHandler wraps the resource handler with request logging, metrics,
// and tracing. The tracing middleware runs inside the metrics middleware so
// it can read the processor kind.
func buildODataHandler(cfg *config.Config, logger *logging.Logger, schema *introspection.Schema, catalog *operation.Catalog, dispatcher *dispatch.Dispatcher, metrics *observability.ODataMetrics) http.Handler {
	var handler http.Handler = odatahttp.New(uri.Model{Schema: schema, Catalog: catalog}, dispatcher, cfg.Server.BasePath)
	if cfg.Observability.TracingEnabled {
		handler = middleware.ODataTracingMiddleware()(handler)
	}
	if metrics != nil {
		handler = middleware.ODataMetricsMiddleware(metrics)(handler)
	}
	return middleware.LoggingMiddleware(logger)(handler)
}
