package serverapp

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"tidb-odata/internal/config"
	"tidb-odata/internal/dispatch"
	"tidb-odata/internal/introspection"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/operation"
)

// App owns runtime resources for the tidb-odata server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	databaseName string

	meterProvider  *observability.MeterProvider
	odataMetrics   *observability.ODataMetrics
	tracerProvider *observability.TracerProvider

	db *sql.DB

	schema     *introspection.Schema
	catalog    *operation.Catalog
	dispatcher *dispatch.Dispatcher

	handler http.Handler

	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	databaseName := cfg.Database.DatabaseName()
	if databaseName == "" {
		return nil, fmt.Errorf("database name is required")
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		databaseName: databaseName,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
