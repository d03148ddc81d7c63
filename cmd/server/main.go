package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tidb-odata/internal/config"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/serverapp"

	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	pflag.Bool("version", false, "Print version and exit")
	pflag.Bool("check-config", false, "Validate the configuration and exit")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("tidb-odata %s (%s)\n", Version, Commit)
		return nil
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}
	if err := reportValidation(cfg.Validate(), slog.Default()); err != nil {
		return err
	}
	if checkOnly, _ := pflag.CommandLine.GetBool("check-config"); checkOnly {
		slog.Info("configuration is valid", slog.String("database", cfg.Database.DatabaseName()))
		return nil
	}

	logger, loggerProvider, err := serverapp.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	app, err := serverapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)

	return serve(app, logger)
}

// serve runs the app until SIGINT/SIGTERM or a server failure, then shuts it
// down. Shutdown uses the configured timeout.
func serve(app *serverapp.App, logger *logging.Logger) error {
	if err := app.Init(context.Background()); err != nil {
		return err
	}
	serverErrors, err := app.Start()
	if err != nil {
		return errors.Join(err, app.Shutdown(context.Background()))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	reason, waitErr := app.WaitForStop(stop, serverErrors)
	logger.Info("shutting down server", slog.String("reason", reason))
	if err := errors.Join(waitErr, app.Shutdown(context.Background())); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

// reportValidation logs every warning and error. It fails when any error was
// found.
func reportValidation(result *config.ValidationResult, logger *slog.Logger) error {
	for _, warn := range result.Warnings {
		logger.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if !result.HasErrors() {
		return nil
	}
	for _, e := range result.Errors {
		logger.Error("configuration error",
			slog.String("field", e.Field),
			slog.String("message", e.Message),
			slog.String("hint", e.Hint),
		)
	}
	return fmt.Errorf("configuration validation failed: %d error(s)", len(result.Errors))
}
