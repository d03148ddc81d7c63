package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tidb-odata/internal/logging"
)

// releaseFunc frees one resource acquired during Init.
type releaseFunc func(context.Context) error

type release struct {
	name string
	fn   releaseFunc
}

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack []release

func (s *cleanupStack) push(name string, fn releaseFunc) {
	*s = append(*s, release{name: name, fn: fn})
}

// run releases every resource even when some fail, and returns the failures
// joined.
func (s cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		r := s[i]
		start := time.Now()
		if err := r.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
			if logger != nil {
				logger.Warn("release failed",
					slog.String("resource", r.name),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if logger != nil {
			logger.Info("released "+r.name, slog.Duration("took", time.Since(start)))
		}
	}
	return errors.Join(errs...)
}

// Shutdown releases all acquired resources. Without a deadline on ctx the
// configured server shutdown timeout applies. Later calls return the result
// of the first.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
		defer cancel()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		stack := a.cleanup
		a.cleanup = nil
		a.started = false
		a.stateMu.Unlock()

		a.shutdownErr = stack.run(ctx, a.logger)
	})
	return a.shutdownErr
}
