package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// StartFunc boots the service and returns the function that stops it.
type StartFunc func(ctx context.Context) (shutdown func(ctx context.Context) error, err error)

// Runner owns process lifetime: it starts the service, waits for SIGINT or
// SIGTERM and gives shutdown a bounded amount of time.
type Runner struct {
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
	exit            func(code int)
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Logger: logger, ShutdownTimeout: 10 * time.Second, exit: os.Exit}
}

// Run starts the service and blocks until SIGTERM/SIGINT.
func (r *Runner) Run(start StartFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	r.run(ctx, start)
}

func (r *Runner) run(ctx context.Context, start StartFunc) {
	r.Logger.Info("starting")

	shutdown, err := start(ctx)
	if err != nil {
		r.Logger.Error("startup failed", "error", err)
		r.exit(1)
		return
	}

	<-ctx.Done()

	r.Logger.Info("shutdown requested", "timeout", r.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.ShutdownTimeout)
	defer cancel()

	if shutdown != nil {
		if err := shutdown(shutdownCtx); err != nil {
			r.Logger.Error("shutdown failed", "error", err)
			r.exit(1)
			return
		}
	}
	r.Logger.Info("stopped")
}
