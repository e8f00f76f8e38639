// Package bootstrap loads configuration, builds the root logger and runs the
// daemon's long-lived components under one signal-aware errgroup.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"walletd/internal/config"
	"walletd/pkg/logging"
	"walletd/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// App holds the loaded configuration, telemetry providers and the root logger
type App struct {
	Cfg       *config.Config
	Logger    *logging.ZapLogger
	Telemetry *telemetry.Telemetry
}

// NewApp loads and pre-flights the configuration, then builds telemetry and
// the logger. Telemetry comes first so the log bridge binds the real provider.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	tel, err := InitTelemetry(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		if tel != nil {
			_ = tel.Shutdown(context.Background())
		}
		return nil, fmt.Errorf("logger: %w", err)
	}

	return &App{
		Cfg:       cfg,
		Logger:    logger,
		Telemetry: tel,
	}, nil
}

// Shutdown flushes telemetry and buffered logs
func (a *App) Shutdown(ctx context.Context) {
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			a.Logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}
	_ = a.Logger.Sync()
}

// Runner is a component that runs until its context is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run blocks until SIGINT/SIGTERM or until any runner fails
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext is Run with an explicit parent context. The first runner error
// cancels the others and is returned; a plain shutdown returns nil.
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting walletd", "runners", len(runners))

	for _, r := range runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("walletd stopped with error", "error", err)
		return err
	}

	a.Logger.Info("walletd shut down gracefully")
	return nil
}
