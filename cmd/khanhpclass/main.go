package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HoangQuocKhanh0504/khanhpclass/internal/app"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/config"
)

// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("khanhpclass exited", "error", err)
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(ctx context.Context) error {
	// STEP 1: Configuration: .env, then defaults < file < environment
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(os.Getenv(config.EnvPrefix + "CONFIG_FILE"))
	if err != nil {
		return err
	}
	slog.SetDefault(app.NewLogger(cfg.Log.Format, cfg.Log.Level))

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// STEP 3: Start and wait for a shutdown signal
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	<-ctx.Done()
	slog.Info("shutdown requested")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Std())
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
