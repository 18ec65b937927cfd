package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/molehq/molesearch-backend/internal/app"
	"github.com/molehq/molesearch-backend/internal/config"
)

func main() {
	configFlag := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(config.Path(*configFlag))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.NewWorker(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	// ffmpeg must be present before any video task is claimed.
	if err := a.Pipeline.AssertReady(ctx); err != nil {
		a.Log.Error("pipeline not ready", "error", err.Error())
		os.Exit(1)
	}

	go runCleanup(ctx, a, cfg)

	a.Log.Info("worker started",
		"check_interval", cfg.Worker.CheckInterval().String(),
		"cleanup_interval", cfg.Worker.CleanupInterval().String())
	a.Worker.Run(ctx)
	a.Log.Info("worker stopped")
}

// runCleanup sweeps terminal tasks past their retention age.
func runCleanup(ctx context.Context, a *app.App, cfg *config.Config) {
	interval := cfg.Worker.CleanupInterval()
	if interval <= 0 {
		interval = time.Hour
	}
	maxAge := time.Duration(cfg.Worker.MaxTaskAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.Manager.Cleanup(ctx, maxAge)
			if err != nil {
				a.Log.Warn("task cleanup failed", "error", err.Error())
				continue
			}
			if removed > 0 {
				a.Log.Info("task cleanup", "removed", removed)
			}
		}
	}
}
