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

	a, err := app.NewServer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			a.Log.Error("server failed", "error", err.Error())
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Log.Warn("shutdown incomplete", "error", err.Error())
		}
	}
}
