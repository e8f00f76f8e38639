package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"walletd/internal/bootstrap"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/walletd.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("walletd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	app.Logger.Info("Starting walletd", "version", version, "config", *configPath)

	d, err := build(app.Cfg, app.Logger)
	if err != nil {
		app.Logger.Error("Failed to build daemon", "error", err)
		app.Shutdown(context.Background())
		os.Exit(1)
	}

	runErr := app.Run(d.runners()...)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.close(shutdownCtx)
	app.Shutdown(shutdownCtx)

	if runErr != nil {
		os.Exit(1)
	}
}
