// Command fleetviewd runs the fleet dashboard engine.
//
// # Usage
//
//	fleetviewd --fleet-url https://fleet.gridpoint.energy --token fv_xxx
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (FLEETVIEW_*)
// - Config file (--config)
//
// # Examples
//
// Run scoped to one deployment:
//
//	fleetviewd --fleet-url https://fleet.gridpoint.energy \
//	           --token fv_xxx \
//	           --deployment festival-east
//
// Run with config file:
//
//	fleetviewd --config /etc/fleetview/fleetviewd.yaml
//
// Run with environment variables:
//
//	FLEETVIEW_FLEET_URL=https://fleet.gridpoint.energy \
//	FLEETVIEW_FLEET_TOKEN=fv_xxx \
//	fleetviewd
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridpoint-energy/fleetview/dashboard"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/config"
)

func main() {
	// Parse flags
	var (
		configFile = flag.String("config", "", "Path to config file")
		fleetURL   = flag.String("fleet-url", "", "Fleet API URL")
		token      = flag.String("token", "", "Fleet API token")
		broker     = flag.String("broker", "", "Push channel broker URL")
		deployment = flag.String("deployment", "", "Scope snapshots to a deployment")
		event      = flag.String("event", "", "Scope snapshots to an event")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	// Print version
	if *version {
		fmt.Printf("fleetviewd %s\n", dashboard.Version)
		os.Exit(0)
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	// Load configuration
	cfg := config.DefaultConfig()

	// Load from file if specified
	if *configFile != "" {
		fileCfg, err := config.LoadFromFile(*configFile)
		if err != nil {
			logger.Error("failed to load config file", "error", err)
			os.Exit(1)
		}
		cfg = fileCfg
	}

	// Apply environment overrides
	cfg.ApplyEnvOverrides()

	// Apply flag overrides
	if *fleetURL != "" {
		cfg.Fleet.URL = *fleetURL
	}
	if *token != "" {
		cfg.Fleet.Token = *token
	}
	if *broker != "" {
		cfg.Push.BrokerURL = *broker
	}
	if *deployment != "" {
		cfg.Filter.DeploymentID = *deployment
	}
	if *event != "" {
		cfg.Filter.EventID = *event
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create engine
	engine, err := dashboard.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	// Run engine
	if err := engine.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("engine exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("dashboard engine shutdown complete")
}
