// BLE Simulator Core
//
// This is the main entry point for the BLE simulator core. It keeps a live
// registry of ESP32 boards that emulate fitness peripherals, relays their
// MQTT telemetry to dashboards over WebSocket, forwards control commands to
// the boards and can drive simulated heart-rate values.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/blesim-core/internal/api"
	"github.com/nerrad567/blesim-core/internal/bridge"
	"github.com/nerrad567/blesim-core/internal/device"
	"github.com/nerrad567/blesim-core/internal/infrastructure/config"
	"github.com/nerrad567/blesim-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/blesim-core/internal/infrastructure/logging"
	"github.com/nerrad567/blesim-core/internal/simulation"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// historyWriter is satisfied by *influxdb.Client and accepted by both the
// bridge and the scheduler.
type historyWriter interface {
	WriteDeviceValues(deviceID string, values map[string]any)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting BLE simulator core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Device registry (volatile; starts empty with no tombstones)
	registry := device.NewRegistry()
	registry.SetLogger(log.With("component", "registry"))
	if n := registry.ClearAllTombstones(); n > 0 {
		log.Info("tombstones cleared", "count", n)
	}

	// stop also ends the hub goroutine when startup fails part way
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Push channel hub
	hub := api.NewHub(log.With("component", "hub"))
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	// Telemetry history (optional)
	var history historyWriter
	influxClient, err := connectHistory(ctx, cfg.InfluxDB, log)
	if err != nil {
		log.Warn("InfluxDB unavailable, history disabled", "error", err)
	}
	if influxClient != nil {
		history = influxClient
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// MQTT bridge
	mqttBridge := bridge.New(bridge.Deps{
		Config:      cfg.MQTT,
		Registry:    registry,
		Broadcaster: hub,
		History:     history,
		Logger:      log.With("component", "bridge"),
	})
	if err := mqttBridge.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT bridge: %w", err)
	}
	defer mqttBridge.Stop()

	// Heart-rate simulation
	scheduler := simulation.New(simulation.Deps{
		Store:         registry,
		Publisher:     mqttBridge,
		Broadcaster:   hub,
		History:       history,
		Logger:        log.With("component", "simulation"),
		Interval:      cfg.GetTickInterval(),
		DefaultTarget: cfg.Simulation.DefaultTarget,
	})
	defer func() {
		log.Info("stopping simulations")
		scheduler.StopAll()
	}()

	// HTTP control surface
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log.With("component", "api"),
		Registry:  registry,
		Bridge:    mqttBridge,
		Simulator: scheduler,
		Hub:       hub,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", server.Addr(),
		"mqtt_connected", mqttBridge.IsConnected(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Simulations
	// 3. MQTT bridge
	// 4. InfluxDB (if enabled)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("BLE simulator core stopped")
	return nil
}

// connectHistory connects the InfluxDB writer when enabled. It returns a
// nil client and nil error when history is switched off.
func connectHistory(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg, log.With("component", "history"))
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// getConfigPath returns the configuration file path.
// Uses BLESIM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BLESIM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
