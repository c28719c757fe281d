// Greenhouse dashboard - live view bridge
//
// The dashboard relays greenhouse bus traffic to browser sessions:
//   - env/+/raw readings are pushed as "sensor_data"
//   - env/event/# alerts are pushed as "sensor_event"
//   - "simulation" requests from a session are published to the control topic
//
// It also serves the static live-view page, /healthz, /status and /metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/greenhouse-bridge/internal/api"
	"github.com/nerrad567/greenhouse-bridge/internal/bridge"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/config"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const serviceName = "dashboard"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bus client, bridge and live-view server, then blocks until
// ctx is cancelled.
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context) error {
	log := logging.Default(serviceName)
	log.Info("starting greenhouse dashboard",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// An unset DASHBOARD_CONFIG means defaults plus environment overrides.
	configPath := os.Getenv("DASHBOARD_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, serviceName, version)
	log.Info("configuration loaded",
		"path", configPath,
		"broker", cfg.MQTT.BrokerAddress(),
		"level", cfg.Logging.Level,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := api.NewHub(log.With("component", "hub"), api.NewHubMetrics(registry))

	bus := mqtt.New(cfg.MQTT, mqtt.WithLogger(log.With("component", "mqtt")))
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	relay, err := bridge.New(bridge.Deps{
		Config:      cfg.Bridge,
		QoS:         byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		Bus:         bus,
		Broadcaster: hub,
		Logger:      log.With("component", "bridge"),
		Metrics:     bridge.NewMetrics(registry),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:   cfg.HTTP,
		WS:       cfg.WebSocket,
		Logger:   log.With("component", "http"),
		Hub:      hub,
		Commands: relay,
		Health: map[string]api.HealthChecker{
			"bridge": relay,
			"mqtt":   bus,
		},
		Gatherer: registry,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating live-view server: %w", err)
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	// The HTTP server comes up first so the page is reachable while the
	// broker is still being dialled.
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting live-view server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing live-view server", "error", closeErr)
		}
	}()

	if err := relay.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", server.Addr(),
		"client_id", bus.ClientID(),
	)

	<-ctx.Done()

	// Deferred calls run in reverse order: live-view server, hub, MQTT.
	log.Info("shutdown signal received, cleaning up")
	return nil
}
