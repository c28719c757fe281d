// Greenhouse edge node simulator
//
// Publishes simulated temperature, humidity, light and air quality
// readings to env/<sensor>/raw, raises env/event/<type> alerts when a
// reading leaves its limits, and follows simulation commands received on
// the control topic.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/greenhouse-bridge/internal/edge"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/config"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
var version = "dev"

const serviceName = "edgenode"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("EDGENODE_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, serviceName, version).With("node", cfg.Edge.NodeID)
	log.Info("starting edge node simulator",
		"broker", cfg.MQTT.BrokerAddress(),
		"interval", cfg.Edge.Interval,
	)

	bus := mqtt.New(cfg.MQTT,
		mqtt.WithClientID(mqtt.NewClientID(cfg.Edge.NodeID)),
		mqtt.WithLogger(log.With("component", "mqtt")),
	)
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	node := edge.NewNode(cfg.Edge, byte(cfg.MQTT.QoS), bus, log) //nolint:gosec // validated to 0..2

	bus.SetMessageHandler(node.HandleControl)
	if err := bus.Subscribe(cfg.Bridge.ControlTopic); err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Bridge.ControlTopic, err)
	}
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT: %w", err)
	}

	if err := node.Run(ctx); err != nil {
		return fmt.Errorf("running node: %w", err)
	}

	log.Info("edge node stopped")
	return nil
}
