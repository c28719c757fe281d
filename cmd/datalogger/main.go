// Greenhouse data logger
//
// The data logger archives greenhouse bus traffic:
//   - env/+/raw readings are written to InfluxDB (when enabled)
//   - env/event/# alerts are stored in the SQLite event archive
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/greenhouse-bridge/internal/archive"
	"github.com/nerrad567/greenhouse-bridge/internal/bridge"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/config"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/database"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/greenhouse-bridge/migrations"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const serviceName = "datalogger"

// recentEventsOnStartup is how many archived events are logged at startup.
const recentEventsOnStartup = 5

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := logging.Default(serviceName)
	log.Info("starting greenhouse data logger",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := os.Getenv("DATALOGGER_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, serviceName, version)

	// Open event archive
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS, "."); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("event archive ready", "path", db.Path())

	// Connect to InfluxDB (optional)
	var readings archive.ReadingWriter
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled, readings will not be archived")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			stats := influxClient.Stats()
			log.Info("closing InfluxDB connection",
				"queued", stats.Queued,
				"skipped", stats.Skipped,
				"failed", stats.Failed,
			)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		readings = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	classifier, err := bridge.NewClassifier(cfg.Bridge.TelemetryFilter, cfg.Bridge.EventFilter)
	if err != nil {
		return fmt.Errorf("creating classifier: %w", err)
	}
	events := archive.NewSQLiteEventRepository(db.DB)
	if err := logRecentEvents(ctx, events, log, recentEventsOnStartup); err != nil {
		return fmt.Errorf("reading event archive: %w", err)
	}

	archiver := archive.NewArchiver(
		classifier,
		events,
		readings,
		log.With("component", "archive"),
	)

	bus := mqtt.New(cfg.MQTT,
		mqtt.WithClientID(mqtt.NewClientID(serviceName)),
		mqtt.WithLogger(log.With("component", "mqtt")),
	)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	bus.SetMessageHandler(archiver.HandleMessage)
	bus.SetOnConnect(func() { log.Info("MQTT connected") })
	bus.SetOnDisconnect(func(err error) { log.Warn("MQTT connection lost", "error", err) })

	if err := bus.Subscribe(classifier.Filters()...); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"filters", classifier.Filters(),
		"client_id", bus.ClientID(),
	)

	<-ctx.Done()

	// Deferred calls run in reverse order: MQTT, InfluxDB, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck verifies the archive stores answer before the bus is started.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// logRecentEvents logs the newest archived events, oldest first.
func logRecentEvents(ctx context.Context, events archive.EventRepository, log *logging.Logger, limit int) error {
	recent, err := events.Recent(ctx, limit)
	if err != nil {
		return err
	}
	log.Info("event archive opened", "recent_events", len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		e := recent[i]
		log.Info("archived event",
			"event_type", e.EventType,
			"node", e.Node,
			"topic", e.Topic,
			"occurred_at", e.OccurredAt,
		)
	}
	return nil
}
