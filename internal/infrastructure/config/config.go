package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure shared by the dashboard bridge,
// the data logger and the edge node simulator.
// Values come from defaults, an optional YAML file, then environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Database  DatabaseConfig  `yaml:"database"`
	Edge      EdgeConfig      `yaml:"edge"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos" env:"MQTT_QOS"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host" env:"MQTT_BROKER"`
	Port int    `yaml:"port" env:"MQTT_PORT"`
	TLS  bool   `yaml:"tls" env:"MQTT_TLS"`

	// ClientIDPrefix is combined with a random suffix at startup so every
	// process instance presents a unique identity to the broker.
	ClientIDPrefix string `yaml:"client_id_prefix" env:"MQTT_CLIENT_ID_PREFIX"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
//
// Reconnection uses a fixed interval with no attempt limit.
type MQTTReconnectConfig struct {
	Interval time.Duration `yaml:"interval" env:"MQTT_RECONNECT_INTERVAL"`
}

// BridgeConfig contains the topic layout relayed by the bridge.
type BridgeConfig struct {
	TelemetryFilter string `yaml:"telemetry_filter"`
	EventFilter     string `yaml:"event_filter"`
	ControlTopic    string `yaml:"control_topic"`
}

// HTTPConfig contains the live-view HTTP server settings.
//
// An empty StaticDir serves the page embedded in the binary.
type HTTPConfig struct {
	Host      string            `yaml:"host" env:"HTTP_HOST"`
	Port      int               `yaml:"port" env:"HTTP_PORT"`
	StaticDir string            `yaml:"static_dir" env:"HTTP_STATIC_DIR"`
	IndexFile string            `yaml:"index_file"`
	Timeouts  HTTPTimeoutConfig `yaml:"timeouts"`
}

// HTTPTimeoutConfig contains HTTP timeout settings in seconds.
type HTTPTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains live-view session settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`

	// CommandRate limits inbound session messages per second. Zero disables limiting.
	CommandRate  float64 `yaml:"command_rate"`
	CommandBurst int     `yaml:"command_burst"`

	// UpgradeLimit caps session upgrades per client IP per minute. Zero disables it.
	UpgradeLimit int `yaml:"upgrade_limit"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output"`
}

// InfluxDBConfig contains InfluxDB connection settings for the reading archive.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"INFLUXDB_ENABLED"`
	URL           string `yaml:"url" env:"INFLUXDB_URL"`
	Token         string `yaml:"token" env:"INFLUXDB_TOKEN"`
	Org           string `yaml:"org" env:"INFLUXDB_ORG"`
	Bucket        string `yaml:"bucket" env:"INFLUXDB_BUCKET"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite settings for the event archive.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"ARCHIVE_DB_PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// EdgeConfig contains the edge node simulator settings.
type EdgeConfig struct {
	NodeID   string        `yaml:"node_id" env:"NODE_ID"`
	Interval time.Duration `yaml:"interval" env:"SENSOR_INTERVAL"`
}

// Load reads configuration and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, when path is non-empty
//  3. Environment variables (override file values)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the in-cluster defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:           "mqtt-broker",
				Port:           1883,
				ClientIDPrefix: "dashboard-subscriber",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				Interval: 3 * time.Second,
			},
		},
		Bridge: BridgeConfig{
			TelemetryFilter: "env/+/raw",
			EventFilter:     "env/event/#",
			ControlTopic:    "greenhouse/control/simulate",
		},
		HTTP: HTTPConfig{
			Host:      "0.0.0.0",
			Port:      3000,
			StaticDir: "",
			IndexFile: "index.html",
			Timeouts: HTTPTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
			CommandRate:    5,
			CommandBurst:   10,
			UpgradeLimit:   30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://influxdb:8086",
			Org:           "greenhouse",
			Bucket:        "sensor_data",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/events.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Edge: EdgeConfig{
			NodeID:   "edge-1",
			Interval: 20 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Only variables that are set replace the current value.
func applyEnvOverrides(cfg *Config) error {
	return env.Parse(cfg)
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.Interval <= 0 {
		errs = append(errs, "mqtt.reconnect.interval must be positive")
	}

	// Bridge topics
	if c.Bridge.TelemetryFilter == "" {
		errs = append(errs, "bridge.telemetry_filter is required")
	}
	if c.Bridge.EventFilter == "" {
		errs = append(errs, "bridge.event_filter is required")
	}
	if c.Bridge.ControlTopic == "" {
		errs = append(errs, "bridge.control_topic is required")
	} else if strings.ContainsAny(c.Bridge.ControlTopic, "+#") {
		errs = append(errs, "bridge.control_topic must not contain wildcards")
	}

	// HTTP validation
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 1 and 65535")
	}

	// WebSocket validation
	if c.WebSocket.Path == "" || c.WebSocket.Path[0] != '/' {
		errs = append(errs, "websocket.path must start with /")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, "websocket.max_message_size must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		errs = append(errs, "websocket.ping_interval must be positive")
	}
	if c.WebSocket.PongTimeout <= 0 {
		errs = append(errs, "websocket.pong_timeout must be positive")
	}
	if c.WebSocket.CommandRate < 0 {
		errs = append(errs, "websocket.command_rate must not be negative")
	}
	if c.WebSocket.UpgradeLimit < 0 {
		errs = append(errs, "websocket.upgrade_limit must not be negative")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}

	return nil
}

// BrokerAddress returns the host:port of the configured broker.
func (c MQTTConfig) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.Broker.Host, c.Broker.Port)
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a Duration.
func (c HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c HTTPConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
