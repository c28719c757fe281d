package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time for a single connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds how long a background publish is watched.
	defaultPublishTimeout = 5 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for a SUBACK.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Option customises a Client at construction.
type Option func(*Client)

// WithClock replaces the wall clock used by the reconnect loop.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithLogger sets the logger at construction. Equivalent to SetLogger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientID overrides the generated client identity.
func WithClientID(id string) Option {
	return func(c *Client) {
		c.clientID = id
	}
}

// withPahoFactory swaps the paho constructor. Used by tests to inject a fake.
func withPahoFactory(f func(*pahomqtt.ClientOptions) pahomqtt.Client) Option {
	return func(c *Client) {
		c.newPaho = f
	}
}

// NewClientID returns prefix plus eight random hex characters, e.g.
// "dashboard-subscriber-1f3a9c2e". Each process start gets a fresh identity
// so two dashboards never kick each other off the broker.
func NewClientID(prefix string) string {
	suffix := uuid.NewString()[:8]
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}

// BrokerURL returns the paho broker URL for cfg.
//
// Example: tcp://mqtt-broker:1883
func BrokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions creates paho MQTT options from config.
//
// paho's own reconnect machinery is switched off; the Client runs its own
// fixed-interval loop. Inbound messages are routed to the default publish
// handler only, in arrival order.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(BrokerURL(cfg))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// No persistent session: subscriptions are re-issued on every connect.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetOrderMatters(true)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
