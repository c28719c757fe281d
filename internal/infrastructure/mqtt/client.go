package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/config"
)

// defaultReconnectInterval applies when the configured interval is not positive.
const defaultReconnectInterval = 3 * time.Second

// ConnState is the state of the broker link.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// String returns the lower-case state name used in logs and health output.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// Client wraps paho.mqtt.golang with an explicit reconnect loop.
//
// Start launches a goroutine that connects, re-issues every tracked
// subscription, waits for the connection to drop and then retries at a
// fixed interval for as long as the client is running. Failed attempts are
// logged, never returned.
//
// Every inbound message, whatever filter it matched, goes to the single
// handler registered with SetMessageHandler, in arrival order.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	cfg      config.MQTTConfig
	clientID string
	options  *pahomqtt.ClientOptions
	client   pahomqtt.Client
	newPaho  func(*pahomqtt.ClientOptions) pahomqtt.Client
	clock    Clock

	// filters is the subscription set, filter -> QoS. Re-issued on every connect.
	filters map[string]byte
	subMu   sync.RWMutex

	state  ConnState
	connMu sync.RWMutex

	handler        MessageHandler
	onConnect      func()
	onDisconnect   func(err error)
	onPublishError func(topic string, err error)
	callbackMu     sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	// lost receives connection-lost notifications from paho.
	lost chan error

	lifeMu  sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Logger is the logging surface the client needs.
// Satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// It runs on paho's router goroutine, one message at a time. It should not
// block for extended periods.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged at debug level; the handler is expected to report its own failures
type MessageHandler func(topic string, payload []byte) error

// New creates a Client for cfg. No network activity happens until Start.
//
// The client identity is cfg.Broker.ClientIDPrefix plus a random suffix
// unless WithClientID is given.
func New(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		newPaho: pahomqtt.NewClient,
		clock:   SystemClock{},
		filters: make(map[string]byte),
		lost:    make(chan error, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clientID == "" {
		c.clientID = NewClientID(cfg.Broker.ClientIDPrefix)
	}

	c.options = buildClientOptions(cfg, c.clientID)
	c.options.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(msg.Topic(), msg.Payload())
	})
	c.options.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.signalLost(err)
	})

	c.client = c.newPaho(c.options)
	return c
}

// ClientID returns the identity presented to the broker.
func (c *Client) ClientID() string {
	return c.clientID
}

// Start launches the connect/reconnect loop and returns immediately.
//
// The loop stops when ctx is cancelled or Close is called.
//
// Returns:
//   - error: ErrAlreadyStarted or ErrClosed
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// run is the reconnect state machine:
//
//	Disconnected -> Connecting -> Connected -> (lost) -> Disconnected -> wait -> Connecting ...
//
// Every wait is exactly one reconnect interval, with no attempt limit.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	interval := c.cfg.Reconnect.Interval
	if interval <= 0 {
		interval = defaultReconnectInterval
	}

	for attempt := 1; ; attempt++ {
		c.drainLost()
		c.setState(StateConnecting)
		c.logDebug("connecting to MQTT broker",
			"broker", BrokerURL(c.cfg),
			"client_id", c.clientID,
			"attempt", attempt,
		)

		err := c.connect(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		if err != nil {
			c.setState(StateDisconnected)
			c.logWarn("MQTT connection attempt failed",
				"broker", BrokerURL(c.cfg),
				"attempt", attempt,
				"retry_in", interval,
				"error", err,
			)
		} else {
			attempt = 0
			c.handleConnect()

			select {
			case <-ctx.Done():
				return
			case lostErr := <-c.lost:
				c.handleDisconnect(lostErr)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(interval):
		}
	}
}

// connect performs one connection attempt.
func (c *Client) connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// handleConnect runs on every successful connection. The connect callback
// runs before subscriptions are restored so consumers are ready when the
// first message arrives.
func (c *Client) handleConnect() {
	c.setState(StateConnected)
	c.logInfo("connected to MQTT broker",
		"broker", BrokerURL(c.cfg),
		"client_id", c.clientID,
	)

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}

	c.restoreSubscriptions()
}

// handleDisconnect runs when an established connection drops.
func (c *Client) handleDisconnect(err error) {
	c.setState(StateDisconnected)
	c.logWarn("MQTT connection lost",
		"broker", BrokerURL(c.cfg),
		"error", err,
	)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// signalLost is paho's connection-lost hook. Never blocks.
func (c *Client) signalLost(err error) {
	select {
	case c.lost <- err:
	default:
	}
}

func (c *Client) drainLost() {
	select {
	case <-c.lost:
	default:
	}
}

func (c *Client) setState(s ConnState) {
	c.connMu.Lock()
	c.state = s
	c.connMu.Unlock()
}

// State returns the current link state.
func (c *Client) State() ConnState {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.state
}

// Close stops the reconnect loop and disconnects from the broker.
//
// Pending background publishes are given up to the publish timeout to
// complete. Close is idempotent.
//
// Returns:
//   - error: Always nil; a connection that is already down is not an error
func (c *Client) Close() error {
	c.lifeMu.Lock()
	if c.closed {
		c.lifeMu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	if c.client != nil && c.client.IsConnectionOpen() {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}
	c.setState(StateDisconnected)

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if connected, ErrNotConnected otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports whether the link is up.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	return c.State() == StateConnected && c.client.IsConnectionOpen()
}

// SetMessageHandler registers the single consumer of inbound messages.
// A later call replaces the earlier handler.
func (c *Client) SetMessageHandler(handler MessageHandler) {
	c.callbackMu.Lock()
	c.handler = handler
	c.callbackMu.Unlock()
}

// SetOnConnect sets a callback invoked on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when an established connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetOnPublishError sets a callback invoked when a background publish fails.
func (c *Client) SetOnPublishError(callback func(topic string, err error)) {
	c.callbackMu.Lock()
	c.onPublishError = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection, subscription and handler logging.
// If not set, the client is silent.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, args...)
	}
}

// dispatch hands one inbound message to the registered handler with panic
// recovery, so a bad message never takes down paho's router goroutine.
func (c *Client) dispatch(topic string, payload []byte) {
	c.callbackMu.RLock()
	handler := c.handler
	c.callbackMu.RUnlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logError("MQTT handler panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()

	if err := handler(topic, payload); err != nil {
		c.logDebug("MQTT handler returned error",
			"topic", topic,
			"error", err,
		)
	}
}
