package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/config"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/mqtt"
)

// Bus is the part of the bus client the bridge drives.
// *mqtt.Client satisfies it.
type Bus interface {
	Publisher
	Subscribe(filters ...string) error
	SetMessageHandler(handler mqtt.MessageHandler)
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetOnPublishError(callback func(topic string, err error))
	Start(ctx context.Context) error
}

// Broadcaster fans one event out to every live-view session.
// *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Deps are the collaborators of a Bridge.
type Deps struct {
	Config      config.BridgeConfig
	QoS         byte
	Bus         Bus
	Broadcaster Broadcaster
	Logger      Logger

	// Metrics may be nil.
	Metrics *Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Bridge connects the bus to the live-view sessions.
//
// Thread Safety:
//   - HandleMessage is called sequentially by the bus client.
//   - HandleCommand may be called concurrently from any session.
type Bridge struct {
	bus         Bus
	broadcaster Broadcaster
	classifier  *Classifier
	commands    *CommandChannel
	logger      Logger
	metrics     *Metrics
	now         func() time.Time

	state   atomic.Int32
	stateMu sync.Mutex
	started atomic.Bool
}

// New validates deps and creates a Bridge in StateStarting.
func New(deps Deps) (*Bridge, error) {
	if deps.Bus == nil || deps.Broadcaster == nil || deps.Logger == nil {
		return nil, fmt.Errorf("%w: bus, broadcaster and logger are required", ErrInvalidConfig)
	}

	classifier, err := NewClassifier(deps.Config.TelemetryFilter, deps.Config.EventFilter)
	if err != nil {
		return nil, err
	}

	commands, err := NewCommandChannel(deps.Bus, deps.Config.ControlTopic, deps.QoS, deps.Logger, deps.Metrics)
	if err != nil {
		return nil, err
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	classifier.now = now
	commands.now = now

	b := &Bridge{
		bus:         deps.Bus,
		broadcaster: deps.Broadcaster,
		classifier:  classifier,
		commands:    commands,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		now:         now,
	}
	b.metrics.setState(StateStarting)
	return b, nil
}

// Start wires the bridge into the bus, subscribes to the telemetry and
// event filters and starts the bus connection loop.
//
// It returns once the loop is running; the first connection is reported
// asynchronously through the state machine.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	b.bus.SetMessageHandler(b.HandleMessage)
	b.bus.SetOnConnect(b.onBusConnected)
	b.bus.SetOnDisconnect(b.onBusLost)
	b.bus.SetOnPublishError(b.onPublishError)

	if err := b.bus.Subscribe(b.classifier.Filters()...); err != nil {
		return fmt.Errorf("subscribing bridge filters: %w", err)
	}

	b.transition(StateBusConnecting)

	if err := b.bus.Start(ctx); err != nil {
		return fmt.Errorf("starting bus: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// HealthCheck reports ErrNotRunning unless the bridge is Running.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s := b.State(); s != StateRunning {
		return fmt.Errorf("%w: %s", ErrNotRunning, s)
	}
	return nil
}

// HandleMessage classifies one bus message and broadcasts it.
//
// Telemetry goes out as "sensor_data", events as "sensor_event" with an
// alert log line. Unrecognized topics are ignored without logging. A decode
// failure is logged and returned; it never affects later messages.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	if b.classifier.Category(topic) == CategoryUnrecognized {
		b.metrics.RecordMessage(CategoryUnrecognized)
		return nil
	}
	if b.State() != StateRunning {
		b.metrics.recordDropped()
		return fmt.Errorf("%w: dropping message on %s", ErrNotRunning, topic)
	}

	sample, err := b.classifier.ClassifyMessage(InboundMessage{
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: b.now(),
	})
	b.metrics.RecordMessage(sample.Category)
	if err != nil {
		b.metrics.RecordDecodeError()
		b.logger.Warn("discarding undecodable message",
			"topic", topic,
			"error", err,
		)
		return err
	}

	if sample.Category == CategoryEvent {
		b.logger.Info("event received",
			"event_type", sample.EventType,
			"node", sample.Node,
			"topic", topic,
		)
	}

	event := sample.Category.EventName()
	b.broadcaster.Broadcast(event, sample.Raw)
	b.metrics.recordBroadcast(event)
	return nil
}

// HandleCommand publishes a simulation command requested by a session.
func (b *Bridge) HandleCommand(sessionID, commandType string) error {
	return b.commands.OnCommand(sessionID, commandType)
}

func (b *Bridge) onBusConnected() {
	b.metrics.setBusConnected(true)
	b.transition(StateRunning)
}

func (b *Bridge) onBusLost(err error) {
	b.metrics.setBusConnected(false)
	b.logger.Warn("bus connection lost, reconnecting", "error", err)
	b.transition(StateBusReconnecting)
}

func (b *Bridge) onPublishError(topic string, err error) {
	b.metrics.recordPublishError()
	b.logger.Error("background publish failed",
		"topic", topic,
		"error", err,
	)
}

// transition moves to next when the state machine allows it.
func (b *Bridge) transition(next State) bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	current := b.State()
	if current == next {
		return false
	}
	if !canTransition(current, next) {
		b.logger.Debug("ignoring bridge state transition",
			"from", current.String(),
			"to", next.String(),
		)
		return false
	}

	b.state.Store(int32(next))
	b.metrics.setState(next)
	b.logger.Info("bridge state changed",
		"from", current.String(),
		"to", next.String(),
	)
	return true
}
