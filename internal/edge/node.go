package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/config"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/mqtt"
)

// TimestampLayout is the reading timestamp format (UTC, milliseconds).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// defaultInterval applies when the configured interval is not positive.
const defaultInterval = 20 * time.Second

// Reading is the payload published for every sample.
type Reading struct {
	Sensor    string  `json:"sensor"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
	Node      string  `json:"node"`
	Event     bool    `json:"event"`
	EventType *string `json:"event_type"`
}

// ControlCommand is the payload received on the control topic.
type ControlCommand struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Publisher is the outbound half of the bus client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the structured logger used by the node.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Node is a simulated edge node.
//
// Thread Safety:
//   - SetMode and HandleControl may be called while Run is active.
type Node struct {
	id        string
	interval  time.Duration
	qos       byte
	publisher Publisher
	logger    Logger
	topics    mqtt.Topics
	now       func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	modeMu sync.RWMutex
	mode   Mode
}

// NewNode creates a node publishing through publisher.
func NewNode(cfg config.EdgeConfig, qos byte, publisher Publisher, logger Logger) *Node {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Node{
		id:        cfg.NodeID,
		interval:  interval,
		qos:       qos,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		mode:      ModeNormal,
	}
}

// ID returns the node identifier.
func (n *Node) ID() string {
	return n.id
}

// Mode returns the current simulation mode.
func (n *Node) Mode() Mode {
	n.modeMu.RLock()
	defer n.modeMu.RUnlock()
	return n.mode
}

// SetMode switches the simulation mode. Unknown types are logged and
// treated as a reset.
func (n *Node) SetMode(commandType string) Mode {
	mode, ok := ParseMode(commandType)
	if !ok {
		n.logger.Warn("unknown simulation mode, using normal readings", "type", commandType)
	}

	n.modeMu.Lock()
	previous := n.mode
	n.mode = mode
	n.modeMu.Unlock()

	if previous != mode {
		n.logger.Info("simulation mode changed", "from", string(previous), "to", string(mode))
	}
	return mode
}

// HandleControl is the bus message handler for the control topic.
func (n *Node) HandleControl(topic string, payload []byte) error {
	var cmd ControlCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		n.logger.Warn("invalid control message", "topic", topic, "error", err)
		return fmt.Errorf("decoding control message: %w", err)
	}
	if cmd.Type == "" {
		n.logger.Warn("control message without type", "topic", topic)
		return fmt.Errorf("decoding control message: type is empty")
	}
	n.logger.Info("simulation command received", "type", cmd.Type, "sent_at", cmd.Timestamp)
	n.SetMode(cmd.Type)
	return nil
}

// Sample produces one reading for sensor under the current mode.
func (n *Node) Sample(sensor string) Reading {
	n.rngMu.Lock()
	value := draw(n.rng, rangeFor(n.Mode(), sensor))
	n.rngMu.Unlock()

	r := Reading{
		Sensor:    sensor,
		Value:     value,
		Timestamp: n.now().UTC().Format(TimestampLayout),
		Node:      n.id,
	}
	if eventType, violated := CheckConstraint(sensor, value); violated {
		r.Event = true
		r.EventType = &eventType
	}
	return r
}

// PublishSample samples sensor and publishes the reading, plus an event
// when the reading violates its constraint.
func (n *Node) PublishSample(sensor string) (Reading, error) {
	r := n.Sample(sensor)

	payload, err := json.Marshal(r)
	if err != nil {
		return r, fmt.Errorf("marshalling reading: %w", err)
	}

	if err := n.publisher.Publish(n.topics.Raw(sensor), payload, n.qos, false); err != nil {
		return r, fmt.Errorf("publishing %s reading: %w", sensor, err)
	}
	n.logger.Debug("reading published", "sensor", sensor, "value", r.Value)

	if r.Event {
		if err := n.publisher.Publish(n.topics.Event(*r.EventType), payload, n.qos, false); err != nil {
			return r, fmt.Errorf("publishing %s event: %w", *r.EventType, err)
		}
		n.logger.Info("constraint violated",
			"sensor", sensor,
			"value", r.Value,
			"event_type", *r.EventType,
		)
	}
	return r, nil
}

// Run samples every sensor immediately and then once per interval, one
// goroutine per sensor, until ctx is cancelled. Publish failures are
// logged and the loop continues.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, sensor := range Sensors {
		g.Go(func() error {
			return n.runSensor(ctx, sensor)
		})
	}

	return g.Wait()
}

func (n *Node) runSensor(ctx context.Context, sensor string) error {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		if _, err := n.PublishSample(sensor); err != nil {
			n.logger.Warn("sensor publish failed", "sensor", sensor, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
