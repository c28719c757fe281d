package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/mqtt"
)

// CommandTimestampLayout is ISO-8601 with millisecond precision. Times are
// converted to UTC first, so the zone is always "Z".
const CommandTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// MaxCommandTypeLength bounds the command type accepted from a session.
const MaxCommandTypeLength = 64

// Command is the payload published on the control topic.
type Command struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Publisher is the outbound half of the bus client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// CommandChannel turns session simulation requests into control messages.
//
// The timestamp is always the server's; nothing from the session other than
// the command type reaches the bus.
type CommandChannel struct {
	publisher Publisher
	topic     string
	qos       byte
	now       func() time.Time
	logger    Logger
	metrics   *Metrics
}

// NewCommandChannel creates a CommandChannel publishing to topic.
func NewCommandChannel(publisher Publisher, topic string, qos byte, logger Logger, metrics *Metrics) (*CommandChannel, error) {
	if err := mqtt.ValidateTopic(topic); err != nil {
		return nil, fmt.Errorf("%w: control topic: %w", ErrInvalidConfig, err)
	}
	return &CommandChannel{
		publisher: publisher,
		topic:     topic,
		qos:       qos,
		now:       time.Now,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Topic returns the control topic.
func (c *CommandChannel) Topic() string {
	return c.topic
}

// OnCommand publishes a simulation command of commandType on behalf of sessionID.
//
// An empty or oversized type returns ErrInvalidCommand and nothing is
// published. Publish failures are logged, counted and returned; callers do
// not forward them to the session.
func (c *CommandChannel) OnCommand(sessionID, commandType string) error {
	commandType = strings.TrimSpace(commandType)
	if commandType == "" || len(commandType) > MaxCommandTypeLength {
		c.metrics.recordRejected()
		c.logger.Warn("rejecting simulation command",
			"session_id", sessionID,
			"length", len(commandType),
		)
		return fmt.Errorf("%w: type must be 1-%d characters", ErrInvalidCommand, MaxCommandTypeLength)
	}

	cmd := Command{
		Type:      commandType,
		Timestamp: c.now().UTC().Format(CommandTimestampLayout),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}

	c.logger.Info("simulation command received",
		"type", cmd.Type,
		"session_id", sessionID,
	)

	if err := c.publisher.Publish(c.topic, payload, c.qos, false); err != nil {
		c.metrics.recordPublishError()
		c.logger.Error("publishing simulation command failed",
			"type", cmd.Type,
			"topic", c.topic,
			"error", err,
		)
		return err
	}

	c.metrics.recordCommand()
	return nil
}
