package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic.
//
// Publishing is fire-and-forget: arguments and connection state are checked
// synchronously, the broker acknowledgement is watched in the background and
// a failure there is logged and reported to the OnPublishError callback.
//
// Parameters:
//   - topic: Concrete topic, no wildcards (e.g., "greenhouse/control/simulate")
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: Validation failure, ErrNotConnected or ErrClosed
//
// Example:
//
//	err := client.Publish(mqtt.Topics{}.ControlSimulate(), []byte(`{"type":"drought"}`), 0, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.lifeMu.Lock()
	if c.closed {
		c.lifeMu.Unlock()
		return ErrClosed
	}
	c.wg.Add(1)
	c.lifeMu.Unlock()

	token := c.client.Publish(topic, qos, retained, payload)
	go c.watchPublish(topic, token)

	return nil
}

// PublishDefault publishes with the configured QoS, not retained.
func (c *Client) PublishDefault(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), false)
}

// watchPublish waits for a publish token and reports a failure.
func (c *Client) watchPublish(topic string, token pahomqtt.Token) {
	defer c.wg.Done()

	var err error
	if !token.WaitTimeout(defaultPublishTimeout) {
		err = fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, defaultPublishTimeout)
	} else if tokenErr := token.Error(); tokenErr != nil {
		err = fmt.Errorf("%w: %w", ErrPublishFailed, tokenErr)
	}
	if err == nil {
		return
	}

	c.logError("MQTT publish failed",
		"topic", topic,
		"error", err,
	)

	c.callbackMu.RLock()
	callback := c.onPublishError
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(topic, err)
	}
}
