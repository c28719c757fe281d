// Package mqtt provides the greenhouse bus client.
//
// This package manages:
//   - A fixed-interval reconnect loop with no attempt limit
//   - A subscription set re-issued on every successful connection
//   - Fire-and-forget publishing with background failure reporting
//   - A single inbound message handler for all filters
//   - Topic builders, filter validation and filter matching
//
// # Architecture
//
// Edge nodes publish readings and alerts to the broker; the dashboard bridge
// and the data logger consume them; simulation commands flow back the other way.
//
//	Edge nodes <-> MQTT Broker <-> Dashboard bridge / Data logger
//
// paho's built-in auto-reconnect is disabled. The Client drives its own
// state machine (Disconnected, Connecting, Connected) with an injectable
// Clock so retry timing can be tested without sleeping.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, mqtt.WithLogger(logger))
//	client.SetMessageHandler(func(topic string, payload []byte) error {
//	    return bridge.HandleMessage(topic, payload)
//	})
//	if err := client.Subscribe(mqtt.TopicTelemetryFilter, mqtt.TopicEventFilter); err != nil {
//	    return err
//	}
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
