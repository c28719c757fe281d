// Package bridge routes greenhouse bus traffic to live-view sessions and
// session commands back onto the bus.
//
// Inbound, every bus message is classified by topic:
//
//	env/+/raw    -> telemetry -> broadcast as "sensor_data"
//	env/event/#  -> event     -> broadcast as "sensor_event" (and logged)
//	anything else is ignored
//
// Payloads must be JSON objects. They are passed through to sessions
// unchanged; an undecodable payload is logged and dropped without
// affecting later messages.
//
// Outbound, a session's simulation command is stamped with the server time
// and published to greenhouse/control/simulate.
//
// The Bridge tracks a process-wide state (Starting, BusConnecting, Running,
// BusReconnecting) driven by the bus client's connect and disconnect
// callbacks. Messages are only routed while Running.
package bridge
