package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout of the greenhouse bus.
//
// Producers publish readings to env/{segment}/raw and constraint violations
// to env/event/{event_type}. Commands for producers go to a single control
// topic.
const (
	// TopicPrefixEnv is the base for all producer traffic.
	TopicPrefixEnv = "env"

	// TopicPrefixControl is the base for commands toward producers.
	TopicPrefixControl = "greenhouse/control"

	// TopicTelemetryFilter matches raw telemetry from any producer segment.
	TopicTelemetryFilter = "env/+/raw"

	// TopicEventFilter matches every event alert.
	TopicEventFilter = "env/event/#"
)

// Topics provides builders for greenhouse MQTT topics.
// Using these helpers keeps producer and consumer topic names in step.
//
//	topics := mqtt.Topics{}
//	topics.Raw("temperature")       // env/temperature/raw
//	topics.Event("light_low")       // env/event/light_low
//	topics.ControlSimulate()        // greenhouse/control/simulate
type Topics struct{}

// Raw returns the telemetry topic for a producer segment.
//
// Example: env/node7/raw
func (Topics) Raw(segment string) string {
	return fmt.Sprintf("%s/%s/raw", TopicPrefixEnv, segment)
}

// Event returns the event topic for an event type.
//
// Example: env/event/temperature_alert_high
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixEnv, eventType)
}

// ControlSimulate returns the topic that carries simulation commands.
//
// Example: greenhouse/control/simulate
func (Topics) ControlSimulate() string {
	return TopicPrefixControl + "/simulate"
}

// AllRaw returns a pattern matching all raw telemetry.
//
// Pattern: env/+/raw
func (Topics) AllRaw() string {
	return TopicTelemetryFilter
}

// AllEvents returns a pattern matching all event alerts.
//
// Pattern: env/event/#
func (Topics) AllEvents() string {
	return TopicEventFilter
}

// ValidateTopic checks a concrete publish topic: non-empty, no wildcards.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: %q contains a NUL character", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter.
//
// "+" must occupy a whole segment. "#" must occupy the whole last segment.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: filter cannot be empty", ErrInvalidFilter)
	}
	if strings.ContainsRune(filter, 0) {
		return fmt.Errorf("%w: %q contains a NUL character", ErrInvalidFilter, filter)
	}

	segments := strings.Split(filter, "/")
	for i, seg := range segments {
		switch {
		case seg == "#":
			if i != len(segments)-1 {
				return fmt.Errorf("%w: %q has '#' before the last segment", ErrInvalidFilter, filter)
			}
		case seg == "+":
		case strings.ContainsAny(seg, "+#"):
			return fmt.Errorf("%w: %q mixes a wildcard with text in segment %q", ErrInvalidFilter, filter, seg)
		}
	}
	return nil
}

// TopicMatches reports whether topic is matched by filter.
//
// "+" matches exactly one segment. "#" matches one or more trailing
// segments, so "env/event/#" matches "env/event/frost" but not "env/event".
// Wildcards in the first segment never match topics starting with '$'.
// filter is assumed to have passed ValidateFilter.
func TopicMatches(filter, topic string) bool {
	if topic == "" || filter == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		switch f {
		case "#":
			return len(ts) > i
		case "+":
			if i >= len(ts) {
				return false
			}
		default:
			if i >= len(ts) || ts[i] != f {
				return false
			}
		}
	}
	return len(fs) == len(ts)
}
