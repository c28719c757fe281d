package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/mqtt"
)

// Category is the semantic kind of an inbound bus message.
type Category int

const (
	CategoryUnrecognized Category = iota
	CategoryTelemetry
	CategoryEvent
)

// Broadcast event names seen by live-view clients.
const (
	EventSensorData  = "sensor_data"
	EventSensorEvent = "sensor_event"
)

// String returns the category name used as a metric label.
func (c Category) String() string {
	switch c {
	case CategoryTelemetry:
		return "telemetry"
	case CategoryEvent:
		return "event"
	default:
		return "unrecognized"
	}
}

// EventName returns the live-view event a category is broadcast as,
// or "" for CategoryUnrecognized.
func (c Category) EventName() string {
	switch c {
	case CategoryTelemetry:
		return EventSensorData
	case CategoryEvent:
		return EventSensorEvent
	default:
		return ""
	}
}

// InboundMessage is one message as received from the bus.
type InboundMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Sample is a classified and decoded message.
type Sample struct {
	Category Category
	Topic    string

	// Node identifies the producer: the "node" field, or for telemetry the
	// topic segment matched by the filter's "+" when the field is absent.
	Node string

	// EventType is the "event_type" field, or for events the topic tail
	// matched by "#" when the field is absent.
	EventType string

	// Timestamp is the producer's "timestamp" when parseable, otherwise
	// the receipt time.
	Timestamp time.Time

	// Fields is the decoded top-level object. Values are left undecoded.
	Fields map[string]json.RawMessage

	// Raw is the original payload, forwarded to sessions verbatim.
	Raw json.RawMessage
}

// Classifier maps topics to categories and decodes payloads.
type Classifier struct {
	telemetryFilter string
	eventFilter     string
	now             func() time.Time
}

// NewClassifier creates a Classifier for the given filters.
// Telemetry is checked before events when a topic matches both.
func NewClassifier(telemetryFilter, eventFilter string) (*Classifier, error) {
	if err := mqtt.ValidateFilter(telemetryFilter); err != nil {
		return nil, fmt.Errorf("%w: telemetry filter: %w", ErrInvalidConfig, err)
	}
	if err := mqtt.ValidateFilter(eventFilter); err != nil {
		return nil, fmt.Errorf("%w: event filter: %w", ErrInvalidConfig, err)
	}
	return &Classifier{
		telemetryFilter: telemetryFilter,
		eventFilter:     eventFilter,
		now:             time.Now,
	}, nil
}

// Filters returns the telemetry and event filters, for subscribing.
func (c *Classifier) Filters() []string {
	return []string{c.telemetryFilter, c.eventFilter}
}

// Category classifies a topic. It never looks at the payload.
func (c *Classifier) Category(topic string) Category {
	switch {
	case mqtt.TopicMatches(c.telemetryFilter, topic):
		return CategoryTelemetry
	case mqtt.TopicMatches(c.eventFilter, topic):
		return CategoryEvent
	default:
		return CategoryUnrecognized
	}
}

// Classify classifies and decodes one message received now.
func (c *Classifier) Classify(topic string, payload []byte) (Sample, error) {
	return c.ClassifyMessage(InboundMessage{Topic: topic, Payload: payload, ReceivedAt: c.now()})
}

// ClassifyMessage classifies and decodes msg.
//
// Unrecognized topics return a Sample with CategoryUnrecognized and no
// error; their payload is not decoded. A payload that is not a JSON object
// or is not valid UTF-8 returns an error wrapping ErrDecode.
func (c *Classifier) ClassifyMessage(msg InboundMessage) (Sample, error) {
	s := Sample{
		Category:  c.Category(msg.Topic),
		Topic:     msg.Topic,
		Timestamp: msg.ReceivedAt,
	}
	if s.Category == CategoryUnrecognized {
		return s, nil
	}

	fields, err := decodeObject(msg.Payload)
	if err != nil {
		return Sample{Category: s.Category, Topic: msg.Topic}, fmt.Errorf("%w: topic %s: %w", ErrDecode, msg.Topic, err)
	}
	s.Fields = fields
	s.Raw = json.RawMessage(msg.Payload)

	s.Node = stringField(fields, "node")
	s.EventType = stringField(fields, "event_type")

	switch s.Category {
	case CategoryTelemetry:
		if s.Node == "" {
			s.Node = wildcardSegment(c.telemetryFilter, msg.Topic)
		}
	case CategoryEvent:
		if s.EventType == "" {
			s.EventType = wildcardTail(c.eventFilter, msg.Topic)
		}
	}

	if ts, ok := parseTimestamp(fields["timestamp"]); ok {
		s.Timestamp = ts
	}

	return s, nil
}

// decodeObject decodes a JSON object into its top-level fields.
func decodeObject(payload []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("top-level value is not an object")
	}
	// Raw is forwarded to text frames, which must be valid UTF-8.
	if !utf8.Valid(trimmed) {
		return nil, fmt.Errorf("payload is not valid UTF-8")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// stringField returns fields[key] when it is a JSON string, else "".
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Producer timestamp layouts, tried in order. Layouts without a zone are
// read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// wildcardSegment returns the topic segment matched by the first "+" of filter.
func wildcardSegment(filter, topic string) string {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "+" && i < len(ts) {
			return ts[i]
		}
	}
	return ""
}

// wildcardTail returns the topic segments matched by a trailing "#".
func wildcardTail(filter, topic string) string {
	fs := strings.Split(filter, "/")
	if fs[len(fs)-1] != "#" {
		return ""
	}
	ts := strings.Split(topic, "/")
	if len(ts) < len(fs) {
		return ""
	}
	return strings.Join(ts[len(fs)-1:], "/")
}

// StringField returns the named top-level field when it is a JSON string.
func (s Sample) StringField(key string) string {
	return stringField(s.Fields, key)
}

// NumberField returns the named top-level field when it is a JSON number.
func (s Sample) NumberField(key string) (float64, bool) {
	raw, ok := s.Fields[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// Segment returns the topic segment matched by the filter's "+" for
// telemetry samples, or "" otherwise.
func (c *Classifier) Segment(topic string) string {
	if c.Category(topic) != CategoryTelemetry {
		return ""
	}
	return wildcardSegment(c.telemetryFilter, topic)
}
