package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/greenhouse-bridge/internal/bridge"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/influxdb"
)

// defaultWriteTimeout bounds one event insert.
const defaultWriteTimeout = 5 * time.Second

// ReadingWriter queues readings for the time-series store.
// *influxdb.Client satisfies it.
type ReadingWriter interface {
	WriteReading(r influxdb.Reading)
}

// Logger is the structured logger used by the archiver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Archiver stores classified bus messages.
type Archiver struct {
	classifier   *bridge.Classifier
	events       EventRepository
	readings     ReadingWriter
	logger       Logger
	now          func() time.Time
	writeTimeout time.Duration
}

// NewArchiver creates an Archiver. readings may be nil, in which case
// telemetry is skipped and only events are archived.
func NewArchiver(classifier *bridge.Classifier, events EventRepository, readings ReadingWriter, logger Logger) *Archiver {
	return &Archiver{
		classifier:   classifier,
		events:       events,
		readings:     readings,
		logger:       logger,
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
	}
}

// HandleMessage archives one bus message. It has the bus client's
// MessageHandler signature.
//
// Undecodable payloads are logged and skipped. Topics that are neither
// telemetry nor events are ignored.
func (a *Archiver) HandleMessage(topic string, payload []byte) error {
	sample, err := a.classifier.ClassifyMessage(bridge.InboundMessage{
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: a.now(),
	})
	if err != nil {
		a.logger.Warn("skipping undecodable message", "topic", topic, "error", err)
		return err
	}

	switch sample.Category {
	case bridge.CategoryTelemetry:
		a.archiveReading(sample)
		return nil
	case bridge.CategoryEvent:
		return a.archiveEvent(sample)
	default:
		a.logger.Debug("ignoring message", "topic", topic)
		return nil
	}
}

func (a *Archiver) archiveReading(sample bridge.Sample) {
	if a.readings == nil {
		return
	}

	reading := ReadingFromSample(sample, a.classifier.Segment(sample.Topic))
	if len(reading.Fields) == 0 {
		a.logger.Debug("reading has no numeric fields", "topic", sample.Topic)
		return
	}
	a.readings.WriteReading(reading)
}

func (a *Archiver) archiveEvent(sample bridge.Sample) error {
	event := EventFromSample(sample, a.now())

	ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
	defer cancel()

	if err := a.events.Insert(ctx, &event); err != nil {
		a.logger.Error("archiving event failed",
			"topic", sample.Topic,
			"event_type", event.EventType,
			"error", err,
		)
		return fmt.Errorf("archiving event: %w", err)
	}

	a.logger.Info("event archived",
		"id", event.ID,
		"event_type", event.EventType,
		"node", event.Node,
	)
	return nil
}

// reservedFields are payload keys carried as tags or timestamps, never fields.
var reservedFields = map[string]struct{}{
	"node":       {},
	"sensor":     {},
	"timestamp":  {},
	"event_type": {},
}

// ReadingFromSample converts a telemetry sample into a reading. The sensor
// tag is the "sensor" field, or segment when the payload has none. Numeric
// and boolean fields are kept; strings, objects and arrays are dropped.
func ReadingFromSample(sample bridge.Sample, segment string) influxdb.Reading {
	sensor := sample.StringField("sensor")
	if sensor == "" {
		sensor = segment
	}

	fields := make(map[string]interface{}, len(sample.Fields))
	for key, raw := range sample.Fields {
		if _, reserved := reservedFields[key]; reserved {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		switch v := v.(type) {
		case float64, bool:
			fields[key] = v
		}
	}

	return influxdb.Reading{
		Node:   sample.Node,
		Sensor: sensor,
		Topic:  sample.Topic,
		Fields: fields,
		Time:   sample.Timestamp,
	}
}

// EventFromSample converts an event sample into an Event logged at loggedAt.
func EventFromSample(sample bridge.Sample, loggedAt time.Time) Event {
	e := Event{
		Topic:      sample.Topic,
		Node:       sample.Node,
		EventType:  sample.EventType,
		Sensor:     sample.StringField("sensor"),
		Payload:    append(json.RawMessage(nil), sample.Raw...),
		OccurredAt: sample.Timestamp.UTC(),
		LoggedAt:   loggedAt.UTC(),
	}
	if v, ok := sample.NumberField("value"); ok {
		e.Value = &v
	}
	return e
}
