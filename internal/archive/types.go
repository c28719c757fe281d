package archive

import (
	"encoding/json"
	"time"
)

// Event is one archived event alert.
type Event struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`

	Topic     string `json:"topic"`
	Node      string `json:"node"`
	EventType string `json:"event_type"`
	Sensor    string `json:"sensor,omitempty"`

	// Value is the triggering reading, when the payload carried one.
	Value *float64 `json:"value,omitempty"`

	// Payload is the original message.
	Payload json.RawMessage `json:"payload"`

	// OccurredAt is the producer's timestamp, or receipt time (UTC).
	OccurredAt time.Time `json:"occurred_at"`

	// LoggedAt is when the archive stored the event (UTC).
	LoggedAt time.Time `json:"logged_at"`
}
