package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

// timeLayout stores timestamps as sortable UTC text.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrInvalidEvent is returned by Insert for events missing a topic or payload.
var ErrInvalidEvent = errors.New("archive: invalid event")

// EventRepository stores and retrieves event alerts.
//
// Implementations must be thread-safe and use UTC timestamps.
type EventRepository interface {
	// Insert stores e and sets e.ID.
	Insert(ctx context.Context, e *Event) error

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// SQLiteEventRepository implements EventRepository on the sensor_events table.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates a repository on an open, migrated database.
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

// Insert stores an event. Zero timestamps are set to now.
func (r *SQLiteEventRepository) Insert(ctx context.Context, e *Event) error {
	if e.Topic == "" || len(e.Payload) == 0 {
		return fmt.Errorf("%w: topic and payload are required", ErrInvalidEvent)
	}

	now := time.Now().UTC()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	if e.LoggedAt.IsZero() {
		e.LoggedAt = now
	}

	var value sql.NullFloat64
	if e.Value != nil {
		value = sql.NullFloat64{Float64: *e.Value, Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sensor_events (topic, node, event_type, sensor, value, payload, occurred_at, logged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Topic,
		e.Node,
		e.EventType,
		e.Sensor,
		value,
		string(e.Payload),
		e.OccurredAt.UTC().Format(timeLayout),
		e.LoggedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting sensor event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading sensor event id: %w", err)
	}
	e.ID = id
	return nil
}

// Recent returns the newest events first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 200)
func (r *SQLiteEventRepository) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, topic, node, event_type, sensor, value, payload, occurred_at, logged_at
		 FROM sensor_events
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sensor events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e          Event
			value      sql.NullFloat64
			payload    string
			occurredAt string
			loggedAt   string
		)
		if err := rows.Scan(&e.ID, &e.Topic, &e.Node, &e.EventType, &e.Sensor, &value, &payload, &occurredAt, &loggedAt); err != nil {
			return nil, fmt.Errorf("scanning sensor event: %w", err)
		}

		if value.Valid {
			v := value.Float64
			e.Value = &v
		}
		e.Payload = []byte(payload)

		if e.OccurredAt, err = time.Parse(timeLayout, occurredAt); err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		if e.LoggedAt, err = time.Parse(timeLayout, loggedAt); err != nil {
			return nil, fmt.Errorf("parsing logged_at: %w", err)
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor events: %w", err)
	}

	return events, nil
}
