package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/logging"
)

// Session is one connected live-view client as seen by the Hub.
//
// Send must not block; a slow session reports ErrSendBufferFull instead.
type Session interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Hub manages live-view sessions and broadcasts events to all of them.
type Hub struct {
	logger   *logging.Logger
	metrics  *HubMetrics
	sessions map[Session]struct{}
	closed   bool
	mu       sync.RWMutex
	now      func() time.Time
}

// NewHub creates a new hub. metrics may be nil.
func NewHub(logger *logging.Logger, metrics *HubMetrics) *Hub {
	return &Hub{
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[Session]struct{}),
		now:      time.Now,
	}
}

// Run blocks until the context is cancelled, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a session to the hub. After the hub has shut down the
// session is closed and ErrHubClosed is returned.
func (h *Hub) Register(s Session) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		//nolint:errcheck // Best-effort close of a rejected session
		s.Close()
		return ErrHubClosed
	}
	h.sessions[s] = struct{}{}
	count := len(h.sessions)
	h.mu.Unlock()

	h.metrics.setSessions(count)
	h.logger.Debug("live-view session connected", "session_id", s.ID(), "sessions", count)
	return nil
}

// Unregister removes a session and closes it. After Unregister returns, no
// broadcast starting later will reach the session.
// Only the call that removes the session closes it.
func (h *Hub) Unregister(s Session) {
	h.mu.Lock()
	_, existed := h.sessions[s]
	delete(h.sessions, s)
	count := len(h.sessions)
	h.mu.Unlock()

	if !existed {
		return
	}
	if err := s.Close(); err != nil {
		h.logger.Debug("closing live-view session", "session_id", s.ID(), "error", err)
	}
	h.metrics.setSessions(count)
	h.logger.Debug("live-view session disconnected", "session_id", s.ID(), "sessions", count)
}

// Broadcast sends one event envelope to every registered session.
//
// The envelope is marshalled once. Sessions are snapshotted under the read
// lock and delivered to after it is released; a session that fails or
// panics is logged and counted and the rest still receive the message.
func (h *Hub) Broadcast(event string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		Event:     event,
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "event", event, "error", err)
		return
	}
	// Browsers close the connection on a text frame with invalid UTF-8.
	// encoding/json passes RawMessage bytes through unchecked.
	if !utf8.Valid(data) {
		h.logger.Warn("replacing invalid UTF-8 in broadcast", "event", event)
		data = bytes.ToValidUTF8(data, []byte("\uFFFD"))
	}

	h.mu.RLock()
	sessions := make([]Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range sessions {
		if err := deliver(s, data); err != nil {
			h.metrics.recordDrop(dropReason(err))
			h.logger.Warn("live-view delivery failed",
				"session_id", s.ID(),
				"event", event,
				"error", err,
			)
			continue
		}
		delivered++
	}

	h.metrics.recordDelivered(event, delivered)
	if delivered > 0 {
		h.logger.Debug("broadcast sent", "event", event, "recipients", delivered)
	}
}

// deliver calls s.Send, converting a panic into an error.
func deliver(s Session, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panicked: %v", r)
		}
	}()
	return s.Send(data)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrSendBufferFull):
		return "buffer_full"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	default:
		return "error"
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Closed reports whether the hub has shut down.
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// closeAll removes and closes every session and rejects later registrations.
func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		//nolint:errcheck // Best-effort close at shutdown
		s.Close()
	}
	h.metrics.setSessions(0)
}
