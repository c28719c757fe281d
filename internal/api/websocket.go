package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nerrad567/greenhouse-bridge/internal/bridge"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/config"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSimulation = "simulation"
	WSTypePing       = "ping"
	WSTypePong       = "pong"
	WSTypeEvent      = "event"
	WSTypeError      = "error"

	// wsSendBufferSize is the default per-session outbound buffer size.
	wsSendBufferSize = 256
)

// WSMessage is a message sent to or from a live-view client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Event     string `json:"event,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// inboundMessage is WSMessage with the payload left undecoded.
type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SimulationPayload is the payload of a "simulation" message. Any other
// field, including a client timestamp, is ignored.
type SimulationPayload struct {
	Type string `json:"type"`
}

// CommandHandler receives simulation requests from sessions.
// *bridge.Bridge satisfies it.
type CommandHandler interface {
	HandleCommand(sessionID, commandType string) error
}

// WSClient is a live-view session over a WebSocket connection.
type WSClient struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	commands CommandHandler
	limiter  *rate.Limiter
	logger   *logging.Logger

	mu     sync.Mutex
	closed bool
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The live view is served from the same origin and carries no credentials.
		return true
	},
}

// newWSClient creates a session. conn may be nil in tests that only use
// the send side.
func newWSClient(hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig, commands CommandHandler, logger *logging.Logger) *WSClient {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = wsSendBufferSize
	}

	var limiter *rate.Limiter
	if cfg.CommandRate > 0 {
		burst := cfg.CommandBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CommandRate), burst)
	}

	id := uuid.NewString()
	return &WSClient{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, buffer),
		commands: commands,
		limiter:  limiter,
		logger:   logger.With("session_id", id),
	}
}

// ID returns the session identifier.
func (c *WSClient) ID() string {
	return c.id
}

// Send queues data for the write pump without blocking.
func (c *WSClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// connection. Close is idempotent.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// handleWebSocket upgrades the HTTP connection and starts the session pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub.Closed() {
		writeUnavailable(w, "live view is shutting down")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, s.wsCfg, s.commands, s.logger)
	if err := s.hub.Register(client); err != nil {
		// Shutdown won the race: the write pump sends the close frame.
		go client.writePump(s.wsCfg)
		return
	}

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Session closed
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSimulation:
		c.handleSimulation(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSimulation forwards a simulation request. Accepted commands are not
// acknowledged, and publish failures stay server-side.
func (c *WSClient) handleSimulation(msg inboundMessage) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.hub.metrics.recordRateLimited("command")
		c.sendError(msg.ID, "rate limit exceeded")
		return
	}

	var payload SimulationPayload
	if len(msg.Payload) == 0 {
		c.sendError(msg.ID, "simulation payload is required")
		return
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.sendError(msg.ID, "invalid simulation payload")
		return
	}
	if payload.Type == "" {
		c.sendError(msg.ID, "simulation type is required")
		return
	}

	if c.commands == nil {
		c.logger.Warn("simulation command ignored, no command handler")
		return
	}
	if err := c.commands.HandleCommand(c.id, payload.Type); err != nil {
		if errors.Is(err, bridge.ErrInvalidCommand) {
			c.sendError(msg.ID, "invalid simulation type")
			return
		}
		c.logger.Debug("simulation command not published", "error", err)
	}
}

// sendResponse sends a message to this client only.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.Send(data); err != nil {
		c.logger.Debug("dropping reply", "type", msgType, "error", err)
	}
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
