// Package api provides the live-view HTTP server for the greenhouse bridge.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/config"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is a component reported by /healthz and /status.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.HTTPConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Hub      *Hub           // If set, the server uses this hub instead of creating its own
	Commands CommandHandler // Receives simulation requests; nil disables them
	Health   map[string]HealthChecker
	Gatherer prometheus.Gatherer // Defaults to prometheus.DefaultGatherer
	Version  string
}

// Server is the live-view HTTP server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.HTTPConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	commands    CommandHandler
	health      map[string]HealthChecker
	gatherer    prometheus.Gatherer
	version     string
	hub         *Hub
	externalHub bool // true if hub was injected externally
	startedAt   time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		commands: deps.Commands,
		health:   deps.Health,
		gatherer: deps.Gatherer,
		version:  deps.Version,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.wsCfg.Path == "" {
		s.wsCfg.Path = "/ws"
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.Logger, nil)
	}

	return s, nil
}

// Hub returns the session hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine.
//
// A hub created by New is run until Close; an injected hub is left to its owner.
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	s.logger.Info("live-view server listening", "address", listener.Addr().String())

	server := s.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("live-view server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections. WebSocket sessions are
// hijacked connections, so they are closed through the hub.
func (s *Server) Close() error {
	s.mu.Lock()
	server := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	if cancel != nil {
		cancel()
	}

	ctx, cancelTimeout := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancelTimeout()

	s.logger.Info("live-view server shutting down")
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down live-view server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// checkComponents runs every registered health check.
func (s *Server) checkComponents(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.health))
	for name, checker := range s.health {
		results[name] = checker.HealthCheck(ctx)
	}
	return results
}
