package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/greenhouse-bridge/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Live view page and assets
	page := panel.Handler(s.cfg.StaticDir, s.cfg.IndexFile, http.HandlerFunc(s.handleNotFound))
	r.Get("/", page.ServeHTTP)
	r.Get("/static/*", page.ServeHTTP)

	// Operations
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Live-view sessions
	r.With(s.upgradeRateLimitMiddleware(s.wsCfg.UpgradeLimit)).Get(s.wsCfg.Path, s.handleWebSocket)

	r.NotFound(s.handleNotFound)

	return r
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeNotFound(w, "not found")
}

// handleHealth reports whether every component is healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusCheckTimeout)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(s.health))
	for name, err := range s.checkComponents(ctx) {
		if err != nil {
			status = http.StatusServiceUnavailable
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	body := map[string]any{
		"status":     "ok",
		"version":    s.version,
		"sessions":   s.hub.ClientCount(),
		"components": components,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
