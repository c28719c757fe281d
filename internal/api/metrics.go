package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HubMetrics holds the live-view Prometheus collectors.
type HubMetrics struct {
	sessions    prometheus.Gauge
	deliveries  *prometheus.CounterVec
	drops       *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
}

// NewHubMetrics registers the hub collectors on reg.
func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	f := promauto.With(reg)
	return &HubMetrics{
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_liveview_sessions",
			Help: "Connected live-view sessions",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "greenhouse_liveview_deliveries_total",
			Help: "Messages queued to live-view sessions, by event name",
		}, []string{"event"}),
		drops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "greenhouse_liveview_dropped_total",
			Help: "Messages not delivered to a live-view session, by reason",
		}, []string{"reason"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "greenhouse_liveview_rate_limited_total",
			Help: "Requests rejected by a rate limiter, by kind (command, upgrade)",
		}, []string{"kind"}),
	}
}

func (m *HubMetrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *HubMetrics) recordDelivered(event string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.WithLabelValues(event).Add(float64(n))
}

func (m *HubMetrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(reason).Inc()
}

func (m *HubMetrics) recordRateLimited(kind string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(kind).Inc()
}

// SystemStatus is the /status response.
type SystemStatus struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Components    map[string]string `json:"components"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains live-view hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// bytesPerMB converts bytes to megabytes.
const bytesPerMB = 1024 * 1024

// statusCheckTimeout bounds each component health check in /status and /healthz.
const statusCheckTimeout = 2 * time.Second

// handleStatus returns runtime and component statistics.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	ctx, cancel := context.WithTimeout(r.Context(), statusCheckTimeout)
	defer cancel()

	components := make(map[string]string, len(s.health))
	for name, err := range s.checkComponents(ctx) {
		if err != nil {
			components[name] = err.Error()
		} else {
			components[name] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(mem.Sys) / bytesPerMB,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Components: components,
	})
}
