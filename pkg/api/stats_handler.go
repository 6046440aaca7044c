// Package api provides the admin HTTP endpoints of the port server
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nebari-dev/portserver/pkg/handler"
	"github.com/nebari-dev/portserver/pkg/logger"
	"github.com/nebari-dev/portserver/pkg/pool"
)

var (
	// Version information (set by main package)
	Version string
)

// DefaultStatsInterval is how often the stats stream pushes a snapshot
const DefaultStatsInterval = 5 * time.Second

// Source is what the admin API reports on
type Source interface {
	Stats() handler.Stats
	Leases(ctx context.Context) ([]pool.Lease, error)
	LastActivity() *time.Time
	IdleFor() time.Duration
}

// StatsResponse is the body of GET /api/stats and of each stream message
type StatsResponse struct {
	handler.Stats
	LastRequest *time.Time `json:"last_request,omitempty"`
	IdleSeconds float64    `json:"idle_seconds"`
	Version     string     `json:"version,omitempty"`
}

// LeasesResponse is the body of GET /api/leases
type LeasesResponse struct {
	Leases []pool.Lease `json:"leases"`
	Count  int          `json:"count"`
	Held   int          `json:"held"`
}

// StatsHandler serves stats, leases, metrics and the stats stream
type StatsHandler struct {
	source   Source
	interval time.Duration
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewStatsHandler creates the admin API handler. A non-positive interval
// falls back to DefaultStatsInterval.
func NewStatsHandler(src Source, interval time.Duration, log *logger.Logger) *StatsHandler {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		newCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &StatsHandler{
		source:   src,
		interval: interval,
		registry: registry,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:   log.WithComponent("admin-api"),
	}
}

// RegisterRoutes registers every admin endpoint on mux
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.HandleHealth)
	mux.HandleFunc("/api/stats", h.HandleGetStats)
	mux.HandleFunc("/api/leases", h.HandleGetLeases)
	mux.HandleFunc("/api/stats/stream", h.HandleStatsStream)
	mux.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
}

// HandleHealth reports that the admin surface is up
// GET /healthz
func (h *StatsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleGetStats returns the server counters
// GET /api/stats
func (h *StatsHandler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, h.snapshot())
}

// HandleGetLeases returns the lease table in ring order
// GET /api/leases
func (h *StatsHandler) HandleGetLeases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	leases, err := h.source.Leases(r.Context())
	if err != nil {
		h.logger.Error("failed to read leases", err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	held := 0
	for _, l := range leases {
		if l.Leased() {
			held++
		}
	}
	h.writeJSON(w, LeasesResponse{Leases: leases, Count: len(leases), Held: held})
}

// HandleStatsStream pushes a stats snapshot over a websocket on connect and
// then once per interval until the client goes away
// GET /api/stats/stream
func (h *StatsHandler) HandleStatsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("stats stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain incoming frames so close and ping frames are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("stats stream opened", "remote", r.RemoteAddr)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		_ = conn.SetWriteDeadline(time.Now().Add(h.interval))
		if err := conn.WriteJSON(h.snapshot()); err != nil {
			h.logger.Debug("stats stream closed", "remote", r.RemoteAddr, "error", err)
			return
		}

		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

func (h *StatsHandler) snapshot() StatsResponse {
	return StatsResponse{
		Stats:       h.source.Stats(),
		LastRequest: h.source.LastActivity(),
		IdleSeconds: h.source.IdleFor().Seconds(),
		Version:     Version,
	}
}

func (h *StatsHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
