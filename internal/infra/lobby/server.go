package lobby

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Hub over HTTP.
type Server struct {
	hub            *Hub
	metricsEnabled bool
}

// NewServer creates a lobby server for hub.
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with /ws and /health mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// No Timeout middleware: /ws connections are long-lived.
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.hub.ServeWS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"members": s.hub.Members(),
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}
