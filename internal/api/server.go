// Package api provides the local HTTP control surface for peerlink.
// It exposes the peer views, the journal, service control and a live
// state feed.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tutu-network/peerlink/internal/domain"
	"github.com/tutu-network/peerlink/internal/health"
)

const (
	defaultHistoryLimit = 50
	maxMessageBytes     = 1 << 20
)

// Session is the part of the session coordinator the API drives.
type Session interface {
	Snapshot() domain.Snapshot
	StartServices() error
	StopServices()
	Send(data []byte, peers ...domain.PeerIdentity) error
	Subscribe(fn func()) (cancel func())
}

// History reads the persisted peer journal.
type History interface {
	KnownPeers() ([]domain.KnownPeer, error)
	PeerHistory(limit int) ([]domain.PeerEvent, error)
}

// HealthReporter exposes the latest health check results.
type HealthReporter interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Server is the peerlink HTTP API server.
type Server struct {
	session        Session
	history        History
	health         HealthReporter
	states         *StateHub
	logger         *zap.Logger
	metricsEnabled bool
}

// NewServer creates an API server for session and subscribes its live
// state feed to the session's notifications.
func NewServer(session Session, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		session: session,
		states:  NewStateHub(session.Snapshot),
		logger:  logger,
	}
	session.Subscribe(s.states.Notify)
	return s
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHistory sets the peer journal reader.
func (s *Server) SetHistory(h History) { s.history = h }

// SetHealth sets the health reporter shown in /api/status.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// StateHub returns the live state feed.
func (s *Server) StateHub() *StateHub { return s.states }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/api", func(r chi.Router) {
		// The SSE route must not sit behind the request timeout.
		r.Get("/peers/events", s.states.HandleSSE)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/status", s.handleStatus)
			r.Get("/peers", s.handlePeers)
			r.Get("/peers/known", s.handleKnownPeers)
			r.Get("/peers/history", s.handleHistory)
			r.Post("/peers/{id}/messages", s.handleSend)
			r.Post("/services/start", s.handleStart)
			r.Post("/services/stop", s.handleStop)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Handlers ───────────────────────────────────────────────────────────────

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Local   domain.PeerIdentity `json:"local"`
	Running bool                `json:"running"`
	Healthy bool                `json:"healthy"`
	Checks  []health.Status     `json:"checks,omitempty"`
	Counts  map[string]int      `json:"counts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	resp := StatusResponse{
		Local:   snap.Local,
		Running: snap.Running,
		Healthy: true,
		Counts:  make(map[string]int),
	}
	for _, phase := range domain.Phases() {
		resp.Counts[phase.Token()] = len(snap.Peers(phase))
	}
	if s.health != nil {
		resp.Healthy = s.health.IsHealthy()
		resp.Checks = s.health.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleKnownPeers(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "peer journal is disabled")
		return
	}
	peers, err := s.history.KnownPeers()
	if err != nil {
		s.logger.Error("known peers query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"peers": nonNil(peers)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "peer journal is disabled")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	events, err := s.history.PeerHistory(limit)
	if err != nil {
		s.logger.Error("history query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": nonNil(events)})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) > maxMessageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "message too large")
		return
	}

	peer := domain.PeerIdentity{ID: id}
	for _, p := range s.session.Snapshot().Connected {
		if p.ID == id {
			peer = p
			break
		}
	}

	if err := s.session.Send(data, peer); err != nil {
		switch {
		case errors.Is(err, domain.ErrServicesStopped):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrPeerNotConnected):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Warn("send failed", zap.String("peer", id), zap.Error(err))
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"peer": peer, "bytes": len(data)})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.session.StartServices(); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"running": true, "warning": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.session.StopServices()
	// Teardown does not notify observers; push the emptied views ourselves.
	s.states.Notify()
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local tools.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
