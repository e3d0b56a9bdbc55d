// Package api exposes the Auris HTTP surface: session status and toggle,
// detection history, a WebSocket snapshot feed, health probes, and the
// Prometheus metrics endpoint.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/auris/internal/health"
	"github.com/MrWong99/auris/internal/history"
	"github.com/MrWong99/auris/internal/observe"
	"github.com/MrWong99/auris/internal/session"
	"github.com/MrWong99/auris/pkg/audio"
	"github.com/MrWong99/auris/pkg/classify"
)

// defaultDetectionLimit caps /detections responses when no limit is given.
const defaultDetectionLimit = 50

// Config holds the dependencies for a [Server].
type Config struct {
	// Controller is the session state machine. Required.
	Controller *session.Controller

	// Store serves the detection history endpoint. May be nil, in which
	// case /api/v1/detections returns an empty list.
	Store history.Store

	// Health serves the /healthz and /readyz probes. May be nil.
	Health *health.Handler

	// Metrics instruments request handling. May be nil.
	Metrics *observe.Metrics
}

// Server routes Auris HTTP requests. Create it with [New] and mount
// [Server.Handler] on an [http.Server].
type Server struct {
	cfg Config
}

// New validates cfg and returns a ready-to-mount server.
func New(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("api: session controller is required")
	}
	return &Server{cfg: cfg}, nil
}

// Handler builds the route table. All application routes pass through the
// observability middleware; /metrics is served raw so that scrapes do not
// instrument themselves.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/toggle", s.handleToggle)
	mux.HandleFunc("GET /api/v1/detections", s.handleDetections)
	mux.HandleFunc("GET /ws", s.handleWS)

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}

	root := http.NewServeMux()
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/", observe.Middleware(s.cfg.Metrics)(mux))
	return root
}

// handleStatus returns the current session snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Controller.Snapshot())
}

// handleToggle flips the session between idle and recording. Failures to
// start leave the session idle and map to a status code describing the
// blocked dependency.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cfg.Controller.Toggle(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("api: toggle failed", "err", err)
		writeJSON(w, toggleStatus(err), errorBody{
			Error:    err.Error(),
			Snapshot: &snap,
		})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleDetections returns recent recognitions, newest first, bounded by
// the optional ?limit query parameter.
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	limit := defaultDetectionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid limit %q", raw)})
			return
		}
		limit = n
	}

	detections := []history.Detection{}
	if s.cfg.Store != nil {
		recent, err := s.cfg.Store.Recent(r.Context(), limit)
		if err != nil {
			observe.Logger(r.Context()).Error("api: history query failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "history unavailable"})
			return
		}
		if recent != nil {
			detections = recent
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"detections": detections})
}

// toggleStatus maps a session start failure to an HTTP status code.
func toggleStatus(err error) int {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, classify.ErrModelLoad):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON error envelope for failed requests.
type errorBody struct {
	Error    string            `json:"error"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: response encode failed", "err", err)
	}
}
