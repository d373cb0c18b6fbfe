// SPDX-License-Identifier: MIT

// Package api serves the ops surface: SLA snapshots, alert and transition
// history, session inspection, the event intake used by the transport
// adapter, health and Prometheus metrics.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/silasqian/quoteflow/internal/workflow"
)

// Server holds the handler dependencies.
type Server struct {
	store   *workflow.Store
	monitor *workflow.Monitor
	logger  zerolog.Logger
}

// NewRouter builds the chi router. ratePerMinute <= 0 disables limiting.
func NewRouter(store *workflow.Store, monitor *workflow.Monitor, ratePerMinute int, logger zerolog.Logger) http.Handler {
	s := &Server{store: store, monitor: monitor, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if ratePerMinute > 0 {
		r.Use(httprate.LimitByIP(ratePerMinute, time.Minute))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/sla", s.handleSLA)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/transitions", s.handleTransitions)
		r.Get("/sessions/{id}", s.handleSession)
		r.Post("/events", s.handleEnqueue)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSLA(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.RecentAlerts(r.Context(), limitParam(r, 50))
	if err != nil {
		s.logger.Error().Err(err).Msg("listing alerts failed")
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if alerts == nil {
		alerts = []workflow.AlertEvent{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

type transitionResponse struct {
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	JobID     string    `json:"job_id,omitempty"`
	At        time.Time `json:"at"`
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	trs, err := s.store.RecentTransitions(r.Context(), limitParam(r, 50))
	if err != nil {
		s.logger.Error().Err(err).Msg("listing transitions failed")
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	out := make([]transitionResponse, 0, len(trs))
	for _, tr := range trs {
		out = append(out, transitionResponse{
			SessionID: tr.SessionID,
			From:      string(tr.From),
			To:        string(tr.To),
			JobID:     tr.JobID,
			At:        tr.At,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type sessionResponse struct {
	ID              string         `json:"id"`
	Stage           string         `json:"stage"`
	PriorStage      string         `json:"prior_stage,omitempty"`
	ManualTakeover  bool           `json:"manual_takeover"`
	LastActivityAt  time.Time      `json:"last_activity_at"`
	FirstResponseAt *time.Time     `json:"first_response_at,omitempty"`
	QuoteIssuedAt   *time.Time     `json:"quote_issued_at,omitempty"`
	StageAttempts   map[string]int `json:"stage_attempts,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.Session(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		s.writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("loading session failed")
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	resp := sessionResponse{
		ID:             sess.ID,
		Stage:          string(sess.Stage),
		PriorStage:     string(sess.PriorStage),
		ManualTakeover: sess.ManualTakeover,
		LastActivityAt: sess.LastActivityAt,
		StageAttempts:  map[string]int{},
		CreatedAt:      sess.CreatedAt,
	}
	if !sess.FirstResponseAt.IsZero() {
		t := sess.FirstResponseAt
		resp.FirstResponseAt = &t
	}
	if !sess.QuoteIssuedAt.IsZero() {
		t := sess.QuoteIssuedAt
		resp.QuoteIssuedAt = &t
	}
	for stage, n := range sess.StageAttempts {
		resp.StageAttempts[string(stage)] = n
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type enqueueRequest struct {
	SessionID string           `json:"session_id"`
	EventID   string           `json:"event_id"`
	Kind      string           `json:"kind,omitempty"`
	Payload   workflow.Payload `json:"payload"`
}

// handleEnqueue is the intake used by the marketplace transport adapter.
// Redelivered events return 200 instead of 202, both are fine to retry.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.SessionID == "" || req.EventID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id and event_id are required")
		return
	}
	switch req.Kind {
	case "", workflow.KindMessage, workflow.KindTakeover, workflow.KindRelease:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}

	accepted, err := s.store.Enqueue(r.Context(), workflow.Job{
		SessionID: req.SessionID,
		EventID:   req.EventID,
		Kind:      req.Kind,
		Payload:   req.Payload,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("enqueue failed")
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusOK
	}
	s.writeJSON(w, status, map[string]bool{"accepted": accepted})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("writing response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}
