// Package api provides HTTP handlers for the assistant API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vozlab/voz/internal/access"
	"github.com/vozlab/voz/internal/audit"
	"github.com/vozlab/voz/internal/domain"
	"github.com/vozlab/voz/internal/identity"
	"github.com/vozlab/voz/internal/model"
	"github.com/vozlab/voz/internal/orchestrator"
	"github.com/vozlab/voz/internal/provider"
	"github.com/vozlab/voz/internal/registry"
	"github.com/vozlab/voz/internal/session"
	"github.com/vozlab/voz/internal/store"
	"github.com/vozlab/voz/internal/voice"
)

// maxRequestBodySize caps query payloads (1MB).
const maxRequestBodySize = 1 << 20

// historyTurns is how many prior turns feed response generation.
const historyTurns = 5

// IntentClassifier resolves an utterance to an intent.
type IntentClassifier interface {
	Classify(ctx context.Context, utterance string) domain.ClassifiedIntent
}

// Handler provides the text-mode assistant endpoints.
type Handler struct {
	repo        store.Repository
	tracker     *session.Tracker
	classifier  IntentClassifier
	orch        *orchestrator.Orchestrator
	reg         *registry.Registry
	data        provider.DataProvider
	hub         *StreamHub
	voices      *voice.Manager
	rateLimiter *RateLimiter
	auditor     *audit.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(
	repo store.Repository,
	tracker *session.Tracker,
	classifier IntentClassifier,
	orch *orchestrator.Orchestrator,
	reg *registry.Registry,
	data provider.DataProvider,
	hub *StreamHub,
	voices *voice.Manager,
	auditor *audit.Logger,
) *Handler {
	return &Handler{
		repo:        repo,
		tracker:     tracker,
		classifier:  classifier,
		orch:        orch,
		reg:         reg,
		data:        data,
		hub:         hub,
		voices:      voices,
		rateLimiter: NewRateLimiter(30, time.Minute),
		auditor:     auditor,
	}
}

// Close stops the handler's background work. The HTTP server must be
// shut down first.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// QueryRequest is the text-mode assistant request.
type QueryRequest struct {
	Utterance string `json:"utterance"`
	Module    string `json:"module"`
}

// QueryResponse wraps the orchestration outcome with session context.
type QueryResponse struct {
	SessionID  string                     `json:"session_id"`
	NewSession bool                       `json:"new_session"`
	AgentSlug  string                     `json:"agent_slug,omitempty"`
	Intent     domain.ClassifiedIntent    `json:"intent"`
	Result     *domain.OrchestratorResult `json:"result"`
}

// HandleQuery handles POST /api/assistant/query.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.rateLimiter.Allow(deviceID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Utterance == "" {
		Error(w, http.StatusBadRequest, "utterance is required")
		return
	}
	if req.Module == "" {
		if def := h.reg.Default(); def != nil {
			req.Module = def.Slug
		}
	}

	slog.Info("Assistant query",
		"device_id", deviceID,
		"module", req.Module,
		"utterance_length", len(req.Utterance),
	)

	sess, fresh, err := h.tracker.SessionForTurn(r.Context(), deviceID, req.Module, req.Utterance)
	if err != nil {
		slog.Error("Session lookup failed", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "session unavailable")
		return
	}

	history := h.historyMessages(r, sess)
	intent := h.classifier.Classify(r.Context(), req.Utterance)
	result := h.orch.Route(r.Context(), intent, orchestrator.RouteContext{
		DeviceID:  deviceID,
		SessionID: sess.ID,
		History:   history,
		Observer: func(ev domain.ProgressEvent) {
			h.hub.Publish(deviceID, tabID, sess.ID, ev)
		},
	})

	if result.Succeeded() {
		if err := h.tracker.RecordTurn(r.Context(), sess, req.Utterance, result.ResponseText); err != nil {
			slog.Warn("Turn not recorded", "session_id", sess.ID, "error", err)
		}
		h.auditor.RecordTurn(deviceID, sess.ID, result.AgentSlug, req.Utterance, result.ResponseText)
	}

	JSON(w, http.StatusOK, QueryResponse{
		SessionID:  sess.ID,
		NewSession: fresh,
		AgentSlug:  result.AgentSlug,
		Intent:     intent,
		Result:     result,
	})
}

func (h *Handler) historyMessages(r *http.Request, sess *domain.Session) []model.Message {
	turns, err := h.tracker.History(r.Context(), sess, historyTurns)
	if err != nil {
		slog.Warn("History unavailable", "session_id", sess.ID, "error", err)
		return nil
	}
	history := make([]model.Message, 0, len(turns)*2)
	for _, turn := range turns {
		history = append(history,
			model.Message{Role: "user", Content: turn.Question},
			model.Message{Role: "assistant", Content: turn.Response})
	}
	return history
}

// HandleAgents handles GET /api/agents.
func (h *Handler) HandleAgents(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"agents": h.reg.Active()})
}

// SessionResponse describes the device's current session, if any.
type SessionResponse struct {
	Session      *domain.Session        `json:"session,omitempty"`
	LastActivity *domain.DeviceActivity `json:"last_activity,omitempty"`
}

// HandleSession handles GET /api/session.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sess, err := h.repo.GetActiveSession(r.Context(), deviceID)
	if err != nil {
		slog.Error("Active session lookup failed", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	act, err := h.repo.GetDeviceActivity(r.Context(), deviceID)
	if err != nil {
		slog.Warn("Device activity lookup failed", "device_id", deviceID, "error", err)
	}
	JSON(w, http.StatusOK, SessionResponse{Session: sess, LastActivity: act})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if err := h.repo.Ping(r.Context()); err != nil {
		checks["store"] = err.Error()
		status = "degraded"
		code = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}
	if h.data != nil {
		if err := h.data.Ping(r.Context()); err != nil {
			checks["provider"] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			checks["provider"] = "ok"
		}
	}

	body := map[string]any{"status": status, "checks": checks}
	if h.voices != nil {
		body["voice_sessions"] = h.voices.Count()
	}
	JSON(w, code, body)
}

// HandleCleanup handles POST /api/admin/cleanup, force-closing sessions
// idle past the timeout.
func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	closed, err := h.tracker.Cleanup(r.Context())
	if err != nil {
		slog.Error("Cleanup sweep failed", "error", err)
		Error(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	JSON(w, http.StatusOK, map[string]int64{"closed": closed})
}

// RegisterAdminRoutes mounts operator endpoints behind the access gate.
func (h *Handler) RegisterAdminRoutes(r chi.Router, gate *access.Gate, resolve access.RoleResolver) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Method(http.MethodPost, "/cleanup",
			gate.Require(access.RoleAdmin, resolve, http.HandlerFunc(h.HandleCleanup)))
	})
}

// RegisterRoutes registers the assistant routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/agents", h.HandleAgents)
		r.Get("/session", h.HandleSession)
		r.Route("/assistant", func(r chi.Router) {
			r.Post("/query", h.HandleQuery)
			r.Get("/stream", h.hub.ServeHTTP)
		})
	})
}
