package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alfredjeanlab/spine/internal/metrics"
	"github.com/alfredjeanlab/spine/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
func (s *ActivityServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/activities", s.handleCreateActivity)
	mux.HandleFunc("GET /v1/activities", s.handleListActivities)
	mux.HandleFunc("GET /v1/activities/stats", s.handleGetStats)
	mux.HandleFunc("GET /v1/activities/stream", s.handleStream)
	mux.HandleFunc("GET /v1/activities/ws", s.handleWebSocket)
	mux.HandleFunc("PATCH /v1/activities/read-all", s.handleMarkAllRead)
	mux.HandleFunc("GET /v1/activities/{id}", s.handleGetActivity)
	mux.HandleFunc("PATCH /v1/activities/{id}/read", s.handleMarkRead)
	mux.HandleFunc("POST /v1/ingest/{source}", s.handleIngest)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *ActivityServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		slog.Warn("health check: store unreachable", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      "degraded",
			"store":       "unreachable",
			"subscribers": s.hub.Tenants(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"store":       "ok",
		"subscribers": s.hub.Tenants(),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeValidationError writes a 400 carrying the individual field errors.
func writeValidationError(w http.ResponseWriter, ve *model.ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  ve.Error(),
		"fields": ve.Errors,
	})
}

// writeServiceError maps err onto a status code. Internal details are
// logged, never returned.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch classify(err) {
	case kindInvalid:
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			writeValidationError(w, ve)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
	case kindNotFound:
		writeError(w, http.StatusNotFound, "activity not found")
	case kindConflict:
		writeError(w, http.StatusConflict, "idempotency key already used by another tenant")
	default:
		slog.Error(op+" failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
