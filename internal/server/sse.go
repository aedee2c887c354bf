package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alfredjeanlab/spine/internal/model"
)

// handleStream handles GET /v1/activities/stream (SSE endpoint). The first
// message is a connected delta; afterwards every delta for the tenant is
// written as one data line, with comment heartbeats in between.
func (s *ActivityServer) handleStream(w http.ResponseWriter, r *http.Request) {
	// Ensure response supports flushing (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	sub := s.hub.Subscribe(tenantID)
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)

	hello := &model.Delta{
		Action:       model.ActionConnected,
		TenantID:     tenantID,
		ConnectionID: sub.ID,
		Timestamp:    s.now().UTC(),
	}
	if err := writeSSEData(w, hello); err != nil {
		return
	}
	flusher.Flush()
	slog.Debug("stream connected", "tenant_id", tenantID, "connection_id", sub.ID)

	ctx := r.Context()
	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-sub.Deltas():
			if !ok {
				return
			}
			if err := writeSSEData(w, d); err != nil {
				slog.Debug("stream write failed", "tenant_id", tenantID, "err", err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEData writes a single SSE message carrying d as JSON.
func writeSSEData(w http.ResponseWriter, d *model.Delta) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
