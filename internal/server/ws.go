package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/alfredjeanlab/spine/internal/model"
)

// handleWebSocket handles GET /v1/activities/ws. It carries the same deltas
// as the SSE stream as text JSON frames and pings on the keepalive interval.
func (s *ActivityServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Debug("websocket accept failed", "tenant_id", tenantID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	sub := s.hub.Subscribe(tenantID)
	defer s.hub.Unsubscribe(sub)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	hello := &model.Delta{
		Action:       model.ActionConnected,
		TenantID:     tenantID,
		ConnectionID: sub.ID,
		Timestamp:    s.now().UTC(),
	}
	if err := writeFrame(ctx, conn, hello); err != nil {
		return
	}

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-sub.Deltas():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			if err := writeFrame(ctx, conn, d); err != nil {
				slog.Debug("websocket write failed", "tenant_id", tenantID, "err", err)
				return
			}
		case <-keepalive.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				slog.Debug("websocket ping failed", "tenant_id", tenantID, "err", err)
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, d *model.Delta) error {
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, d)
}
