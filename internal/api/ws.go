package api

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleWS upgrades the request and streams session snapshots to the client.
// The current snapshot is sent immediately on connect, then every state and
// recognition change follows as its own JSON text frame. The connection
// closes when the client goes away or the server shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub, cancel := s.cfg.Controller.Subscribe()
	defer cancel()

	ctx := r.Context()

	if err := wsjson.Write(ctx, conn, s.cfg.Controller.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case snap, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "subscription closed")
				return
			}
			if err := wsjson.Write(ctx, conn, snap); err != nil {
				return
			}
		}
	}
}
