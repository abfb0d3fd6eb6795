package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// handleStream pushes status snapshots over a websocket until the task ends
// or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Resolve the task before upgrading so unknown ids get a normal 404.
	updates, err := s.svc.Watch(ctx, r.PathValue("id"), s.opts.StreamInterval)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for snap := range updates {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(newStatus(snap)); err != nil {
			s.logger.Debug("websocket write failed", "task_id", snap.ID, "error", err)
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"),
		time.Now().Add(writeWait))
}
