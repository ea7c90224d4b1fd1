package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/comfort-companion/internal/sessionstate"
	"github.com/coder/websocket"
)

const feedWriteTimeout = 5 * time.Second

// feedMessage is one frame pushed to a dashboard client.
type feedMessage struct {
	Type string                `json:"type"`
	Data sessionstate.Snapshot `json:"data"`
}

// Feed streams session snapshots over a websocket. A frame is sent on
// connect and after every observed change.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	// Clients never send; CloseRead cancels ctx once the peer goes away.
	ctx, cancel := context.WithCancel(ws.CloseRead(r.Context()))
	defer cancel()

	h.logger.Info("Dashboard feed connected", "ip", r.RemoteAddr)
	err = h.state.Watch(ctx, h.pollInterval, func(snap sessionstate.Snapshot) {
		if err := h.writeFrame(ctx, ws, snap); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.logger.Warn("Dashboard feed write error", "error", err)
			}
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("Dashboard feed stopped", "error", err)
	}
	h.logger.Info("Dashboard feed disconnected", "ip", r.RemoteAddr)
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, snap sessionstate.Snapshot) error {
	data, err := json.Marshal(feedMessage{Type: "snapshot", Data: snap})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
