package api

import (
	"bufio"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp"

	"tidemail/signaling"
	"tidemail/utils"
)

// PushHandler exposes the signaling hub over its two transports: a
// websocket endpoint for tabs that can hold one, and an SSE fallback
// for clients behind proxies that cannot.
type PushHandler struct {
	hub *signaling.Hub
}

// NewPushHandler creates the handler.
func NewPushHandler(hub *signaling.Hub) *PushHandler {
	return &PushHandler{hub: hub}
}

// UpgradeRequired gates the websocket route. Plain HTTP requests get
// a 426 instead of reaching the upgraded handler.
func (h *PushHandler) UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleWebSocket serves GET /push. The socket is admitted
// unauthenticated and must present its token in an auth frame before
// it receives any signals.
func (h *PushHandler) HandleWebSocket() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		h.hub.HandleConnection(c)
	})
}

// HandleSSE serves GET /events, a push-only stream carrying the same
// frames the websocket does. The session middleware has already
// authenticated the request, so the connection skips the auth frame.
func (h *PushHandler) HandleSSE(c *fiber.Ctx) error {
	userID := CurrentUserID(c)
	if userID == "" {
		return utils.AuthError("not authenticated", nil)
	}

	conn, frames, ok := h.hub.RegisterSSE(userID)
	if !ok {
		return utils.NewAppError(fiber.StatusServiceUnavailable, utils.KindConnection, "push signaling is disabled", nil)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	utils.Log.Info("SSE stream opened for user %s", userID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.hub.CloseSSE(conn)

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case frame, open := <-frames:
				if !open {
					return
				}
				if _, err := w.WriteString("data: " + string(frame) + "\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}

			case <-ticker.C:
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}

			case <-conn.Done():
				return
			}
		}
	}))

	return nil
}
