package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"kerf/rpc"
)

// WebSocketHandler serves the envelope protocol over a WebSocket: each text
// message is one request and is answered by one response message.
type WebSocketHandler struct {
	dispatcher *rpc.Dispatcher
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket envelope handler
func NewWebSocketHandler(d *rpc.Dispatcher, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		dispatcher: d,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The editor is served from its own dev server
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		log: log,
	}
}

// HandleWebSocket upgrades the connection and answers envelopes until the
// client goes away
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	wsh.log.Info("websocket client connected", "remote", c.RealIP())
	ctx := c.Request().Context()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.log.Warn("websocket connection error", "err", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		out, err := wsh.dispatcher.HandleJSON(ctx, data)
		if err != nil {
			wsh.log.Error("failed to encode response", "err", err)
			continue
		}
		if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
			wsh.log.Warn("websocket write failed", "err", err)
			break
		}
	}

	wsh.log.Info("websocket client disconnected")
	return nil
}
