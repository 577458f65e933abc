package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/service/chat"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
)

// Config tunes the websocket pumps.
type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	CheckOrigin    func(r *http.Request) bool
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8192
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	return c
}

func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// ServeWS upgrades the request and runs the connection until either side
// closes it. The read pump runs on the request goroutine.
func (h *Handler) ServeWS(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.config.CheckOrigin,
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	conn := h.coordinator.Connect(caller)
	h.logger.Debug("websocket connected",
		"connection_id", conn.ID.String(),
		"user_id", caller.ID.String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ws, conn)
	}()

	h.readPump(c.Request.Context(), ws, conn)
	<-done

	h.logger.Debug("websocket disconnected", "connection_id", conn.ID.String())
}

func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, conn *chat.Connection) {
	defer func() {
		h.coordinator.Disconnect(conn)
		ws.Close()
	}()

	ws.SetReadLimit(h.config.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "connection_id", conn.ID.String(), "error", err.Error())
			}
			return
		}
		if conn.Closed() {
			return
		}

		ev, err := chat.Decode(frame)
		if err != nil {
			h.coordinator.ReplyError(conn, apperrors.NewBadRequest(err.Error(), err))
			continue
		}

		// rejected events are already reported to the client
		if err := h.coordinator.Dispatch(ctx, conn, ev); err != nil && !isClientError(err) {
			h.logger.Error(err, "chat dispatch failed", "connection_id", conn.ID.String())
		}
	}
}

func (h *Handler) writePump(ws *websocket.Conn, conn *chat.Connection) {
	ticker := time.NewTicker(h.config.pingPeriod())
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isClientError(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code.HTTPStatus() < http.StatusInternalServerError
}
