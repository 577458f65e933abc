package chat

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/chat"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

// Coordinator is the chat service used by both the REST and live handlers.
type Coordinator interface {
	History(ctx context.Context, appointmentID uuid.UUID, caller model.Caller, since *time.Time) ([]*model.ChatMessage, error)
	Post(ctx context.Context, appointmentID uuid.UUID, caller model.Caller, body string) (*model.ChatMessage, error)
	MarkRead(ctx context.Context, appointmentID uuid.UUID, reader model.Caller) (int64, error)

	Connect(caller model.Caller) *chat.Connection
	Disconnect(conn *chat.Connection)
	Dispatch(ctx context.Context, conn *chat.Connection, ev chat.Event) error
	ReplyError(conn *chat.Connection, err error)
}

type Handler struct {
	coordinator Coordinator
	config      Config
	logger      *logger.Logger
}

func NewHandler(coordinator Coordinator, config Config, log *logger.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		config:      config.withDefaults(),
		logger:      log.With("chat_transport"),
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	chats := r.Group("/chat")
	{
		chats.GET("/ws", h.ServeWS)
		chats.GET("/:appointmentId", h.GetHistory)
		chats.POST("/:appointmentId", h.PostMessage)
		chats.PATCH("/:appointmentId/read", h.MarkRead)
	}
}

func (h *Handler) GetHistory(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	appointmentID, err := handler.UUIDParam(c, "appointmentId")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			httputil.RespondWithError(c, apperrors.NewBadRequest("since must be an RFC3339 timestamp", err))
			return
		}
		since = &t
	}

	msgs, err := h.coordinator.History(c.Request.Context(), appointmentID, caller, since)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, msgs)
}

func (h *Handler) PostMessage(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	appointmentID, err := handler.UUIDParam(c, "appointmentId")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var req model.SendMessageRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	msg, err := h.coordinator.Post(c.Request.Context(), appointmentID, caller, req.Message)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, msg)
}

type markReadRequest struct {
	UserID *uuid.UUID `json:"user_id"`
}

// MarkRead marks the caller's received messages read. Admins may act for a
// participant by passing user_id.
func (h *Handler) MarkRead(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	appointmentID, err := handler.UUIDParam(c, "appointmentId")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var req markReadRequest
	if c.Request.ContentLength > 0 {
		if err := handler.Bind(c, &req); err != nil {
			httputil.RespondWithError(c, err)
			return
		}
	}

	reader := caller
	if req.UserID != nil && *req.UserID != caller.ID {
		if !caller.IsAdmin() {
			httputil.RespondWithError(c, apperrors.Forbidden("cannot mark messages read for another user"))
			return
		}
		reader = model.Caller{ID: *req.UserID}
	}

	count, err := h.coordinator.MarkRead(c.Request.Context(), appointmentID, reader)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, gin.H{"count": count})
}
