package availability

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
)

type Service interface {
	AddSlots(ctx context.Context, doctorID uuid.UUID, entries []model.SlotEntry) ([]*model.AvailabilitySlot, error)
	UpdateSlot(ctx context.Context, ownerID, slotID uuid.UUID, startTime, endTime string) (*model.AvailabilitySlot, error)
	DeleteSlot(ctx context.Context, ownerID, slotID uuid.UUID) error
	GetSlot(ctx context.Context, slotID uuid.UUID) (*model.AvailabilitySlot, error)
	ListSlots(ctx context.Context, filters *model.SlotFilters) ([]*model.AvailabilitySlot, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	slots := r.Group("/doctor/availability")
	{
		slots.GET("", h.ListSlots)
		slots.GET("/:slotId", h.GetSlot)

		manage := slots.Group("", middleware.RequireRole(model.RoleDoctor, model.RoleAdmin))
		manage.POST("", h.AddSlots)
		manage.PUT("/:slotId", h.UpdateSlot)
		manage.DELETE("/:slotId", h.DeleteSlot)
	}
}

// ListSlots defaults to the calling doctor's own slots. Other callers must
// name a doctor.
func (h *Handler) ListSlots(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	doctorID, err := handler.UUIDQuery(c, "doctor_id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if doctorID == uuid.Nil {
		if !caller.IsDoctor() {
			httputil.RespondWithError(c, apperrors.NewValidation("doctor_id is required"))
			return
		}
		doctorID = caller.ID
	}

	onlyFree := false
	if raw := c.Query("only_free"); raw != "" {
		if onlyFree, err = strconv.ParseBool(raw); err != nil {
			httputil.RespondWithError(c, apperrors.NewBadRequest("invalid only_free", err))
			return
		}
	}

	slots, err := h.service.ListSlots(c.Request.Context(), &model.SlotFilters{
		DoctorID: doctorID,
		Date:     c.Query("date"),
		OnlyFree: onlyFree,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, slots)
}

func (h *Handler) GetSlot(c *gin.Context) {
	id, err := handler.UUIDParam(c, "slotId")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	slot, err := h.service.GetSlot(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, slot)
}

func (h *Handler) AddSlots(c *gin.Context) {
	doctorID, ok := h.owner(c, true)
	if !ok {
		return
	}

	var req model.AddSlotsRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	slots, err := h.service.AddSlots(c.Request.Context(), doctorID, req.Slots)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, slots)
}

func (h *Handler) UpdateSlot(c *gin.Context) {
	ownerID, ok := h.owner(c, false)
	if !ok {
		return
	}
	slotID, err := handler.UUIDParam(c, "slotId")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var req model.UpdateSlotRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	slot, err := h.service.UpdateSlot(c.Request.Context(), ownerID, slotID, req.StartTime, req.EndTime)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, slot)
}

func (h *Handler) DeleteSlot(c *gin.Context) {
	ownerID, ok := h.owner(c, false)
	if !ok {
		return
	}
	slotID, err := handler.UUIDParam(c, "slotId")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if err := h.service.DeleteSlot(c.Request.Context(), ownerID, slotID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, gin.H{"id": slotID})
}

// owner resolves whose slots are being changed. Doctors act on their own;
// admins name the doctor when publishing and otherwise skip the ownership
// check (uuid.Nil).
func (h *Handler) owner(c *gin.Context, publishing bool) (uuid.UUID, bool) {
	caller, err := handler.Caller(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return uuid.Nil, false
	}
	if caller.IsDoctor() {
		return caller.ID, true
	}
	if !publishing {
		return uuid.Nil, true
	}

	doctorID, err := handler.UUIDQuery(c, "doctor_id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return uuid.Nil, false
	}
	if doctorID == uuid.Nil {
		httputil.RespondWithError(c, apperrors.NewValidation("doctor_id is required"))
		return uuid.Nil, false
	}
	return doctorID, true
}
