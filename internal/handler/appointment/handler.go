package appointment

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
)

// Service is the appointment lifecycle used by the handler.
type Service interface {
	Create(ctx context.Context, req *model.CreateAppointmentRequest) (*model.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)
	Transition(ctx context.Context, id uuid.UUID, to model.AppointmentStatus) (*model.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, req *model.RescheduleRequest) (*model.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*model.Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("", middleware.RequireRole(model.RolePatient, model.RoleAdmin), h.CreateAppointment)
		appointments.GET("", h.ListAppointments)
		appointments.GET("/:id", h.GetAppointment)
		appointments.PATCH("/:id/status", h.UpdateStatus)
		appointments.PATCH("/:id/reschedule", h.Reschedule)
		appointments.PATCH("/:id/cancel", h.Cancel)
		appointments.DELETE("/:id", middleware.RequireRole(model.RoleAdmin), h.DeleteAppointment)
	}
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var req model.CreateAppointmentRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if !caller.IsAdmin() {
		if req.PatientID != uuid.Nil && req.PatientID != caller.ID {
			httputil.RespondWithError(c, apperrors.Forbidden("patients can only book for themselves"))
			return
		}
		req.PatientID = caller.ID
	}

	apt, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, apt)
}

func (h *Handler) GetAppointment(c *gin.Context) {
	apt, ok := h.loadVisible(c)
	if !ok {
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

func (h *Handler) ListAppointments(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	filters := &model.AppointmentFilters{
		Status: model.AppointmentStatus(c.Query("status")),
		Date:   c.Query("date"),
	}
	if filters.Status != "" && !filters.Status.Valid() {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid status filter"))
		return
	}

	switch caller.Role {
	case model.RolePatient:
		filters.PatientID = caller.ID
	case model.RoleDoctor:
		filters.DoctorID = caller.ID
	default:
		if filters.PatientID, err = handler.UUIDQuery(c, "patient_id"); err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		if filters.DoctorID, err = handler.UUIDQuery(c, "doctor_id"); err != nil {
			httputil.RespondWithError(c, err)
			return
		}
	}

	appointments, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, appointments)
}

// UpdateStatus confirms and completes are reserved for the appointment's
// doctor; either participant may cancel.
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req model.UpdateStatusRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	apt, ok := h.loadVisible(c)
	if !ok {
		return
	}
	caller, _ := handler.Caller(c)
	if req.Status != model.AppointmentStatusCancelled && !caller.IsAdmin() && caller.ID != apt.DoctorID {
		httputil.RespondWithError(c, apperrors.Forbidden("only the doctor can change this status"))
		return
	}

	updated, err := h.service.Transition(c.Request.Context(), apt.ID, req.Status)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, updated)
}

func (h *Handler) Reschedule(c *gin.Context) {
	var req model.RescheduleRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	apt, ok := h.loadVisible(c)
	if !ok {
		return
	}

	updated, err := h.service.Reschedule(c.Request.Context(), apt.ID, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, updated)
}

func (h *Handler) Cancel(c *gin.Context) {
	var req model.CancelRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	apt, ok := h.loadVisible(c)
	if !ok {
		return
	}

	updated, err := h.service.Cancel(c.Request.Context(), apt.ID, req.Reason)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, updated)
}

func (h *Handler) DeleteAppointment(c *gin.Context) {
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, gin.H{"id": id})
}

// loadVisible fetches the :id appointment and checks the caller is a
// participant or an admin. It writes the error response itself.
func (h *Handler) loadVisible(c *gin.Context) (*model.Appointment, bool) {
	caller, err := handler.Caller(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return nil, false
	}
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return nil, false
	}

	apt, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return nil, false
	}
	if !caller.IsAdmin() && !apt.IsParticipant(caller.ID) {
		httputil.RespondWithError(c, apperrors.Forbidden("not a participant of this appointment"))
		return nil, false
	}
	return apt, true
}
