package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

type ConsultationType string

const (
	ConsultationVideo    ConsultationType = "video"
	ConsultationPhone    ConsultationType = "phone"
	ConsultationInPerson ConsultationType = "in-person"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// allowedTransitions is the complete lifecycle edge table.
var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusPending:   {AppointmentStatusConfirmed, AppointmentStatusCancelled},
	AppointmentStatusConfirmed: {AppointmentStatusCompleted, AppointmentStatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusPending, AppointmentStatusConfirmed, AppointmentStatusCompleted, AppointmentStatusCancelled:
		return true
	}
	return false
}

// IsTerminal is true for completed and cancelled.
func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentStatusCompleted || s == AppointmentStatusCancelled
}

// ChatOpen is true while participants may exchange messages.
func (s AppointmentStatus) ChatOpen() bool {
	return s == AppointmentStatusConfirmed || s == AppointmentStatusCompleted
}

// HoldsSlot is true while the appointment keeps its slot booked.
func (s AppointmentStatus) HoldsSlot() bool {
	return s != AppointmentStatusCancelled
}

type RescheduleEntry struct {
	PreviousDate  string    `json:"previous_date"`
	PreviousTime  string    `json:"previous_time"`
	RescheduledAt time.Time `json:"rescheduled_at"`
}

// RescheduleHistory is stored as a JSONB column.
type RescheduleHistory []RescheduleEntry

func (h RescheduleHistory) Value() (driver.Value, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h)
}

func (h *RescheduleHistory) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*h = RescheduleHistory{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported reschedule history type %T", src)
	}
	return json.Unmarshal(data, h)
}

type Appointment struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	PatientID          uuid.UUID         `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	Date               string            `db:"date" json:"date"`
	Time               string            `db:"time" json:"time"`
	EndTime            string            `db:"end_time" json:"end_time,omitempty"`
	SlotID             *uuid.UUID        `db:"slot_id" json:"slot_id,omitempty"`
	ConsultationType   ConsultationType  `db:"consultation_type" json:"consultation_type"`
	Symptoms           string            `db:"symptoms" json:"symptoms,omitempty"`
	Notes              string            `db:"notes" json:"notes,omitempty"`
	Priority           Priority          `db:"priority" json:"priority"`
	Status             AppointmentStatus `db:"status" json:"status"`
	RescheduleHistory  RescheduleHistory `db:"reschedule_history" json:"reschedule_history"`
	CancellationReason *string           `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// IsParticipant reports whether userID is the patient or doctor of the appointment.
func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return userID == a.PatientID || userID == a.DoctorID
}

// Counterpart returns the other participant. Callers must check IsParticipant first.
func (a *Appointment) Counterpart(userID uuid.UUID) uuid.UUID {
	if userID == a.PatientID {
		return a.DoctorID
	}
	return a.PatientID
}

// SlotRef returns the reference to the slot currently held, or nil.
func (a *Appointment) SlotRef() *SlotRef {
	if a.SlotID == nil {
		return nil
	}
	return &SlotRef{SlotID: *a.SlotID, DoctorID: a.DoctorID, AppointmentID: a.ID}
}

type CreateAppointmentRequest struct {
	PatientID        uuid.UUID        `json:"patient_id"`
	DoctorID         uuid.UUID        `json:"doctor_id" binding:"required"`
	Date             string           `json:"date" binding:"required,isodate"`
	Time             string           `json:"time" binding:"required,hhmm"`
	EndTime          string           `json:"end_time" binding:"omitempty,hhmm"`
	ConsultationType ConsultationType `json:"consultation_type" binding:"required,oneof=video phone in-person"`
	Symptoms         string           `json:"symptoms" binding:"max=2000"`
	Notes            string           `json:"notes" binding:"max=2000"`
	Priority         Priority         `json:"priority" binding:"omitempty,oneof=low medium high urgent"`
}

type UpdateStatusRequest struct {
	Status AppointmentStatus `json:"status" binding:"required,oneof=pending confirmed completed cancelled"`
}

type RescheduleRequest struct {
	Date    string `json:"date" binding:"required,isodate"`
	Time    string `json:"time" binding:"required,hhmm"`
	EndTime string `json:"end_time" binding:"omitempty,hhmm"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type AppointmentFilters struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    AppointmentStatus
	Date      string
}
