package event

import (
	"context"

	"github.com/google/uuid"
)

type EventType string

const (
	AppointmentCreated     EventType = "appointment.created"
	AppointmentConfirmed   EventType = "appointment.confirmed"
	AppointmentCompleted   EventType = "appointment.completed"
	AppointmentCancelled   EventType = "appointment.cancelled"
	AppointmentRescheduled EventType = "appointment.rescheduled"
	AppointmentDeleted     EventType = "appointment.deleted"
	SlotsPublished         EventType = "availability.published"
)

// Emitter records a domain event for asynchronous delivery.
type Emitter interface {
	Emit(ctx context.Context, eventType EventType, aggregateID uuid.UUID, payload interface{}) error
}
