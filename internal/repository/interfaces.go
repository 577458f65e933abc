package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

// ErrNotFound is returned by Get-style lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	// SlotRepository stores doctor availability. MarkBooked and MarkFree are
	// conditional so a stale caller can never double-book or free a slot it
	// does not own.
	SlotRepository interface {
		CreateBatch(ctx context.Context, slots []*model.AvailabilitySlot) error
		Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error)
		List(ctx context.Context, filters *model.SlotFilters) ([]*model.AvailabilitySlot, error)
		UpdateTimes(ctx context.Context, id uuid.UUID, startTime, endTime string) (bool, error)
		DeleteFree(ctx context.Context, id uuid.UUID) (bool, error)
		MarkBooked(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error)
		MarkFree(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error)
	}

	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Update(ctx context.Context, appointment *model.Appointment) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)
	}

	MessageRepository interface {
		Create(ctx context.Context, msg *model.ChatMessage) error
		ListByAppointment(ctx context.Context, appointmentID uuid.UUID, since *time.Time) ([]*model.ChatMessage, error)
		MarkReadFrom(ctx context.Context, appointmentID, senderID uuid.UUID) (int64, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// Pinger is satisfied by stores that can report connectivity.
	Pinger interface {
		PingContext(ctx context.Context) error
	}
)
