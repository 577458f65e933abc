package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/service/event"
	"github.com/jwalitptl/clinic-api/internal/service/slot"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/lock"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/validator"
)

// SlotAllocator is the part of slot.Service the lifecycle depends on.
type SlotAllocator interface {
	Reserve(ctx context.Context, req slot.ReserveRequest) (*model.SlotRef, error)
	Release(ctx context.Context, ref model.SlotRef) error
	Restore(ctx context.Context, ref model.SlotRef) error
}

type Service struct {
	repo    repository.AppointmentRepository
	slots   SlotAllocator
	locker  lock.Locker
	events  event.Emitter
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(
	repo repository.AppointmentRepository,
	slots SlotAllocator,
	locker lock.Locker,
	events event.Emitter,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:    repo,
		slots:   slots,
		locker:  locker,
		events:  events,
		logger:  log.With("appointment"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create books the requested slot and stores a pending appointment. Slot
// errors are returned as-is and nothing is written.
func (s *Service) Create(ctx context.Context, req *model.CreateAppointmentRequest) (*model.Appointment, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}
	if req.PatientID == uuid.Nil {
		return nil, apperrors.NewValidation("patient_id is required")
	}
	if req.Priority == "" {
		req.Priority = model.PriorityMedium
	}

	id := uuid.New()
	var created *model.Appointment

	err := s.locker.WithLock(ctx, lock.AppointmentKey(id), func(ctx context.Context) error {
		ref, err := s.slots.Reserve(ctx, slot.ReserveRequest{
			DoctorID:      req.DoctorID,
			Date:          req.Date,
			StartTime:     req.Time,
			EndTime:       req.EndTime,
			AppointmentID: id,
		})
		if err != nil {
			return err
		}

		apt := &model.Appointment{
			ID:                id,
			PatientID:         req.PatientID,
			DoctorID:          req.DoctorID,
			Date:              req.Date,
			Time:              ref.StartTime,
			EndTime:           ref.EndTime,
			SlotID:            &ref.SlotID,
			ConsultationType:  req.ConsultationType,
			Symptoms:          req.Symptoms,
			Notes:             req.Notes,
			Priority:          req.Priority,
			Status:            model.AppointmentStatusPending,
			RescheduleHistory: model.RescheduleHistory{},
		}

		if err := s.repo.Create(ctx, apt); err != nil {
			s.releaseQuietly(ctx, *ref)
			return fmt.Errorf("failed to create appointment: %w", err)
		}
		created = apt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues("none", string(model.AppointmentStatusPending)).Inc()
	s.emit(ctx, event.AppointmentCreated, created)
	s.logger.Info("appointment created",
		"appointment_id", created.ID.String(),
		"doctor_id", created.DoctorID.String(),
		"date", created.Date,
		"time", created.Time)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("appointment", err)
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return apt, nil
}

func (s *Service) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	appointments, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	if appointments == nil {
		appointments = []*model.Appointment{}
	}
	return appointments, nil
}

// Transition moves the appointment along one legal edge. Entering cancelled
// releases the slot.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to model.AppointmentStatus) (*model.Appointment, error) {
	if !to.Valid() {
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown status %q", to))
	}

	var result *model.Appointment
	err := s.locker.WithLock(ctx, lock.AppointmentKey(id), func(ctx context.Context) error {
		apt, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if !model.CanTransition(apt.Status, to) {
			return apperrors.InvalidTransition(string(apt.Status), string(to))
		}

		if to == model.AppointmentStatusCancelled {
			result, err = s.cancelLocked(ctx, apt, nil)
			return err
		}

		from := apt.Status
		apt.Status = to
		if err := s.repo.Update(ctx, apt); err != nil {
			return fmt.Errorf("failed to update appointment: %w", err)
		}
		s.metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
		result = apt
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch to {
	case model.AppointmentStatusConfirmed:
		s.emit(ctx, event.AppointmentConfirmed, result)
	case model.AppointmentStatusCompleted:
		s.emit(ctx, event.AppointmentCompleted, result)
	case model.AppointmentStatusCancelled:
		s.emit(ctx, event.AppointmentCancelled, result)
	}
	return result, nil
}

// Reschedule moves a confirmed appointment to another free slot of the same
// doctor and records the previous date and time.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req *model.RescheduleRequest) (*model.Appointment, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}

	var result *model.Appointment
	err := s.locker.WithLock(ctx, lock.AppointmentKey(id), func(ctx context.Context) error {
		apt, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if apt.Status != model.AppointmentStatusConfirmed {
			return apperrors.InvalidState(string(apt.Status), "reschedule")
		}

		newRef, err := s.slots.Reserve(ctx, slot.ReserveRequest{
			DoctorID:      apt.DoctorID,
			Date:          req.Date,
			StartTime:     req.Time,
			EndTime:       req.EndTime,
			AppointmentID: apt.ID,
		})
		if err != nil {
			return err
		}

		oldRef := apt.SlotRef()
		if oldRef != nil {
			if err := s.slots.Release(ctx, *oldRef); err != nil {
				s.releaseQuietly(ctx, *newRef)
				return err
			}
		}

		apt.RescheduleHistory = append(apt.RescheduleHistory, model.RescheduleEntry{
			PreviousDate:  apt.Date,
			PreviousTime:  apt.Time,
			RescheduledAt: s.now(),
		})
		apt.Date = req.Date
		apt.Time = newRef.StartTime
		apt.EndTime = newRef.EndTime
		apt.SlotID = &newRef.SlotID

		if err := s.repo.Update(ctx, apt); err != nil {
			s.releaseQuietly(ctx, *newRef)
			if oldRef != nil {
				s.restoreQuietly(ctx, *oldRef)
			}
			return fmt.Errorf("failed to update appointment: %w", err)
		}
		result = apt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, event.AppointmentRescheduled, result)
	s.logger.Info("appointment rescheduled",
		"appointment_id", result.ID.String(),
		"date", result.Date,
		"time", result.Time)
	return result, nil
}

// Cancel cancels a pending or confirmed appointment with a reason.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*model.Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewValidation("cancellation reason is required")
	}

	var result *model.Appointment
	err := s.locker.WithLock(ctx, lock.AppointmentKey(id), func(ctx context.Context) error {
		apt, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if !model.CanTransition(apt.Status, model.AppointmentStatusCancelled) {
			return apperrors.InvalidTransition(string(apt.Status), string(model.AppointmentStatusCancelled))
		}
		result, err = s.cancelLocked(ctx, apt, &reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, event.AppointmentCancelled, result)
	return result, nil
}

// cancelLocked must run under the appointment lock.
func (s *Service) cancelLocked(ctx context.Context, apt *model.Appointment, reason *string) (*model.Appointment, error) {
	ref := apt.SlotRef()
	if ref != nil {
		if err := s.slots.Release(ctx, *ref); err != nil {
			return nil, err
		}
	}

	from := apt.Status
	apt.Status = model.AppointmentStatusCancelled
	apt.CancellationReason = reason

	if err := s.repo.Update(ctx, apt); err != nil {
		if ref != nil {
			s.restoreQuietly(ctx, *ref)
		}
		return nil, fmt.Errorf("failed to update appointment: %w", err)
	}

	s.metrics.Transitions.WithLabelValues(string(from), string(model.AppointmentStatusCancelled)).Inc()
	return apt, nil
}

// Delete removes the appointment, releasing its slot first.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	var deleted *model.Appointment
	err := s.locker.WithLock(ctx, lock.AppointmentKey(id), func(ctx context.Context) error {
		apt, err := s.Get(ctx, id)
		if err != nil {
			return err
		}

		var ref *model.SlotRef
		if apt.Status.HoldsSlot() {
			ref = apt.SlotRef()
		}
		if ref != nil {
			if err := s.slots.Release(ctx, *ref); err != nil {
				return err
			}
		}

		if err := s.repo.Delete(ctx, id); err != nil {
			if ref != nil {
				s.restoreQuietly(ctx, *ref)
			}
			return fmt.Errorf("failed to delete appointment: %w", err)
		}
		deleted = apt
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, event.AppointmentDeleted, deleted)
	s.logger.Info("appointment deleted", "appointment_id", id.String())
	return nil
}

func (s *Service) emit(ctx context.Context, eventType event.EventType, apt *model.Appointment) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, eventType, apt.ID, apt); err != nil {
		s.logger.Error(err, "failed to record event",
			"event_type", string(eventType),
			"appointment_id", apt.ID.String())
	}
}

func (s *Service) releaseQuietly(ctx context.Context, ref model.SlotRef) {
	if err := s.slots.Release(ctx, ref); err != nil {
		s.logger.Error(err, "compensating release failed",
			"slot_id", ref.SlotID.String(),
			"appointment_id", ref.AppointmentID.String())
	}
}

func (s *Service) restoreQuietly(ctx context.Context, ref model.SlotRef) {
	if err := s.slots.Restore(ctx, ref); err != nil {
		s.logger.Error(err, "compensating restore failed",
			"slot_id", ref.SlotID.String(),
			"appointment_id", ref.AppointmentID.String())
	}
}
