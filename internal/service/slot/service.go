// Package slot owns doctor availability and the booked/free flag on each slot.
package slot

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/service/event"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/lock"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type Service struct {
	repo    repository.SlotRepository
	locker  lock.Locker
	logger  *logger.Logger
	metrics *metrics.Metrics
	events  event.Emitter
}

func NewService(repo repository.SlotRepository, locker lock.Locker, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		locker:  locker,
		logger:  log.With("slot"),
		metrics: m,
	}
}

// WithEvents records availability.published events after AddSlots.
func (s *Service) WithEvents(e event.Emitter) *Service {
	s.events = e
	return s
}

// ReserveRequest asks for the slot starting at StartTime. EndTime is optional.
type ReserveRequest struct {
	DoctorID      uuid.UUID
	Date          string
	StartTime     string
	EndTime       string
	AppointmentID uuid.UUID
}

// Reserve books the slot matching req for req.AppointmentID.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*model.SlotRef, error) {
	var ref *model.SlotRef

	err := s.locker.WithLock(ctx, lock.DoctorKey(req.DoctorID), func(ctx context.Context) error {
		slots, err := s.repo.List(ctx, &model.SlotFilters{DoctorID: req.DoctorID, Date: req.Date})
		if err != nil {
			return fmt.Errorf("failed to load slots: %w", err)
		}

		var match *model.AvailabilitySlot
		for _, slot := range slots {
			if slot.Matches(req.Date, req.StartTime, req.EndTime) {
				match = slot
				break
			}
		}
		if match == nil {
			return apperrors.SlotNotFound(req.DoctorID.String(), req.Date, req.StartTime)
		}
		if match.IsBooked {
			return apperrors.SlotAlreadyBooked(match.ID.String())
		}

		booked, err := s.repo.MarkBooked(ctx, match.ID, req.AppointmentID)
		if err != nil {
			return err
		}
		if !booked {
			// another process won between the read and the conditional update
			return apperrors.SlotAlreadyBooked(match.ID.String())
		}

		ref = &model.SlotRef{
			SlotID:        match.ID,
			DoctorID:      req.DoctorID,
			AppointmentID: req.AppointmentID,
			StartTime:     match.StartTime,
			EndTime:       match.EndTime,
		}
		return nil
	})

	s.metrics.SlotReservations.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.logger.Debug("slot reserved",
		"slot_id", ref.SlotID.String(),
		"appointment_id", ref.AppointmentID.String())
	return ref, nil
}

// Release frees the slot if it is still held by ref.AppointmentID.
// Releasing a free, reassigned or missing slot is a no-op.
func (s *Service) Release(ctx context.Context, ref model.SlotRef) error {
	var freed bool
	err := s.locker.WithLock(ctx, lock.DoctorKey(ref.DoctorID), func(ctx context.Context) error {
		var err error
		freed, err = s.repo.MarkFree(ctx, ref.SlotID, ref.AppointmentID)
		return err
	})
	if err != nil {
		s.metrics.SlotReleases.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to release slot: %w", err)
	}

	if !freed {
		s.metrics.SlotReleases.WithLabelValues("noop").Inc()
		s.logger.Warn("release was a no-op",
			"slot_id", ref.SlotID.String(),
			"appointment_id", ref.AppointmentID.String())
		return nil
	}
	s.metrics.SlotReleases.WithLabelValues("success").Inc()
	return nil
}

// Restore re-books a slot that was just released by ref.AppointmentID. It
// undoes a Release when a later step of the same operation fails.
func (s *Service) Restore(ctx context.Context, ref model.SlotRef) error {
	return s.locker.WithLock(ctx, lock.DoctorKey(ref.DoctorID), func(ctx context.Context) error {
		booked, err := s.repo.MarkBooked(ctx, ref.SlotID, ref.AppointmentID)
		if err != nil {
			return fmt.Errorf("failed to restore slot: %w", err)
		}
		if !booked {
			return apperrors.SlotAlreadyBooked(ref.SlotID.String())
		}
		return nil
	})
}

// AddSlots publishes entries for doctorID. Either every entry is stored or none is.
func (s *Service) AddSlots(ctx context.Context, doctorID uuid.UUID, entries []model.SlotEntry) ([]*model.AvailabilitySlot, error) {
	if len(entries) == 0 {
		return nil, apperrors.NewValidation("at least one slot is required")
	}

	candidates := make([]*model.AvailabilitySlot, 0, len(entries))
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, apperrors.NewValidation(err.Error()).WithDetail("index", i)
		}
		candidates = append(candidates, &model.AvailabilitySlot{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			Date:      e.Date,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
		})
	}

	for i := range candidates {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[i].Overlaps(candidates[j]) {
				c := candidates[j]
				return nil, apperrors.SlotOverlap(c.Date, c.StartTime, c.EndTime)
			}
		}
	}

	err := s.locker.WithLock(ctx, lock.DoctorKey(doctorID), func(ctx context.Context) error {
		existing := make(map[string][]*model.AvailabilitySlot)
		for _, c := range candidates {
			if _, ok := existing[c.Date]; ok {
				continue
			}
			slots, err := s.repo.List(ctx, &model.SlotFilters{DoctorID: doctorID, Date: c.Date})
			if err != nil {
				return fmt.Errorf("failed to load slots: %w", err)
			}
			existing[c.Date] = slots
		}

		for _, c := range candidates {
			for _, other := range existing[c.Date] {
				if c.Overlaps(other) {
					return apperrors.SlotOverlap(c.Date, c.StartTime, c.EndTime).
						WithDetail("conflicts_with", other.ID.String())
				}
			}
		}

		return s.repo.CreateBatch(ctx, candidates)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Date != candidates[j].Date {
			return candidates[i].Date < candidates[j].Date
		}
		return candidates[i].StartTime < candidates[j].StartTime
	})

	if s.events != nil {
		if err := s.events.Emit(ctx, event.SlotsPublished, doctorID, candidates); err != nil {
			s.logger.Error(err, "failed to record event", "event_type", string(event.SlotsPublished))
		}
	}
	s.logger.Info("slots published", "doctor_id", doctorID.String(), "count", len(candidates))
	return candidates, nil
}

// UpdateSlot moves a free slot to a new time range on the same date.
// A nil ownerID skips the ownership check (admin).
func (s *Service) UpdateSlot(ctx context.Context, ownerID, slotID uuid.UUID, startTime, endTime string) (*model.AvailabilitySlot, error) {
	current, err := s.getOwned(ctx, ownerID, slotID)
	if err != nil {
		return nil, err
	}

	entry := model.SlotEntry{Date: current.Date, StartTime: startTime, EndTime: endTime}
	if err := entry.Validate(); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}

	var updated *model.AvailabilitySlot
	err = s.locker.WithLock(ctx, lock.DoctorKey(current.DoctorID), func(ctx context.Context) error {
		slot, err := s.repo.Get(ctx, slotID)
		if err != nil {
			return s.mapNotFound(err)
		}
		if slot.IsBooked {
			return apperrors.SlotBooked(slot.ID.String())
		}

		siblings, err := s.repo.List(ctx, &model.SlotFilters{DoctorID: slot.DoctorID, Date: slot.Date})
		if err != nil {
			return fmt.Errorf("failed to load slots: %w", err)
		}
		for _, other := range siblings {
			if other.ID == slot.ID {
				continue
			}
			if model.RangesOverlap(startTime, endTime, other.StartTime, other.EndTime) {
				return apperrors.SlotOverlap(slot.Date, startTime, endTime).
					WithDetail("conflicts_with", other.ID.String())
			}
		}

		ok, err := s.repo.UpdateTimes(ctx, slot.ID, startTime, endTime)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.SlotBooked(slot.ID.String())
		}

		slot.StartTime = startTime
		slot.EndTime = endTime
		updated = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSlot removes a free slot.
func (s *Service) DeleteSlot(ctx context.Context, ownerID, slotID uuid.UUID) error {
	current, err := s.getOwned(ctx, ownerID, slotID)
	if err != nil {
		return err
	}

	return s.locker.WithLock(ctx, lock.DoctorKey(current.DoctorID), func(ctx context.Context) error {
		slot, err := s.repo.Get(ctx, slotID)
		if err != nil {
			return s.mapNotFound(err)
		}
		if slot.IsBooked {
			return apperrors.SlotBooked(slot.ID.String())
		}

		ok, err := s.repo.DeleteFree(ctx, slotID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.SlotBooked(slot.ID.String())
		}
		return nil
	})
}

func (s *Service) GetSlot(ctx context.Context, slotID uuid.UUID) (*model.AvailabilitySlot, error) {
	slot, err := s.repo.Get(ctx, slotID)
	if err != nil {
		return nil, s.mapNotFound(err)
	}
	return slot, nil
}

func (s *Service) ListSlots(ctx context.Context, filters *model.SlotFilters) ([]*model.AvailabilitySlot, error) {
	slots, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	if slots == nil {
		slots = []*model.AvailabilitySlot{}
	}
	return slots, nil
}

func (s *Service) getOwned(ctx context.Context, ownerID, slotID uuid.UUID) (*model.AvailabilitySlot, error) {
	slot, err := s.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if ownerID != uuid.Nil && slot.DoctorID != ownerID {
		return nil, apperrors.Forbidden("slot belongs to another doctor")
	}
	return slot, nil
}

func (s *Service) mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("slot", err)
	}
	return err
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Code.String()
	}
	return "error"
}
