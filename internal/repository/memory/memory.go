// Package memory holds in-process implementations of the repository
// interfaces. They back the memory storage driver and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

type slotRepository struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]*model.AvailabilitySlot
}

func NewSlotRepository() repository.SlotRepository {
	return &slotRepository{slots: make(map[uuid.UUID]*model.AvailabilitySlot)}
}

func copySlot(s *model.AvailabilitySlot) *model.AvailabilitySlot {
	c := *s
	if s.AppointmentID != nil {
		id := *s.AppointmentID
		c.AppointmentID = &id
	}
	return &c
}

func (r *slotRepository) CreateBatch(ctx context.Context, slots []*model.AvailabilitySlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, s := range slots {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.CreatedAt = now
		s.UpdatedAt = now
		r.slots[s.ID] = copySlot(s)
	}
	return nil
}

func (r *slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copySlot(s), nil
}

func (r *slotRepository) List(ctx context.Context, filters *model.SlotFilters) ([]*model.AvailabilitySlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.AvailabilitySlot
	for _, s := range r.slots {
		if filters != nil {
			if filters.DoctorID != uuid.Nil && s.DoctorID != filters.DoctorID {
				continue
			}
			if filters.Date != "" && s.Date != filters.Date {
				continue
			}
			if filters.OnlyFree && s.IsBooked {
				continue
			}
		}
		out = append(out, copySlot(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (r *slotRepository) UpdateTimes(ctx context.Context, id uuid.UUID, startTime, endTime string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.IsBooked {
		return false, nil
	}
	s.StartTime = startTime
	s.EndTime = endTime
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *slotRepository) DeleteFree(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.IsBooked {
		return false, nil
	}
	delete(r.slots, id)
	return true, nil
}

func (r *slotRepository) MarkBooked(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[slotID]
	if !ok || s.IsBooked {
		return false, nil
	}
	s.IsBooked = true
	s.AppointmentID = &appointmentID
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *slotRepository) MarkFree(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[slotID]
	if !ok || !s.IsBooked || s.AppointmentID == nil || *s.AppointmentID != appointmentID {
		return false, nil
	}
	s.IsBooked = false
	s.AppointmentID = nil
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}
