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

type appointmentRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*model.Appointment
}

func NewAppointmentRepository() repository.AppointmentRepository {
	return &appointmentRepository{appointments: make(map[uuid.UUID]*model.Appointment)}
}

func copyAppointment(a *model.Appointment) *model.Appointment {
	c := *a
	if a.SlotID != nil {
		id := *a.SlotID
		c.SlotID = &id
	}
	if a.CancellationReason != nil {
		reason := *a.CancellationReason
		c.CancellationReason = &reason
	}
	c.RescheduleHistory = append(model.RescheduleHistory{}, a.RescheduleHistory...)
	return &c
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	now := time.Now().UTC()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now
	r.appointments[appointment.ID] = copyAppointment(appointment)
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyAppointment(a), nil
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[appointment.ID]; !ok {
		return repository.ErrNotFound
	}
	appointment.UpdatedAt = time.Now().UTC()
	r.appointments[appointment.ID] = copyAppointment(appointment)
	return nil
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.appointments, id)
	return nil
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Appointment
	for _, a := range r.appointments {
		if filters != nil {
			if filters.PatientID != uuid.Nil && a.PatientID != filters.PatientID {
				continue
			}
			if filters.DoctorID != uuid.Nil && a.DoctorID != filters.DoctorID {
				continue
			}
			if filters.Status != "" && a.Status != filters.Status {
				continue
			}
			if filters.Date != "" && a.Date != filters.Date {
				continue
			}
		}
		out = append(out, copyAppointment(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}
