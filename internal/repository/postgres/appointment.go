package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

const appointmentColumns = `
	id, patient_id, doctor_id, date, time, end_time, slot_id,
	consultation_type, symptoms, notes, priority, status,
	reschedule_history, cancellation_reason, created_at, updated_at`

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (` + appointmentColumns + `
		) VALUES (
			:id, :patient_id, :doctor_id, :date, :time, :end_time, :slot_id,
			:consultation_type, :symptoms, :notes, :priority, :status,
			:reschedule_history, :cancellation_reason, :created_at, :updated_at
		)
	`
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	now := time.Now().UTC()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	if _, err := r.db.NamedExecContext(ctx, query, appointment); err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		return nil, notFound(err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	query := `
		UPDATE appointments
		SET date = :date, time = :time, end_time = :end_time, slot_id = :slot_id,
			status = :status, notes = :notes, reschedule_history = :reschedule_history,
			cancellation_reason = :cancellation_reason, updated_at = :updated_at
		WHERE id = :id
	`
	appointment.UpdatedAt = time.Now().UTC()

	result, err := r.db.NamedExecContext(ctx, query, appointment)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filters != nil {
		if filters.PatientID != uuid.Nil {
			add("patient_id = $%d", filters.PatientID)
		}
		if filters.DoctorID != uuid.Nil {
			add("doctor_id = $%d", filters.DoctorID)
		}
		if filters.Status != "" {
			add("status = $%d", filters.Status)
		}
		if filters.Date != "" {
			add("date = $%d", filters.Date)
		}
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, time"

	var appointments []*model.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}
