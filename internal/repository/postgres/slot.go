package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-api/internal/model"
)

const slotColumns = `id, doctor_id, date, start_time, end_time, is_booked, appointment_id, created_at, updated_at`

func (r *slotRepository) CreateBatch(ctx context.Context, slots []*model.AvailabilitySlot) error {
	query := `
		INSERT INTO availability_slots (
			id, doctor_id, date, start_time, end_time, is_booked, created_at, updated_at
		) VALUES (
			:id, :doctor_id, :date, :start_time, :end_time, FALSE, :created_at, :updated_at
		)
	`
	now := time.Now().UTC()
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, s := range slots {
			if s.ID == uuid.Nil {
				s.ID = uuid.New()
			}
			s.CreatedAt = now
			s.UpdatedAt = now
			if _, err := tx.NamedExecContext(ctx, query, s); err != nil {
				return fmt.Errorf("failed to create slot: %w", err)
			}
		}
		return nil
	})
}

func (r *slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1`

	var slot model.AvailabilitySlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, notFound(err)
	}
	return &slot, nil
}

func (r *slotRepository) List(ctx context.Context, filters *model.SlotFilters) ([]*model.AvailabilitySlot, error) {
	var (
		where []string
		args  []interface{}
	)
	if filters != nil {
		if filters.DoctorID != uuid.Nil {
			args = append(args, filters.DoctorID)
			where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
		}
		if filters.Date != "" {
			args = append(args, filters.Date)
			where = append(where, fmt.Sprintf("date = $%d", len(args)))
		}
		if filters.OnlyFree {
			where = append(where, "is_booked = FALSE")
		}
	}

	query := `SELECT ` + slotColumns + ` FROM availability_slots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, start_time"

	var slots []*model.AvailabilitySlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) UpdateTimes(ctx context.Context, id uuid.UUID, startTime, endTime string) (bool, error) {
	query := `
		UPDATE availability_slots
		SET start_time = $1, end_time = $2, updated_at = NOW()
		WHERE id = $3 AND is_booked = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, startTime, endTime, id)
	if err != nil {
		return false, fmt.Errorf("failed to update slot: %w", err)
	}
	return affected(result)
}

func (r *slotRepository) DeleteFree(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM availability_slots WHERE id = $1 AND is_booked = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete slot: %w", err)
	}
	return affected(result)
}

func (r *slotRepository) MarkBooked(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error) {
	query := `
		UPDATE availability_slots
		SET is_booked = TRUE, appointment_id = $1, updated_at = NOW()
		WHERE id = $2 AND is_booked = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, appointmentID, slotID)
	if err != nil {
		return false, fmt.Errorf("failed to book slot: %w", err)
	}
	return affected(result)
}

func (r *slotRepository) MarkFree(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error) {
	query := `
		UPDATE availability_slots
		SET is_booked = FALSE, appointment_id = NULL, updated_at = NOW()
		WHERE id = $1 AND appointment_id = $2
	`
	result, err := r.db.ExecContext(ctx, query, slotID, appointmentID)
	if err != nil {
		return false, fmt.Errorf("failed to release slot: %w", err)
	}
	return affected(result)
}
