package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

func (r *messageRepository) Create(ctx context.Context, msg *model.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, appointment_id, sender_id, body, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.AppointmentID,
		msg.SenderID,
		msg.Body,
		msg.Read,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create chat message: %w", err)
	}
	return nil
}

func (r *messageRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID, since *time.Time) ([]*model.ChatMessage, error) {
	query := `
		SELECT id, appointment_id, sender_id, body, read, created_at
		FROM chat_messages
		WHERE appointment_id = $1 AND ($2::timestamptz IS NULL OR created_at > $2)
		ORDER BY id ASC
	`
	messages := []*model.ChatMessage{}
	if err := r.db.SelectContext(ctx, &messages, query, appointmentID, since); err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return messages, nil
}

func (r *messageRepository) MarkReadFrom(ctx context.Context, appointmentID, senderID uuid.UUID) (int64, error) {
	query := `
		UPDATE chat_messages
		SET read = TRUE
		WHERE appointment_id = $1 AND sender_id = $2 AND read = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, appointmentID, senderID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return result.RowsAffected()
}
