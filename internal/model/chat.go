package model

import (
	"time"

	"github.com/google/uuid"
)

type ChatMessage struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	SenderID      uuid.UUID `db:"sender_id" json:"sender_id"`
	Body          string    `db:"body" json:"message"`
	Read          bool      `db:"read" json:"read"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// NewChatMessage stamps a message with a time-ordered UUIDv7 id.
func NewChatMessage(appointmentID, senderID uuid.UUID, body string) (*ChatMessage, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &ChatMessage{
		ID:            id,
		AppointmentID: appointmentID,
		SenderID:      senderID,
		Body:          body,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

type SendMessageRequest struct {
	Message string `json:"message" binding:"required,max=4000"`
}
