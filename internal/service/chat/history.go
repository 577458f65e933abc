package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

const maxBodyLength = 4000

// History is the append-only message log behind both REST and the live room.
type History struct {
	repo    repository.MessageRepository
	metrics *metrics.Metrics
}

func NewHistory(repo repository.MessageRepository, m *metrics.Metrics) *History {
	return &History{repo: repo, metrics: m}
}

func (h *History) Append(ctx context.Context, appointmentID, senderID uuid.UUID, body string) (*model.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidation("message is required")
	}
	if len(body) > maxBodyLength {
		return nil, apperrors.NewValidation(fmt.Sprintf("message exceeds %d characters", maxBodyLength))
	}

	msg, err := model.NewChatMessage(appointmentID, senderID, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create message id: %w", err)
	}
	if err := h.repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	h.metrics.ChatMessages.Inc()
	return msg, nil
}

// List returns messages in id order, optionally only those created after since.
func (h *History) List(ctx context.Context, appointmentID uuid.UUID, since *time.Time) ([]*model.ChatMessage, error) {
	msgs, err := h.repo.ListByAppointment(ctx, appointmentID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if msgs == nil {
		msgs = []*model.ChatMessage{}
	}
	return msgs, nil
}

// MarkRead flips every unread message the reader received in apt.
func (h *History) MarkRead(ctx context.Context, apt *model.Appointment, readerID uuid.UUID) (int64, error) {
	n, err := h.repo.MarkReadFrom(ctx, apt.ID, apt.Counterpart(readerID))
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return n, nil
}
