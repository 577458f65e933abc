package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

type messageRepository struct {
	mu       sync.RWMutex
	messages map[uuid.UUID][]*model.ChatMessage
}

func NewMessageRepository() repository.MessageRepository {
	return &messageRepository{messages: make(map[uuid.UUID][]*model.ChatMessage)}
}

func (r *messageRepository) Create(ctx context.Context, msg *model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *msg
	list := append(r.messages[msg.AppointmentID], &c)
	sort.SliceStable(list, func(i, j int) bool {
		return bytes.Compare(list[i].ID[:], list[j].ID[:]) < 0
	})
	r.messages[msg.AppointmentID] = list
	return nil
}

func (r *messageRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID, since *time.Time) ([]*model.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.ChatMessage, 0, len(r.messages[appointmentID]))
	for _, m := range r.messages[appointmentID] {
		if since != nil && !m.CreatedAt.After(*since) {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

func (r *messageRepository) MarkReadFrom(ctx context.Context, appointmentID, senderID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, m := range r.messages[appointmentID] {
		if m.SenderID == senderID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}
