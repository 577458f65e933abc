package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

type outboxRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID]*model.OutboxEvent
	order  []uuid.UUID
}

func NewOutboxRepository() repository.OutboxRepository {
	return &outboxRepository{events: make(map[uuid.UUID]*model.OutboxEvent)}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := time.Now().UTC()
	event.Status = model.OutboxStatusPending
	event.CreatedAt = now
	event.UpdatedAt = now
	c := *event
	r.events[event.ID] = &c
	r.order = append(r.order, event.ID)
	return nil
}

func (r *outboxRepository) ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*model.OutboxEvent
	for _, id := range r.order {
		if e := r.events[id]; e.Status == model.OutboxStatusPending {
			pending = append(pending, e)
		}
		if len(pending) == limit {
			break
		}
	}

	out := make([]*model.OutboxEvent, 0, len(pending))
	for _, e := range pending {
		e.Status = model.OutboxStatusProcessing
		e.UpdatedAt = time.Now().UTC()
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	e.Status = model.OutboxStatusProcessed
	e.ProcessedAt = &now
	e.UpdatedAt = now
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.RetryCount++
	e.ErrorMessage = &errMsg
	e.UpdatedAt = time.Now().UTC()
	if retry {
		e.Status = model.OutboxStatusPending
	} else {
		e.Status = model.OutboxStatusFailed
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	kept := r.order[:0]
	for _, id := range r.order {
		e := r.events[id]
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.events, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return n, nil
}

// Events returns a snapshot of every stored event, oldest first.
func Events(repo repository.OutboxRepository) []*model.OutboxEvent {
	r, ok := repo.(*outboxRepository)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.OutboxEvent, 0, len(r.order))
	for _, id := range r.order {
		c := *r.events[id]
		out = append(out, &c)
	}
	return out
}
