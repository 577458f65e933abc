package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

// Service writes events to the outbox table. Delivery happens in
// pkg/worker.OutboxProcessor.
type Service struct {
	outboxRepo repository.OutboxRepository
	logger     *logger.Logger
}

func NewService(outboxRepo repository.OutboxRepository, log *logger.Logger) *Service {
	return &Service{
		outboxRepo: outboxRepo,
		logger:     log.With("event"),
	}
}

func (s *Service) Emit(ctx context.Context, eventType EventType, aggregateID uuid.UUID, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	headers := model.JSONMap{}
	if requestID := middleware.RequestIDFromContext(ctx); requestID != "" {
		headers["request_id"] = requestID
	}

	evt := &model.OutboxEvent{
		ID:          uuid.New(),
		EventType:   string(eventType),
		AggregateID: aggregateID,
		Payload:     payloadJSON,
		Headers:     headers,
	}

	if err := s.outboxRepo.Create(ctx, evt); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	s.logger.Debug("event recorded", "event_type", evt.EventType, "aggregate_id", aggregateID.String())
	return nil
}
