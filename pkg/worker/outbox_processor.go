package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxFailures is how many failed batches an event survives before it is
	// parked as FAILED.
	MaxFailures   int
	ChannelPrefix string
}

// OutboxProcessor publishes pending outbox rows to the broker.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) (*OutboxProcessor, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than 0")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		return nil, fmt.Errorf("retry attempts must be greater than 0")
	}
	if config.RetryDelay < 0 {
		return nil, fmt.Errorf("retry delay must not be negative")
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 1
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  log.With("outbox"),
		metrics: m,
	}, nil
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("starting outbox processor",
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "failed to process events")
			}
		}
	}
}

// ProcessBatch claims up to BatchSize pending events and publishes them. It
// returns how many were published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}

	published := 0
	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
			continue
		}
		published++
	}
	return published, nil
}

// Channel returns the broker channel for an event type.
func (p *OutboxProcessor) Channel(eventType string) string {
	if p.config.ChannelPrefix == "" {
		return eventType
	}
	return p.config.ChannelPrefix + "." + eventType
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	payload, err := messaging.Message{
		ID:          event.ID.String(),
		Type:        event.EventType,
		AggregateID: event.AggregateID.String(),
		Payload:     event.Payload,
	}.Marshal()
	if err != nil {
		return p.fail(ctx, event, err)
	}

	channel := p.Channel(event.EventType)
	err = retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func(attempt int) error {
		if attempt > 0 {
			p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		}
		return p.broker.Publish(ctx, channel, payload)
	})
	if err != nil {
		return p.fail(ctx, event, err)
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (p *OutboxProcessor) fail(ctx context.Context, event *model.OutboxEvent, cause error) error {
	p.metrics.OutboxEventsFailed.Inc()
	requeue := event.RetryCount+1 < p.config.MaxFailures
	if err := p.repo.MarkFailed(ctx, event.ID, cause.Error(), requeue); err != nil {
		p.logger.Error(err, "failed to update event status", "event_id", event.ID.String())
	}
	return cause
}

// retry calls fn up to attempts times, sleeping delay between calls.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func(attempt int) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
