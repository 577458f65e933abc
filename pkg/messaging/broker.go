package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jwalitptl/clinic-api/pkg/logger"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope published for every outbox event.
type Message struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
}

func (m Message) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return b, nil
}

// LocalBroker fans messages out to in-process subscribers. It backs the
// worker when Redis is disabled and the worker tests.
type LocalBroker struct {
	mu     sync.RWMutex
	subs   map[string][]chan []byte
	logger *logger.Logger
	closed bool
}

func NewLocalBroker(log *logger.Logger) *LocalBroker {
	return &LocalBroker{
		subs:   make(map[string][]chan []byte),
		logger: log,
	}
}

func (b *LocalBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("broker closed")
	}

	b.logger.Debug("publish", "channel", channel, "bytes", len(payload))
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.logger.Warn("subscriber buffer full, dropping message", "channel", channel)
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker closed")
	}
	ch := make(chan []byte, 100)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = nil
	return nil
}
