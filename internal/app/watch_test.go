package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
)

type closerStub struct {
	mu     sync.Mutex
	closed []uuid.UUID
}

func (s *closerStub) CloseRoom(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, id)
	return 1
}

func (s *closerStub) ids() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.closed...)
}

func TestWatchAppointments_ClosesRooms(t *testing.T) {
	broker := messaging.NewLocalBroker(logger.Nop())
	rooms := &closerStub{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- WatchAppointments(ctx, broker, "clinic", rooms, logger.Nop()) }()

	cancelled, deleted := uuid.New(), uuid.New()
	publish := func(channel string, msg messaging.Message) {
		raw, err := msg.Marshal()
		require.NoError(t, err)
		require.NoError(t, broker.Publish(context.Background(), channel, raw))
	}

	// subscriptions are registered asynchronously
	require.Eventually(t, func() bool {
		publish("clinic.appointment.cancelled", messaging.Message{ID: "1", Type: "appointment.cancelled", AggregateID: cancelled.String()})
		return len(rooms.ids()) > 0
	}, time.Second, 10*time.Millisecond)

	publish("clinic.appointment.deleted", messaging.Message{ID: "2", Type: "appointment.deleted", AggregateID: deleted.String()})
	publish("clinic.appointment.deleted", messaging.Message{ID: "3", Type: "appointment.deleted", AggregateID: "not-a-uuid"})
	publish("clinic.appointment.confirmed", messaging.Message{ID: "4", Type: "appointment.confirmed", AggregateID: uuid.NewString()})

	require.Eventually(t, func() bool {
		for _, id := range rooms.ids() {
			if id == deleted {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	for _, id := range rooms.ids() {
		assert.Contains(t, []uuid.UUID{cancelled, deleted}, id)
	}
}

func TestWatchAppointments_SubscribeFailure(t *testing.T) {
	broker := messaging.NewLocalBroker(logger.Nop())
	require.NoError(t, broker.Close())

	err := WatchAppointments(context.Background(), broker, "clinic", &closerStub{}, logger.Nop())
	assert.Error(t, err)
}
