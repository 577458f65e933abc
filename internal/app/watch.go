package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/service/event"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
)

// RoomCloser drops the live chat room of an appointment.
type RoomCloser interface {
	CloseRoom(appointmentID uuid.UUID) int
}

// WatchAppointments closes live chat rooms when the outbox announces that an
// appointment was cancelled or deleted. It blocks until ctx is cancelled.
func WatchAppointments(ctx context.Context, broker messaging.Broker, prefix string, rooms RoomCloser, log *logger.Logger) error {
	log = log.With("appointment-watch")

	var wg sync.WaitGroup
	for _, t := range []event.EventType{event.AppointmentCancelled, event.AppointmentDeleted} {
		channel := string(t)
		if prefix != "" {
			channel = prefix + "." + channel
		}
		msgs, err := broker.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}

		wg.Add(1)
		go func(channel string, msgs <-chan []byte) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case raw, ok := <-msgs:
					if !ok {
						return
					}
					closeRoom(raw, channel, rooms, log)
				}
			}
		}(channel, msgs)
	}
	wg.Wait()

	return nil
}

func closeRoom(raw []byte, channel string, rooms RoomCloser, log *logger.Logger) {
	var msg messaging.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Error(err, "malformed message", "channel", channel)
		return
	}
	id, err := uuid.Parse(msg.AggregateID)
	if err != nil {
		log.Error(err, "malformed aggregate id", "channel", channel, "message_id", msg.ID)
		return
	}
	n := rooms.CloseRoom(id)
	log.Debug("appointment closed",
		"appointment_id", id.String(),
		"type", msg.Type,
		"connections", n)
}
