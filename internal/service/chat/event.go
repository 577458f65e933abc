package chat

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

// Inbound event names.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMarkRead    = "mark_read"
)

// Outbound event names.
const (
	EventRoomJoined     = "room_joined"
	EventRoomLeft       = "room_left"
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventUserTyping     = "user_typing"
	EventMessagesRead   = "messages_read"
	EventError          = "error"
)

// Event is one inbound live-channel event. The concrete types are
// JoinEvent, LeaveEvent, SendEvent, TypingEvent and MarkReadEvent.
type Event interface {
	Room() uuid.UUID
	name() string
}

type JoinEvent struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
}

type LeaveEvent struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
}

type SendEvent struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	Message       string    `json:"message"`
}

type TypingEvent struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	IsTyping      bool      `json:"isTyping"`
}

type MarkReadEvent struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
}

func (e JoinEvent) Room() uuid.UUID     { return e.AppointmentID }
func (e LeaveEvent) Room() uuid.UUID    { return e.AppointmentID }
func (e SendEvent) Room() uuid.UUID     { return e.AppointmentID }
func (e TypingEvent) Room() uuid.UUID   { return e.AppointmentID }
func (e MarkReadEvent) Room() uuid.UUID { return e.AppointmentID }

func (JoinEvent) name() string     { return EventJoinRoom }
func (LeaveEvent) name() string    { return EventLeaveRoom }
func (SendEvent) name() string     { return EventSendMessage }
func (TypingEvent) name() string   { return EventTyping }
func (MarkReadEvent) name() string { return EventMarkRead }

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses an inbound frame into its event type.
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	var ev Event
	switch env.Event {
	case EventJoinRoom:
		var e JoinEvent
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventLeaveRoom:
		var e LeaveEvent
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventSendMessage:
		var e SendEvent
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventTyping:
		var e TypingEvent
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventMarkRead:
		var e MarkReadEvent
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}

	if ev.Room() == uuid.Nil {
		return nil, fmt.Errorf("%s: appointmentId is required", env.Event)
	}
	return ev, nil
}

func unmarshalData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed data: %w", err)
	}
	return nil
}

// Encode builds an outbound frame.
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type RoomJoinedData struct {
	AppointmentID uuid.UUID            `json:"appointmentId"`
	Messages      []*model.ChatMessage `json:"messages"`
}

type RoomLeftData struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
}

type UserTypingData struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	UserID        uuid.UUID `json:"userId"`
	IsTyping      bool      `json:"isTyping"`
}

type MessagesReadData struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	ReaderID      uuid.UUID `json:"readerId"`
	Count         int64     `json:"count"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
