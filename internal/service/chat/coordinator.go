// Package chat runs the per-appointment chat rooms and their message history.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/lock"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

// AppointmentLookup resolves the appointment a room is bound to.
type AppointmentLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
}

type Coordinator struct {
	registry     *Registry
	appointments AppointmentLookup
	locker       lock.Locker
	history      *History
	sendBuffer   int
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

func NewCoordinator(
	registry *Registry,
	appointments AppointmentLookup,
	locker lock.Locker,
	history *History,
	sendBuffer int,
	log *logger.Logger,
	m *metrics.Metrics,
) *Coordinator {
	return &Coordinator{
		registry:     registry,
		appointments: appointments,
		locker:       locker,
		history:      history,
		sendBuffer:   sendBuffer,
		logger:       log.With("chat"),
		metrics:      m,
	}
}

// Connect registers a new live client for caller.
func (c *Coordinator) Connect(caller model.Caller) *Connection {
	c.metrics.ChatConnections.Inc()
	return NewConnection(caller, c.sendBuffer)
}

// Disconnect drops conn from every room it joined and closes it.
func (c *Coordinator) Disconnect(conn *Connection) {
	for _, id := range conn.roomIDs() {
		c.registry.detach(id, conn)
		conn.left(id)
	}
	c.metrics.ChatRooms.Set(float64(c.registry.Len()))
	c.metrics.ChatConnections.Dec()
	conn.Close()
}

// CloseRoom detaches every live connection from the appointment's room and
// tells each one with room_left. The connections stay open. It returns how
// many were detached.
func (c *Coordinator) CloseRoom(appointmentID uuid.UUID) int {
	conns := c.registry.evict(appointmentID)
	for _, conn := range conns {
		conn.left(appointmentID)
		c.push(conn, EventRoomLeft, RoomLeftData{AppointmentID: appointmentID})
	}
	c.metrics.ChatRooms.Set(float64(c.registry.Len()))
	if len(conns) > 0 {
		c.logger.Info("room closed",
			"appointment_id", appointmentID.String(),
			"connections", len(conns))
	}
	return len(conns)
}

// Dispatch handles one inbound event for conn. Failures are reported to the
// client as an error frame and returned.
func (c *Coordinator) Dispatch(ctx context.Context, conn *Connection, ev Event) error {
	var err error
	switch e := ev.(type) {
	case JoinEvent:
		err = c.join(ctx, conn, e)
	case LeaveEvent:
		c.leave(conn, e)
	case SendEvent:
		err = c.send(ctx, conn, e)
	case TypingEvent:
		err = c.typing(conn, e)
	case MarkReadEvent:
		err = c.markReadLive(ctx, conn, e)
	default:
		err = apperrors.NewBadRequest("unsupported event", nil)
	}

	if err != nil {
		c.logger.Debug("chat event rejected",
			"event", eventName(ev),
			"connection_id", conn.ID.String(),
			"error", err.Error())
		c.ReplyError(conn, err)
	}
	return err
}

// ReplyError sends an error frame to conn.
func (c *Coordinator) ReplyError(conn *Connection, err error) {
	data := ErrorData{Message: "Internal server error", Code: apperrors.ErrInternal.String()}
	if appErr, ok := apperrors.As(err); ok && appErr.Code != apperrors.ErrInternal {
		data = ErrorData{Message: appErr.Message, Code: appErr.Code.String()}
	} else {
		c.logger.Error(err, "chat event failed", "connection_id", conn.ID.String())
	}
	c.push(conn, EventError, data)
}

func (c *Coordinator) join(ctx context.Context, conn *Connection, e JoinEvent) error {
	apt, err := c.authorize(ctx, e.AppointmentID, conn.Caller, true)
	if err != nil {
		return err
	}
	if !apt.IsParticipant(conn.Caller.ID) {
		return apperrors.Forbidden("only the patient and doctor can join this room")
	}

	err = c.registry.attach(apt.ID, conn, func(room *Room) error {
		msgs, err := c.history.List(ctx, apt.ID, nil)
		if err != nil {
			return err
		}
		conn.joined(apt.ID)
		c.push(conn, EventRoomJoined, RoomJoinedData{AppointmentID: apt.ID, Messages: msgs})
		return nil
	})
	c.metrics.ChatRooms.Set(float64(c.registry.Len()))
	if err != nil {
		return err
	}

	c.logger.Debug("room joined",
		"appointment_id", apt.ID.String(),
		"user_id", conn.Caller.ID.String())
	return nil
}

func (c *Coordinator) leave(conn *Connection, e LeaveEvent) {
	c.registry.detach(e.AppointmentID, conn)
	conn.left(e.AppointmentID)
	c.metrics.ChatRooms.Set(float64(c.registry.Len()))
	c.push(conn, EventRoomLeft, RoomLeftData{AppointmentID: e.AppointmentID})
}

func (c *Coordinator) send(ctx context.Context, conn *Connection, e SendEvent) error {
	if !conn.InRoom(e.AppointmentID) {
		return apperrors.Forbidden("join the room before sending messages")
	}
	return c.locker.WithLock(ctx, lock.AppointmentKey(e.AppointmentID), func(ctx context.Context) error {
		apt, err := c.authorize(ctx, e.AppointmentID, conn.Caller, true)
		if err != nil {
			return err
		}
		_, err = c.deliverMessage(ctx, apt.ID, conn.Caller.ID, e.Message, conn)
		return err
	})
}

func (c *Coordinator) typing(conn *Connection, e TypingEvent) error {
	if !conn.InRoom(e.AppointmentID) {
		return apperrors.Forbidden("join the room before sending typing updates")
	}
	room := c.registry.Get(e.AppointmentID)
	if room == nil {
		return nil
	}

	frame, err := Encode(EventUserTyping, UserTypingData{
		AppointmentID: e.AppointmentID,
		UserID:        conn.Caller.ID,
		IsTyping:      e.IsTyping,
	})
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	room.typing[conn.Caller.ID] = e.IsTyping
	for userID := range room.members {
		if userID == conn.Caller.ID {
			continue
		}
		for _, other := range room.of(userID) {
			other.deliver(frame)
		}
	}
	return nil
}

func (c *Coordinator) markReadLive(ctx context.Context, conn *Connection, e MarkReadEvent) error {
	if !conn.InRoom(e.AppointmentID) {
		return apperrors.Forbidden("join the room before marking messages read")
	}
	_, err := c.MarkRead(ctx, e.AppointmentID, conn.Caller)
	return err
}

// History returns the stored messages of an appointment. Admins may read any
// conversation; everyone else must be a participant.
func (c *Coordinator) History(ctx context.Context, appointmentID uuid.UUID, caller model.Caller, since *time.Time) ([]*model.ChatMessage, error) {
	if _, err := c.authorize(ctx, appointmentID, caller, false); err != nil {
		return nil, err
	}
	return c.history.List(ctx, appointmentID, since)
}

// Post stores a message sent over REST and broadcasts it to the live room.
func (c *Coordinator) Post(ctx context.Context, appointmentID uuid.UUID, caller model.Caller, body string) (*model.ChatMessage, error) {
	var msg *model.ChatMessage
	err := c.locker.WithLock(ctx, lock.AppointmentKey(appointmentID), func(ctx context.Context) error {
		apt, err := c.authorize(ctx, appointmentID, caller, true)
		if err != nil {
			return err
		}
		if !apt.IsParticipant(caller.ID) {
			return apperrors.Forbidden("only the patient and doctor can send messages")
		}
		msg, err = c.deliverMessage(ctx, apt.ID, caller.ID, body, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead flips the messages reader received and notifies the sender's
// live connections. The reader gets no receipt.
func (c *Coordinator) MarkRead(ctx context.Context, appointmentID uuid.UUID, reader model.Caller) (int64, error) {
	apt, err := c.authorize(ctx, appointmentID, reader, false)
	if err != nil {
		return 0, err
	}
	if !apt.IsParticipant(reader.ID) {
		return 0, apperrors.Forbidden("only the patient and doctor can mark messages read")
	}

	room := c.registry.Get(apt.ID)
	if room != nil {
		room.mu.Lock()
		defer room.mu.Unlock()
	}

	count, err := c.history.MarkRead(ctx, apt, reader.ID)
	if err != nil {
		return 0, err
	}
	if room == nil || count == 0 {
		return count, nil
	}

	frame, err := Encode(EventMessagesRead, MessagesReadData{
		AppointmentID: apt.ID,
		ReaderID:      reader.ID,
		Count:         count,
	})
	if err != nil {
		return count, nil
	}
	for _, conn := range room.of(apt.Counterpart(reader.ID)) {
		conn.deliver(frame)
	}
	return count, nil
}

// deliverMessage runs under the appointment lock, so the status checked by
// the caller cannot change before the append. It appends under the room lock so every member sees the
// room's messages in append order. origin, when set, gets message_sent
// instead of receive_message.
func (c *Coordinator) deliverMessage(ctx context.Context, appointmentID, senderID uuid.UUID, body string, origin *Connection) (*model.ChatMessage, error) {
	room := c.registry.Get(appointmentID)
	if room != nil {
		room.mu.Lock()
		defer room.mu.Unlock()
	}

	msg, err := c.history.Append(ctx, appointmentID, senderID, body)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return msg, nil
	}

	frame, err := Encode(EventReceiveMessage, msg)
	if err != nil {
		return msg, nil
	}
	for _, conn := range room.others(origin) {
		conn.deliver(frame)
	}
	if origin != nil {
		c.push(origin, EventMessageSent, msg)
	}
	return msg, nil
}

func (c *Coordinator) authorize(ctx context.Context, appointmentID uuid.UUID, caller model.Caller, requireOpen bool) (*model.Appointment, error) {
	apt, err := c.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !apt.IsParticipant(caller.ID) && !caller.IsAdmin() {
		return nil, apperrors.Forbidden("not a participant of this appointment")
	}
	if requireOpen && !apt.Status.ChatOpen() {
		return nil, apperrors.Forbidden("chat is only open for confirmed or completed appointments").
			WithDetail("status", string(apt.Status))
	}
	return apt, nil
}

func (c *Coordinator) push(conn *Connection, event string, data interface{}) {
	frame, err := Encode(event, data)
	if err != nil {
		c.logger.Error(err, "failed to encode frame", "event", event)
		return
	}
	conn.deliver(frame)
}

func eventName(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.name()
}
