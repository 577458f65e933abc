package chat

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

// Connection is one live client. The transport drains Send and writes each
// frame to the socket.
type Connection struct {
	ID     uuid.UUID
	Caller model.Caller
	Send   chan []byte

	mu     sync.Mutex
	closed bool
	rooms  map[uuid.UUID]struct{}
}

func NewConnection(caller model.Caller, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 64
	}
	return &Connection{
		ID:     uuid.New(),
		Caller: caller,
		Send:   make(chan []byte, buffer),
		rooms:  make(map[uuid.UUID]struct{}),
	}
}

// deliver queues a frame without blocking. A client whose buffer is full is
// closed; it can recover missed messages from history on reconnect.
func (c *Connection) deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		c.closed = true
		close(c.Send)
		return false
	}
}

// Close closes Send once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) InRoom(appointmentID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[appointmentID]
	return ok
}

func (c *Connection) joined(appointmentID uuid.UUID) {
	c.mu.Lock()
	c.rooms[appointmentID] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) left(appointmentID uuid.UUID) {
	c.mu.Lock()
	delete(c.rooms, appointmentID)
	c.mu.Unlock()
}

func (c *Connection) roomIDs() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}
