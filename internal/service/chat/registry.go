package chat

import (
	"sync"

	"github.com/google/uuid"
)

// Room holds the live connections of one appointment, grouped by participant.
type Room struct {
	AppointmentID uuid.UUID

	// mu orders appends and broadcasts for the room.
	mu      sync.Mutex
	members map[uuid.UUID]map[*Connection]struct{}
	typing  map[uuid.UUID]bool
}

func newRoom(appointmentID uuid.UUID) *Room {
	return &Room{
		AppointmentID: appointmentID,
		members:       make(map[uuid.UUID]map[*Connection]struct{}),
		typing:        make(map[uuid.UUID]bool),
	}
}

// add and remove require r.mu.
func (r *Room) add(conn *Connection) {
	set, ok := r.members[conn.Caller.ID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.members[conn.Caller.ID] = set
	}
	set[conn] = struct{}{}
}

func (r *Room) remove(conn *Connection) bool {
	set, ok := r.members[conn.Caller.ID]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.members, conn.Caller.ID)
		delete(r.typing, conn.Caller.ID)
	}
	return true
}

func (r *Room) empty() bool {
	return len(r.members) == 0
}

// others lists every connection except exclude. Requires r.mu.
func (r *Room) others(exclude *Connection) []*Connection {
	var out []*Connection
	for _, set := range r.members {
		for conn := range set {
			if conn != exclude {
				out = append(out, conn)
			}
		}
	}
	return out
}

// of lists the connections of one participant. Requires r.mu.
func (r *Room) of(userID uuid.UUID) []*Connection {
	out := make([]*Connection, 0, len(r.members[userID]))
	for conn := range r.members[userID] {
		out = append(out, conn)
	}
	return out
}

// Typing returns the last typing state recorded for userID.
func (r *Room) Typing(userID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typing[userID]
}

// Size returns the number of connections in the room.
func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.members {
		n += len(set)
	}
	return n
}

// Registry maps appointment ids to live rooms. Lock order is registry, then room.
type Registry struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[uuid.UUID]*Room)}
}

// Get returns the room for appointmentID, or nil when nobody is attached.
func (g *Registry) Get(appointmentID uuid.UUID) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[appointmentID]
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// attach adds conn to the room, creating it when needed, and runs fn while
// still holding the room lock so nothing is broadcast to conn before fn
// finishes. When fn fails conn is removed again.
func (g *Registry) attach(appointmentID uuid.UUID, conn *Connection, fn func(room *Room) error) error {
	g.mu.Lock()
	room, ok := g.rooms[appointmentID]
	if !ok {
		room = newRoom(appointmentID)
		g.rooms[appointmentID] = room
	}
	room.mu.Lock()
	g.mu.Unlock()

	room.add(conn)
	err := fn(room)
	if err != nil {
		room.remove(conn)
	}
	room.mu.Unlock()

	if err != nil {
		g.prune(appointmentID, room)
	}
	return err
}

// detach removes conn and deletes the room once it is empty. It reports
// whether conn was attached.
func (g *Registry) detach(appointmentID uuid.UUID, conn *Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[appointmentID]
	if !ok {
		return false
	}
	room.mu.Lock()
	removed := room.remove(conn)
	empty := room.empty()
	room.mu.Unlock()

	if empty {
		delete(g.rooms, appointmentID)
	}
	return removed
}

// evict deletes the room and returns the connections it held.
func (g *Registry) evict(appointmentID uuid.UUID) []*Connection {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[appointmentID]
	if !ok {
		return nil
	}
	delete(g.rooms, appointmentID)

	room.mu.Lock()
	defer room.mu.Unlock()
	return room.others(nil)
}

func (g *Registry) prune(appointmentID uuid.UUID, room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room.mu.Lock()
	empty := room.empty()
	room.mu.Unlock()

	if empty && g.rooms[appointmentID] == room {
		delete(g.rooms, appointmentID)
	}
}
