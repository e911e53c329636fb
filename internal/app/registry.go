package app

import (
	"fmt"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// ConnState is the signaling state of one connection.
type ConnState int

const (
	StateUnjoined ConnState = iota
	StateJoined
	StateLeft
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Binding is the room membership a connection currently holds.
type Binding struct {
	Room        domain.RoomID
	Participant domain.ParticipantID
}

type connEntry struct {
	conn     core.SignalConnection
	state    ConnState
	binding  Binding
	bound    bool
	openedAt time.Time
}

// Registry maps live connections to their transport and room binding.
// Owned by the signaling router; not safe for concurrent use.
type Registry struct {
	conns map[domain.ConnectionID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnectionID]*connEntry)}
}

func (r *Registry) Register(id domain.ConnectionID, conn core.SignalConnection) error {
	if _, ok := r.conns[id]; ok {
		return fmt.Errorf("register %s: %w", id, domain.ErrDuplicateConnection)
	}
	r.conns[id] = &connEntry{conn: conn, state: StateUnjoined, openedAt: time.Now()}
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("registered")
	return nil
}

// Bind records the membership held by id and moves it to Joined.
// A previous binding is overwritten.
func (r *Registry) Bind(id domain.ConnectionID, room domain.RoomID, p domain.ParticipantID) bool {
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.binding = Binding{Room: room, Participant: p}
	e.bound = true
	e.state = StateJoined
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).
		Str("room", string(room)).Str("participant", string(p)).Msg("bound")
	return true
}

// Unbind clears and returns the binding of id. The state is left to the caller.
func (r *Registry) Unbind(id domain.ConnectionID) (Binding, bool) {
	e, ok := r.conns[id]
	if !ok || !e.bound {
		return Binding{}, false
	}
	b := e.binding
	e.binding = Binding{}
	e.bound = false
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(b.Room)).Msg("unbound")
	return b, true
}

func (r *Registry) Remove(id domain.ConnectionID) bool {
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("removed")
	return true
}

func (r *Registry) State(id domain.ConnectionID) (ConnState, bool) {
	e, ok := r.conns[id]
	if !ok {
		return 0, false
	}
	return e.state, true
}

func (r *Registry) SetState(id domain.ConnectionID, s ConnState) {
	if e, ok := r.conns[id]; ok {
		e.state = s
	}
}

func (r *Registry) Binding(id domain.ConnectionID) (Binding, bool) {
	e, ok := r.conns[id]
	if !ok || !e.bound {
		return Binding{}, false
	}
	return e.binding, true
}

func (r *Registry) Conn(id domain.ConnectionID) (core.SignalConnection, bool) {
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// OpenedAt reports when id was registered.
func (r *Registry) OpenedAt(id domain.ConnectionID) (time.Time, bool) {
	e, ok := r.conns[id]
	if !ok {
		return time.Time{}, false
	}
	return e.openedAt, true
}

func (r *Registry) Len() int { return len(r.conns) }

// Each calls fn for every registered connection.
func (r *Registry) Each(fn func(domain.ConnectionID, core.SignalConnection)) {
	for id, e := range r.conns {
		fn(id, e.conn)
	}
}
