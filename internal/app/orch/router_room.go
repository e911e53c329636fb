package orch

import (
	"github.com/dkeye/Meet/internal/apperr"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (r *Router) onConnect(id domain.ConnectionID, conn core.SignalConnection) {
	if err := r.Registry.Register(id, conn); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("connect rejected")
		conn.Close()
		return
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Msg("connected")
	r.send(id, &protocol.Welcome{ConnectionID: id})
}

func (r *Router) join(id domain.ConnectionID, st app.ConnState, m *protocol.JoinRoom) {
	if st != app.StateUnjoined {
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("state", st.String()).
			Str("room", string(m.RoomID)).Msg("join ignored")
		r.Metrics.Drop(metrics.DropIllegalState)
		return
	}
	if m.RoomID == "" || m.ParticipantID == "" {
		r.send(id, &protocol.Error{Code: string(apperr.CodeInvalidMessage), Message: "roomId and participantId required"})
		r.Metrics.Drop(metrics.DropInvalid)
		return
	}

	room, p := m.RoomID, m.ParticipantID
	prev, replaced := r.Table.Add(room, p, id, r.now())
	if replaced && prev.Connection != id {
		r.replace(prev, id)
	}
	r.Registry.Bind(id, room, p)

	others := r.Table.Others(room, id)
	existing := &protocol.ExistingUsers{
		Connections:  make([]domain.ConnectionID, 0, len(others)),
		Participants: make([]protocol.Peer, 0, len(others)),
	}
	for _, o := range others {
		existing.Connections = append(existing.Connections, o.Connection)
		existing.Participants = append(existing.Participants, protocol.Peer{ParticipantID: o.Participant, ConnectionID: o.Connection})
	}
	r.send(id, existing)
	r.broadcast(room, id, &protocol.UserJoined{ParticipantID: p, ConnectionID: id})

	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(room)).
		Str("participant", string(p)).Int("others", len(others)).Bool("replaced", replaced).Msg("joined")
}

// replace retires the stale connection of a participant that joined again.
// The stale connection stays open but can no longer act in the room.
func (r *Router) replace(stale domain.Membership, joiner domain.ConnectionID) {
	r.Registry.Unbind(stale.Connection)
	r.Registry.SetState(stale.Connection, app.StateLeft)
	r.Metrics.Left("replaced")
	r.broadcast(stale.Room, joiner, &protocol.UserLeft{ParticipantID: stale.Participant, ConnectionID: stale.Connection})
	r.send(stale.Connection, &protocol.SessionReplaced{RoomID: stale.Room})
	log.Info().Str("module", "orch").Str("conn", string(stale.Connection)).Str("room", string(stale.Room)).
		Str("participant", string(stale.Participant)).Str("by", string(joiner)).Msg("membership replaced")
}

func (r *Router) leave(id domain.ConnectionID, st app.ConnState, m *protocol.LeaveRoom) {
	b, ok := r.joined(id, st, m.Type())
	if !ok {
		return
	}
	if (m.RoomID != "" && m.RoomID != b.Room) || (m.ParticipantID != "" && m.ParticipantID != b.Participant) {
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("room", string(m.RoomID)).
			Str("bound_room", string(b.Room)).Msg("leave does not match binding")
		r.Metrics.Drop(metrics.DropInvalid)
		return
	}
	r.Registry.Unbind(id)
	r.Registry.SetState(id, app.StateLeft)
	r.removeMembership(id, b, "leave")
}

// onDisconnect reconciles a closed transport. The first call removes the
// membership and the registry row; later calls find nothing and return.
func (r *Router) onDisconnect(id domain.ConnectionID) {
	st, ok := r.Registry.State(id)
	if !ok {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Msg("disconnect already reconciled")
		return
	}
	if st == app.StateJoined {
		r.Registry.SetState(id, app.StateDisconnected)
		if b, bound := r.Registry.Unbind(id); bound {
			r.removeMembership(id, b, "disconnect")
		}
	}
	r.Registry.Remove(id)
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("state", st.String()).Msg("disconnected")
}

func (r *Router) removeMembership(id domain.ConnectionID, b app.Binding, cause string) {
	if _, ok := r.Table.RemoveByConnection(b.Room, id); !ok {
		return
	}
	r.Metrics.Left(cause)
	r.broadcast(b.Room, id, &protocol.UserLeft{ParticipantID: b.Participant, ConnectionID: id})
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(b.Room)).
		Str("participant", string(b.Participant)).Str("cause", cause).Msg("user left")
}
