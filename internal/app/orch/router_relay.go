package orch

import (
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

// relay forwards an offer, answer or candidate to its target. Targets that
// are not joined to the sender's room are dropped.
func (r *Router) relay(id domain.ConnectionID, st app.ConnState, m *protocol.Relay) {
	own, ok := r.joined(id, st, m.Type())
	if !ok {
		return
	}
	if !r.reachable(id, own.Room, m.Target) {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("target", string(m.Target)).
			Str("type", m.Type()).Err(domain.ErrUnknownTarget).Msg("relay dropped")
		r.Metrics.Drop(metrics.DropUnknownTarget)
		return
	}
	out := &protocol.Relay{
		Kind:      m.Kind,
		Sender:    id,
		Role:      m.Role,
		SDP:       m.SDP,
		Candidate: m.Candidate,
	}
	if r.send(m.Target, out) {
		r.Metrics.Relay(m.Kind)
	}
}

func (r *Router) reachable(from domain.ConnectionID, room domain.RoomID, target domain.ConnectionID) bool {
	if target == from {
		return false
	}
	st, ok := r.Registry.State(target)
	if !ok || st != app.StateJoined {
		return false
	}
	b, ok := r.Registry.Binding(target)
	return ok && b.Room == room
}

func (r *Router) stopScreenShare(id domain.ConnectionID, st app.ConnState, m *protocol.StopScreenShare) {
	b, ok := r.joined(id, st, m.Type())
	if !ok || !r.sameRoom(id, b, m.RoomID, m.Type()) {
		return
	}
	r.broadcast(b.Room, id, &protocol.ScreenShareStopped{ParticipantID: b.Participant, ConnectionID: id})
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(b.Room)).Msg("screen share stopped")
}

func (r *Router) roomEvent(id domain.ConnectionID, st app.ConnState, m *protocol.RoomEvent) {
	b, ok := r.joined(id, st, m.Type())
	if !ok || !r.sameRoom(id, b, m.RoomID, m.Type()) {
		return
	}
	n := r.broadcast(b.Room, id, &protocol.RoomEvent{
		Kind:          m.Kind,
		RoomID:        b.Room,
		Sender:        id,
		ParticipantID: b.Participant,
		Data:          m.Data,
	})
	log.Debug().Str("module", "orch").Str("conn", string(id)).Str("type", m.Kind).Int("sent_to", n).Msg("room event")
}

func (r *Router) sameRoom(id domain.ConnectionID, b app.Binding, room domain.RoomID, typ string) bool {
	if room == "" || room == b.Room {
		return true
	}
	log.Warn().Str("module", "orch").Str("conn", string(id)).Str("type", typ).
		Str("room", string(room)).Str("bound_room", string(b.Room)).Msg("room does not match binding")
	r.Metrics.Drop(metrics.DropInvalid)
	return false
}

func (r *Router) send(to domain.ConnectionID, msg protocol.Message) bool {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", msg.Type()).Msg("encode")
		return false
	}
	return r.deliver(to, frame)
}

// broadcast sends msg to every member of room except exclude and returns
// the number of successful sends.
func (r *Router) broadcast(room domain.RoomID, exclude domain.ConnectionID, msg protocol.Message) int {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", msg.Type()).Msg("encode")
		return 0
	}
	sent := 0
	for _, c := range r.Table.ListOthers(room, exclude) {
		if r.deliver(c, frame) {
			sent++
		}
	}
	return sent
}

func (r *Router) deliver(to domain.ConnectionID, frame core.Frame) bool {
	conn, ok := r.Registry.Conn(to)
	if !ok {
		return false
	}
	err := conn.TrySend(frame)
	if err == nil {
		return true
	}
	r.Metrics.Drop(metrics.DropBackpressure)
	b, _ := r.Registry.Binding(to)
	action := app.DropFrame
	if r.Policy != nil {
		action = r.Policy.OnBackPressure(b.Room, to)
	}
	log.Warn().Err(err).Str("module", "orch").Str("conn", string(to)).Int("action", int(action)).Msg("send failed")
	if action == app.KickMember {
		conn.Close()
	}
	return false
}
