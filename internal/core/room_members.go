package core

import (
	"sort"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomMembers is the membership set of one room, indexed by participant
// and by connection. Not safe for concurrent use: the signaling router is
// its only writer.
type RoomMembers struct {
	room          domain.RoomID
	byParticipant map[domain.ParticipantID]domain.Membership
	byConn        map[domain.ConnectionID]domain.ParticipantID
}

func NewRoomMembers(room domain.RoomID) *RoomMembers {
	return &RoomMembers{
		room:          room,
		byParticipant: make(map[domain.ParticipantID]domain.Membership),
		byConn:        make(map[domain.ConnectionID]domain.ParticipantID),
	}
}

func (r *RoomMembers) Room() domain.RoomID { return r.room }

func (r *RoomMembers) Len() int { return len(r.byParticipant) }

// Add inserts m, first removing any membership the participant already
// holds in this room. The removed membership is returned.
func (r *RoomMembers) Add(m domain.Membership) (domain.Membership, bool) {
	prev, replaced := r.Remove(m.Participant)
	if other, ok := r.byConn[m.Connection]; ok {
		// a connection belongs to at most one membership
		r.Remove(other)
	}
	r.byParticipant[m.Participant] = m
	r.byConn[m.Connection] = m.Participant
	log.Debug().Str("module", "core.room").Str("room", string(r.room)).
		Str("participant", string(m.Participant)).Str("conn", string(m.Connection)).
		Bool("replaced", replaced).Msg("member added")
	return prev, replaced
}

func (r *RoomMembers) Remove(p domain.ParticipantID) (domain.Membership, bool) {
	m, ok := r.byParticipant[p]
	if !ok {
		return domain.Membership{}, false
	}
	delete(r.byParticipant, p)
	delete(r.byConn, m.Connection)
	log.Debug().Str("module", "core.room").Str("room", string(r.room)).
		Str("participant", string(p)).Msg("member removed")
	return m, true
}

func (r *RoomMembers) RemoveByConnection(c domain.ConnectionID) (domain.Membership, bool) {
	p, ok := r.byConn[c]
	if !ok {
		return domain.Membership{}, false
	}
	return r.Remove(p)
}

func (r *RoomMembers) Lookup(p domain.ParticipantID) (domain.Membership, bool) {
	m, ok := r.byParticipant[p]
	return m, ok
}

// Others returns every membership except the one on exclude, oldest first.
func (r *RoomMembers) Others(exclude domain.ConnectionID) []domain.Membership {
	out := make([]domain.Membership, 0, len(r.byParticipant))
	for _, m := range r.byParticipant {
		if m.Connection == exclude {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].Connection < out[j].Connection
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *RoomMembers) Snapshot() []domain.Membership { return r.Others("") }
