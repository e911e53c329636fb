package app

import (
	"sort"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomInfo is a read-only summary for APIs.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

// MembershipTable holds every room with at least one member. Rooms are
// created on first Add and dropped as soon as they become empty.
// Owned by the signaling router; not safe for concurrent use.
type MembershipTable struct {
	rooms map[domain.RoomID]*core.RoomMembers
}

func NewMembershipTable() *MembershipTable {
	return &MembershipTable{rooms: make(map[domain.RoomID]*core.RoomMembers)}
}

// Add registers p on conn in room, replacing the participant's previous
// membership there. The replaced membership is returned.
func (t *MembershipTable) Add(room domain.RoomID, p domain.ParticipantID, conn domain.ConnectionID, at time.Time) (domain.Membership, bool) {
	members, ok := t.rooms[room]
	if !ok {
		members = core.NewRoomMembers(room)
		t.rooms[room] = members
		log.Info().Str("module", "app.table").Str("room", string(room)).Msg("room created")
	}
	return members.Add(domain.Membership{Room: room, Participant: p, Connection: conn, JoinedAt: at})
}

func (t *MembershipTable) Remove(room domain.RoomID, p domain.ParticipantID) (domain.Membership, bool) {
	members, ok := t.rooms[room]
	if !ok {
		return domain.Membership{}, false
	}
	m, ok := members.Remove(p)
	t.collect(members)
	return m, ok
}

func (t *MembershipTable) RemoveByConnection(room domain.RoomID, conn domain.ConnectionID) (domain.Membership, bool) {
	members, ok := t.rooms[room]
	if !ok {
		return domain.Membership{}, false
	}
	m, ok := members.RemoveByConnection(conn)
	t.collect(members)
	return m, ok
}

func (t *MembershipTable) collect(members *core.RoomMembers) {
	if members.Len() > 0 {
		return
	}
	delete(t.rooms, members.Room())
	log.Info().Str("module", "app.table").Str("room", string(members.Room())).Msg("room dropped")
}

func (t *MembershipTable) Lookup(room domain.RoomID, p domain.ParticipantID) (domain.Membership, bool) {
	members, ok := t.rooms[room]
	if !ok {
		return domain.Membership{}, false
	}
	return members.Lookup(p)
}

// ListOthers returns the connections in room except exclude, oldest first.
func (t *MembershipTable) ListOthers(room domain.RoomID, exclude domain.ConnectionID) []domain.ConnectionID {
	others := t.Others(room, exclude)
	out := make([]domain.ConnectionID, len(others))
	for i, m := range others {
		out[i] = m.Connection
	}
	return out
}

func (t *MembershipTable) Others(room domain.RoomID, exclude domain.ConnectionID) []domain.Membership {
	members, ok := t.rooms[room]
	if !ok {
		return []domain.Membership{}
	}
	return members.Others(exclude)
}

func (t *MembershipTable) IsEmpty(room domain.RoomID) bool {
	members, ok := t.rooms[room]
	return !ok || members.Len() == 0
}

func (t *MembershipTable) Len(room domain.RoomID) int {
	if members, ok := t.rooms[room]; ok {
		return members.Len()
	}
	return 0
}

func (t *MembershipTable) Members(room domain.RoomID) []domain.Membership {
	return t.Others(room, "")
}

// Rooms lists every live room ordered by id.
func (t *MembershipTable) Rooms() []RoomInfo {
	out := make([]RoomInfo, 0, len(t.rooms))
	for id, members := range t.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: members.Len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of rooms and memberships.
func (t *MembershipTable) Count() (rooms, memberships int) {
	for _, members := range t.rooms {
		memberships += members.Len()
	}
	return len(t.rooms), memberships
}
