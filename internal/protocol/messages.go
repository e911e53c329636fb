// Package protocol defines the closed set of signaling messages exchanged
// over the WebSocket. Every message is a flat JSON object tagged by "type".
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/dkeye/Meet/internal/domain"
)

const (
	TypeJoinRoom        = "join-room"
	TypeLeaveRoom       = "leave-room"
	TypeStopScreenShare = "stop-screen-share"
	TypePing            = "ping"

	TypeOffer           = "offer"
	TypeAnswer          = "answer"
	TypeCandidate       = "candidate"
	TypeOfferScreen     = "offer-screen"
	TypeAnswerScreen    = "answer-screen"
	TypeCandidateScreen = "candidate-screen"

	TypeEngagementUpdate   = "engagement-update"
	TypeCoachingSuggestion = "coaching-suggestion"
	TypeGestureAction      = "gesture-action"

	TypeWelcome            = "welcome"
	TypeExistingUsers      = "existing-users"
	TypeUserJoined         = "user-joined"
	TypeUserLeft           = "user-left"
	TypeScreenShareStopped = "screen-share-stopped"
	TypeSessionReplaced    = "session-replaced"
	TypePong               = "pong"
	TypeError              = "error"
)

// Share roles tell a receiver which of its two share maps a screen
// candidate belongs to.
const (
	RoleSource = "source"
	RoleViewer = "viewer"
)

const screenSuffix = "-screen"

// Message is implemented only by the variants of this package.
type Message interface {
	Type() string
	isMessage()
}

type JoinRoom struct {
	RoomID        domain.RoomID        `json:"roomId" validate:"required,max=128"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty" validate:"max=128"`
	Code          string               `json:"code,omitempty" validate:"max=64"`
}

// LeaveRoom fields are optional; when present they must match the binding.
type LeaveRoom struct {
	RoomID        domain.RoomID        `json:"roomId,omitempty" validate:"max=128"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty" validate:"max=128"`
}

type StopScreenShare struct {
	RoomID domain.RoomID `json:"roomId,omitempty" validate:"max=128"`
}

// Relay carries offer/answer/candidate and their screen variants. Clients
// set Target; the server replaces it with Sender. SDP and Candidate are
// opaque and forwarded verbatim.
type Relay struct {
	Kind      string              `json:"-"`
	Target    domain.ConnectionID `json:"target,omitempty" validate:"max=128"`
	Sender    domain.ConnectionID `json:"sender,omitempty"`
	Role      string              `json:"role,omitempty" validate:"omitempty,oneof=source viewer"`
	SDP       json.RawMessage     `json:"sdp,omitempty"`
	Candidate json.RawMessage     `json:"candidate,omitempty"`
}

// Screen reports whether the relay belongs to the screen-share namespace.
func (m *Relay) Screen() bool { return strings.HasSuffix(m.Kind, screenSuffix) }

// RoomEvent is an application event fanned out to the rest of the room.
type RoomEvent struct {
	Kind          string               `json:"-"`
	RoomID        domain.RoomID        `json:"roomId,omitempty" validate:"max=128"`
	Sender        domain.ConnectionID  `json:"sender,omitempty"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	Data          json.RawMessage      `json:"data,omitempty"`
}

type Ping struct{}

type Welcome struct {
	ConnectionID domain.ConnectionID `json:"connectionId"`
}

// Peer pairs a participant with the connection it is reachable on.
type Peer struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	ConnectionID  domain.ConnectionID  `json:"connectionId"`
}

type ExistingUsers struct {
	Connections  []domain.ConnectionID `json:"connections"`
	Participants []Peer                `json:"participants"`
}

type UserJoined Peer

type UserLeft Peer

type ScreenShareStopped Peer

// SessionReplaced tells a connection that the same participant joined the
// room from another connection.
type SessionReplaced struct {
	RoomID domain.RoomID `json:"roomId"`
}

type Pong struct{}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (*JoinRoom) Type() string           { return TypeJoinRoom }
func (*LeaveRoom) Type() string          { return TypeLeaveRoom }
func (*StopScreenShare) Type() string    { return TypeStopScreenShare }
func (m *Relay) Type() string            { return m.Kind }
func (m *RoomEvent) Type() string        { return m.Kind }
func (*Ping) Type() string               { return TypePing }
func (*Welcome) Type() string            { return TypeWelcome }
func (*ExistingUsers) Type() string      { return TypeExistingUsers }
func (*UserJoined) Type() string         { return TypeUserJoined }
func (*UserLeft) Type() string           { return TypeUserLeft }
func (*ScreenShareStopped) Type() string { return TypeScreenShareStopped }
func (*SessionReplaced) Type() string    { return TypeSessionReplaced }
func (*Pong) Type() string               { return TypePong }
func (*Error) Type() string              { return TypeError }

func (*JoinRoom) isMessage()           {}
func (*LeaveRoom) isMessage()          {}
func (*StopScreenShare) isMessage()    {}
func (*Relay) isMessage()              {}
func (*RoomEvent) isMessage()          {}
func (*Ping) isMessage()               {}
func (*Welcome) isMessage()            {}
func (*ExistingUsers) isMessage()      {}
func (*UserJoined) isMessage()         {}
func (*UserLeft) isMessage()           {}
func (*ScreenShareStopped) isMessage() {}
func (*SessionReplaced) isMessage()    {}
func (*Pong) isMessage()               {}
func (*Error) isMessage()              {}
