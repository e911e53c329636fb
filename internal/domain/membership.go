package domain

import "time"

// Membership binds a participant to a room through one connection.
// It is immutable: a new connection for the same participant is a delete+create.
type Membership struct {
	Room        RoomID        `json:"roomId"`
	Participant ParticipantID `json:"participantId"`
	Connection  ConnectionID  `json:"connectionId"`
	JoinedAt    time.Time     `json:"joinedAt"`
}
