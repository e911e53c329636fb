// Package domain contains identities and membership records, no transport logic.
package domain

import (
	"errors"
	"strings"
)

const MaxIDLen = 128

var (
	ErrIDEmpty   = errors.New("identifier empty")
	ErrIDTooLong = errors.New("identifier too long")
)

type (
	// ConnectionID is assigned per live transport connection and never reused.
	ConnectionID string
	// ParticipantID is the stable identity of a user across connections.
	ParticipantID string
	// RoomID names a meeting. Rooms exist only while they have members.
	RoomID string
)

func ParseRoomID(s string) (RoomID, error) {
	v, err := parseID(s)
	return RoomID(v), err
}

func ParseParticipantID(s string) (ParticipantID, error) {
	v, err := parseID(s)
	return ParticipantID(v), err
}

func parseID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return "", ErrIDEmpty
	}
	if len(s) > MaxIDLen {
		return "", ErrIDTooLong
	}
	return s, nil
}
