package domain

import "errors"

var (
	ErrDuplicateConnection    = errors.New("duplicate connection")
	ErrUnknownTarget          = errors.New("unknown target")
	ErrNotJoined              = errors.New("connection not joined")
	ErrMediaAcquisitionFailed = errors.New("media acquisition failed")
	ErrPeerConnectionFailed   = errors.New("peer connection failed")

	ErrMeetingNotFound    = errors.New("meeting not found")
	ErrInvalidMeetingCode = errors.New("invalid meeting code")
	ErrMeetingEnded       = errors.New("meeting ended")

	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrIdentityMismatch = errors.New("participant does not match credential")
	ErrRateLimited      = errors.New("too many join attempts")
)
