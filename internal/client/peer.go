package client

import (
	"encoding/json"

	"github.com/dkeye/Meet/internal/domain"
)

// RemoteTrack is the part of an incoming media track the orchestrator
// reports to the application.
type RemoteTrack interface {
	ID() string
	StreamID() string
}

// Peer is one WebRTC peer connection. Session descriptions and candidates
// travel as the JSON the browser APIs produce ({type, sdp} and
// RTCIceCandidateInit) so they can be relayed verbatim.
type Peer interface {
	AddStream(s *Stream) error
	CreateOffer() (json.RawMessage, error)
	// Answer applies a remote offer and returns the local answer.
	Answer(offer json.RawMessage) (json.RawMessage, error)
	ApplyAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	OnCandidate(fn func(json.RawMessage))
	OnTrack(fn func(RemoteTrack))
	// OnFailed fires when connectivity is lost for good.
	OnFailed(fn func())
	Close() error
}

type PeerFactory func() (Peer, error)

type linkKind int

const (
	linkCamera linkKind = iota
	linkShareOut
	linkShareIn
)

func (k linkKind) String() string {
	switch k {
	case linkCamera:
		return "camera"
	case linkShareOut:
		return "share-out"
	case linkShareIn:
		return "share-in"
	default:
		return "unknown"
	}
}

// link tracks the negotiation state of one peer connection.
type link struct {
	kind   linkKind
	remote domain.ConnectionID
	pc     Peer

	localSent     bool
	remoteSet     bool
	pendingLocal  []json.RawMessage
	pendingRemote []json.RawMessage
}
