package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidMessage = errors.New("invalid message")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type factory func() Message

func relay(kind string) factory     { return func() Message { return &Relay{Kind: kind} } }
func roomEvent(kind string) factory { return func() Message { return &RoomEvent{Kind: kind} } }

var clientMessages = map[string]factory{
	TypeJoinRoom:           func() Message { return &JoinRoom{} },
	TypeLeaveRoom:          func() Message { return &LeaveRoom{} },
	TypeStopScreenShare:    func() Message { return &StopScreenShare{} },
	TypePing:               func() Message { return &Ping{} },
	TypeOffer:              relay(TypeOffer),
	TypeAnswer:             relay(TypeAnswer),
	TypeCandidate:          relay(TypeCandidate),
	TypeOfferScreen:        relay(TypeOfferScreen),
	TypeAnswerScreen:       relay(TypeAnswerScreen),
	TypeCandidateScreen:    relay(TypeCandidateScreen),
	TypeEngagementUpdate:   roomEvent(TypeEngagementUpdate),
	TypeCoachingSuggestion: roomEvent(TypeCoachingSuggestion),
	TypeGestureAction:      roomEvent(TypeGestureAction),
}

var serverMessages = map[string]factory{
	TypeWelcome:            func() Message { return &Welcome{} },
	TypeExistingUsers:      func() Message { return &ExistingUsers{} },
	TypeUserJoined:         func() Message { return &UserJoined{} },
	TypeUserLeft:           func() Message { return &UserLeft{} },
	TypeScreenShareStopped: func() Message { return &ScreenShareStopped{} },
	TypeSessionReplaced:    func() Message { return &SessionReplaced{} },
	TypePong:               func() Message { return &Pong{} },
	TypeError:              func() Message { return &Error{} },
	TypeOffer:              relay(TypeOffer),
	TypeAnswer:             relay(TypeAnswer),
	TypeCandidate:          relay(TypeCandidate),
	TypeOfferScreen:        relay(TypeOfferScreen),
	TypeAnswerScreen:       relay(TypeAnswerScreen),
	TypeCandidateScreen:    relay(TypeCandidateScreen),
	TypeEngagementUpdate:   roomEvent(TypeEngagementUpdate),
	TypeCoachingSuggestion: roomEvent(TypeCoachingSuggestion),
	TypeGestureAction:      roomEvent(TypeGestureAction),
}

// DecodeClient parses a frame sent by a participant. Only client-to-server
// variants are accepted and each one is validated before it is returned.
func DecodeClient(data []byte) (Message, error) {
	m, err := decode(data, clientMessages)
	if err != nil {
		return nil, err
	}
	if err := checkClient(m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, m.Type(), err)
	}
	return m, nil
}

// DecodeServer parses a frame sent by the signaling server.
func DecodeServer(data []byte) (Message, error) {
	return decode(data, serverMessages)
}

func decode(data []byte, known map[string]factory) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	mk, ok := known[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	m := mk()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	if err := validate.Struct(m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
	}
	return m, nil
}

func checkClient(m Message) error {
	switch v := m.(type) {
	case *Relay:
		if v.Target == "" {
			return errors.New("target required")
		}
		switch v.Kind {
		case TypeCandidate, TypeCandidateScreen:
			if isNull(v.Candidate) {
				return errors.New("candidate required")
			}
		default:
			if isNull(v.SDP) {
				return errors.New("sdp required")
			}
		}
	case *RoomEvent:
		if isNull(v.Data) {
			return errors.New("data required")
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// Encode renders m as a flat JSON object with its "type" tag first.
// Raw payloads are copied without HTML escaping.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	body := bytes.TrimRight(buf.Bytes(), "\n")

	out := make([]byte, 0, len(body)+len(m.Type())+10)
	out = append(out, `{"type":"`...)
	out = append(out, m.Type()...)
	out = append(out, '"')
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// MustEncode is Encode for messages built from known-good values.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}
