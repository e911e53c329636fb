// Package meeting checks that a room corresponds to a live meeting record
// before a participant is admitted.
package meeting

import (
	"context"
	"crypto/subtle"

	"github.com/dkeye/Meet/internal/domain"
)

// Validator reports whether room may be joined with code. Implementations
// return domain.ErrMeetingNotFound, domain.ErrMeetingEnded or
// domain.ErrInvalidMeetingCode for rejected joins.
type Validator interface {
	Validate(ctx context.Context, room domain.RoomID, code string) error
}

// AllowAll admits every join.
type AllowAll struct{}

func (AllowAll) Validate(context.Context, domain.RoomID, string) error { return nil }

// record is the part of a meeting a validator needs.
type record struct {
	code   string
	active bool
}

func (r record) check(code string) error {
	if !r.active {
		return domain.ErrMeetingEnded
	}
	if r.code != "" && subtle.ConstantTimeCompare([]byte(r.code), []byte(code)) != 1 {
		return domain.ErrInvalidMeetingCode
	}
	return nil
}
