package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/Meet/internal/apperr"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleJoin admits a join before it reaches the router: it settles the
// participant identity, applies the rate limit and asks the meeting
// validator. Validation runs on the connection's read goroutine so the
// router never waits on it, and later messages of this connection keep
// their order behind the join.
func (ctl *SignalWSController) handleJoin(ctx context.Context, s *session, m *protocol.JoinRoom) {
	p, err := resolveParticipant(s, m.ParticipantID)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("join rejected")
		ctl.sendError(s, apperr.From(err))
		return
	}
	m.ParticipantID = p

	if ctl.Limiter != nil && !ctl.Limiter.Allow(p) {
		log.Warn().Str("module", "signal").Str("conn", string(s.id)).Str("participant", string(p)).Msg("join rate limited")
		ctl.sendError(s, apperr.From(domain.ErrRateLimited))
		return
	}

	vctx, cancel := context.WithTimeout(ctx, ctl.opts.ValidateTimeout)
	defer cancel()
	if err := ctl.Meetings.Validate(vctx, m.RoomID, m.Code); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Str("room", string(m.RoomID)).Msg("meeting validation failed")
		ctl.sendError(s, apperr.From(err))
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(s.id)).Str("room", string(m.RoomID)).Str("participant", string(p)).Msg("join")
	ctl.deliver(s, m)
}

// resolveParticipant prefers the authenticated identity. A requested id
// must match it; guests fall back to their client token.
func resolveParticipant(s *session, requested domain.ParticipantID) (domain.ParticipantID, error) {
	switch {
	case s.identity != "":
		if requested != "" && requested != s.identity {
			return "", fmt.Errorf("%w: %s", domain.ErrIdentityMismatch, requested)
		}
		return s.identity, nil
	case requested != "":
		return domain.ParseParticipantID(string(requested))
	case s.guest != "":
		return s.guest, nil
	}
	return "", domain.ErrUnauthenticated
}
