package http

import (
	"net/http"

	"github.com/dkeye/Meet/internal/adapters/auth"
	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/apperr"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	deps Deps
}

type SessionResponse struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) ready(c *gin.Context) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(c.Request.Context()); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("not ready")
			writeError(c, apperr.Wrap(apperr.CodeUnavailable, err))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// createSession stores the bearer's participant in the cookie session so
// later WebSocket upgrades from the same browser are authenticated.
func (h *handlers) createSession(c *gin.Context) {
	if h.deps.Auth == nil {
		writeError(c, apperr.New(apperr.CodeUnavailable, "authentication disabled"))
		return
	}
	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		writeError(c, apperr.Wrap(apperr.CodeUnauthorized, err))
		return
	}
	p, err := h.deps.Auth.Authenticate(token)
	if err != nil {
		writeError(c, apperr.From(err))
		return
	}
	sess := sessions.Default(c)
	sess.Set(sessionParticipantKey, string(p))
	if err := sess.Save(); err != nil {
		writeError(c, apperr.From(err))
		return
	}
	log.Info().Str("module", "adapters.http").Str("participant", string(p)).Msg("session created")
	c.JSON(http.StatusOK, SessionResponse{ParticipantID: p})
}

func (h *handlers) deleteSession(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	if err := sess.Save(); err != nil {
		writeError(c, apperr.From(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listRooms(c *gin.Context) {
	rooms, err := h.deps.Router.Rooms(c.Request.Context())
	if err != nil {
		writeError(c, apperr.Wrap(apperr.CodeUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *handlers) listMembers(c *gin.Context) {
	room, err := domain.ParseRoomID(c.Param("id"))
	if err != nil {
		writeError(c, apperr.From(err))
		return
	}
	members, err := h.deps.Router.Members(c.Request.Context(), room)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.CodeUnavailable, err))
		return
	}
	if len(members) == 0 {
		writeError(c, apperr.From(domain.ErrMeetingNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "members": members, "me": c.GetString(signal.ParticipantKey)})
}
