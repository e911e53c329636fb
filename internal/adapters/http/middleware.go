package http

import (
	"github.com/dkeye/Meet/internal/adapters/auth"
	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/apperr"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionParticipantKey = "participant"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable guest token in the
// "ct" cookie. Guests join under it when they send no participant id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set(signal.ClientTokenKey, token)
		c.Next()
	}
}

// IdentityMiddleware resolves the authenticated participant from the
// Authorization header, the token query parameter (browsers cannot set
// headers on a WebSocket) or the cookie session, in that order.
func IdentityMiddleware(a auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil {
			c.Next()
			return
		}
		token := c.Query("token")
		if h := c.GetHeader("Authorization"); h != "" {
			if t, err := auth.BearerToken(h); err == nil {
				token = t
			}
		}
		if token != "" {
			p, err := a.Authenticate(token)
			if err != nil {
				log.Debug().Err(err).Str("module", "adapters.http").Msg("bearer rejected")
			} else {
				c.Set(signal.ParticipantKey, string(p))
			}
		}
		if c.GetString(signal.ParticipantKey) == "" {
			if p, ok := sessions.Default(c).Get(sessionParticipantKey).(string); ok && p != "" {
				c.Set(signal.ParticipantKey, p)
			}
		}
		c.Next()
	}
}

// RequireIdentity rejects requests without an authenticated participant.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(signal.ParticipantKey) == "" {
			writeError(c, apperr.From(domain.ErrUnauthenticated))
			return
		}
		c.Next()
	}
}

func writeError(c *gin.Context, ae *apperr.AppError) {
	c.AbortWithStatusJSON(ae.HTTPStatus, gin.H{"error": ae})
}
