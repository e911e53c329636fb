package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Meet/internal/adapters/auth"
	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionName = "MeetSessions"

type Deps struct {
	Router *orch.Router
	Signal *signal.SignalWSController
	// Auth is nil when bearer authentication is disabled.
	Auth     auth.Authenticator
	Gatherer prometheus.Gatherer
	// Ready reports whether backing services are reachable.
	Ready func(context.Context) error
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   3600 * 24 * 7,
		HttpOnly: true,
		Secure:   cfg.Mode == "release",
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())
	r.Use(IdentityMiddleware(deps.Auth))

	h := &handlers{deps: deps}
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.POST("/session", h.createSession)
	api.DELETE("/session", h.deleteSession)
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:id/members", h.listMembers)

	ws := api.Group("/ws")
	if cfg.Auth.Required {
		ws.Use(RequireIdentity())
	}
	ws.GET("/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("ct", c.GetString(signal.ClientTokenKey)).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Bool("auth", deps.Auth != nil).Bool("auth_required", cfg.Auth.Required).Msg("router setup")
	return r
}
