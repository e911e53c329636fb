package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/adapters/meeting"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Context keys set by the HTTP layer before the upgrade.
const (
	ParticipantKey = "participant_id"
	ClientTokenKey = "client_token"
)

type Options struct {
	ReadLimit       int64
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	SendBuffer      int
	ValidateTimeout time.Duration
	AllowedOrigins  []string
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.ValidateTimeout <= 0 {
		o.ValidateTimeout = 2 * time.Second
	}
	return o
}

type SignalWSController struct {
	Router   *orch.Router
	Meetings meeting.Validator
	Limiter  *RoomRateLimiter

	opts     Options
	upgrader websocket.Upgrader
	newID    func() domain.ConnectionID
}

func NewSignalWSController(router *orch.Router, meetings meeting.Validator, limiter *RoomRateLimiter, opts Options) *SignalWSController {
	if meetings == nil {
		meetings = meeting.AllowAll{}
	}
	ctl := &SignalWSController{
		Router:   router,
		Meetings: meetings,
		Limiter:  limiter,
		opts:     opts.withDefaults(),
		newID:    func() domain.ConnectionID { return domain.ConnectionID(uuid.NewString()) },
	}
	ctl.upgrader = websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)}
	return ctl
}

// originChecker allows requests without an Origin header (non-browser
// clients) and, when a list is configured, only the listed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// session is the adapter-side state of one WebSocket.
type session struct {
	id       domain.ConnectionID
	conn     *WsSignalConn
	identity domain.ParticipantID
	guest    domain.ParticipantID

	cancel context.CancelFunc
	once   sync.Once
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		id:       ctl.newID(),
		conn:     newWsSignalConn(ws, ctl.opts.SendBuffer),
		identity: domain.ParticipantID(c.GetString(ParticipantKey)),
		guest:    domain.ParticipantID(c.GetString(ClientTokenKey)),
		cancel:   cancel,
	}
	if err := ctl.Router.Connect(s.id, s.conn); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("router refused connection")
		cancel()
		s.conn.Close()
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(s.id)).
		Str("participant", string(s.identity)).Str("remote", c.ClientIP()).Msg("new WS connection")

	go ctl.writePump(ctx, s)
	go ctl.readPump(ctx, s)
}

// disconnect closes the transport and reports it to the router once,
// whichever pump gets there first.
func (ctl *SignalWSController) disconnect(s *session) {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
		if err := ctl.Router.Disconnect(s.id); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("disconnect not delivered")
		}
	})
}
