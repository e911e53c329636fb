package signal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/adapters/meeting"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

type validatorFunc func(ctx context.Context, room domain.RoomID, code string) error

func (f validatorFunc) Validate(ctx context.Context, room domain.RoomID, code string) error {
	return f(ctx, room, code)
}

type testServer struct {
	srv    *httptest.Server
	router *orch.Router
}

func newTestServer(t *testing.T, v meeting.Validator, limiter *RoomRateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	router := orch.NewRouter(app.SimplePolicy{}, nil, 64)
	go router.Run(ctx)

	ctl := NewSignalWSController(router, v, limiter, Options{
		ReadLimit:       1 << 16,
		PingPeriod:      time.Second,
		PongWait:        2 * time.Second,
		WriteWait:       time.Second,
		SendBuffer:      16,
		ValidateTimeout: time.Second,
	})
	engine := gin.New()
	engine.GET("/ws", func(c *gin.Context) {
		if p := c.Query("as"); p != "" {
			c.Set(ParticipantKey, p)
		}
		if g := c.Query("guest"); g != "" {
			c.Set(ClientTokenKey, g)
		}
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{srv: srv, router: router}
}

func (ts *testServer) dial(t *testing.T, query url.Values) (*websocket.Conn, domain.ConnectionID) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?" + query.Encode()
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { ws.Close() })

	welcome, ok := next(t, ws).(*protocol.Welcome)
	require.True(t, ok)
	require.NotEmpty(t, welcome.ConnectionID)
	return ws, welcome.ConnectionID
}

func nextRaw(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return data
}

func next(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	data := nextRaw(t, ws)
	m, err := protocol.DecodeServer(data)
	require.NoError(t, err, string(data))
	return m
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestSignalingOverWebSocket(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	a, ca := ts.dial(t, url.Values{"as": {"A"}})
	b, cb := ts.dial(t, url.Values{"as": {"B"}})

	send(t, a, `{"type":"join-room","roomId":"R1"}`)
	assert.Equal(t, &protocol.ExistingUsers{Connections: []domain.ConnectionID{}, Participants: []protocol.Peer{}}, next(t, a))

	send(t, b, `{"type":"join-room","roomId":"R1","participantId":"B"}`)
	assert.Equal(t, &protocol.UserJoined{ParticipantID: "B", ConnectionID: cb}, next(t, a))
	existing := next(t, b).(*protocol.ExistingUsers)
	assert.Equal(t, []domain.ConnectionID{ca}, existing.Connections)

	sdp := `{"type":"offer","sdp":"v=0\r\ns=-\r\n"}`
	send(t, a, `{"type":"offer","target":"`+string(cb)+`","sdp":`+sdp+`}`)
	assert.Equal(t, `{"type":"offer","sender":"`+string(ca)+`","sdp":`+sdp+`}`, string(nextRaw(t, b)))

	// unclean drop of B
	require.NoError(t, b.UnderlyingConn().Close())
	assert.Equal(t, &protocol.UserLeft{ParticipantID: "B", ConnectionID: cb}, next(t, a))

	assert.Eventually(t, func() bool {
		rooms, err := ts.router.Rooms(context.Background())
		return err == nil && len(rooms) == 1 && rooms[0].MemberCount == 1
	}, 2*time.Second, 20*time.Millisecond)

	send(t, a, `{"type":"ping"}`)
	assert.Equal(t, &protocol.Pong{}, next(t, a), "no second user-left before pong")
}

func TestSignalErrors(t *testing.T) {
	notFound := validatorFunc(func(_ context.Context, room domain.RoomID, code string) error {
		if room == "missing" {
			return domain.ErrMeetingNotFound
		}
		if code != "" && code != "ok" {
			return domain.ErrInvalidMeetingCode
		}
		return nil
	})
	ts := newTestServer(t, notFound, NewRoomRateLimiter(2, time.Minute))

	tests := []struct {
		name  string
		query url.Values
		frame string
		code  string
	}{
		{"malformed", url.Values{"as": {"A"}}, `not json`, "INVALID_MESSAGE"},
		{"unknown type", url.Values{"as": {"A"}}, `{"type":"rename"}`, "INVALID_MESSAGE"},
		{"identity mismatch", url.Values{"as": {"A"}}, `{"type":"join-room","roomId":"R1","participantId":"B"}`, "FORBIDDEN"},
		{"no identity", url.Values{}, `{"type":"join-room","roomId":"R1"}`, "UNAUTHORIZED"},
		{"meeting missing", url.Values{"as": {"C"}}, `{"type":"join-room","roomId":"missing"}`, "ROOM_NOT_FOUND"},
		{"bad code", url.Values{"as": {"D"}}, `{"type":"join-room","roomId":"R1","code":"nope"}`, "INVALID_MEETING_CODE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, _ := ts.dial(t, tt.query)
			send(t, ws, tt.frame)
			errMsg, ok := next(t, ws).(*protocol.Error)
			require.True(t, ok)
			assert.Equal(t, tt.code, errMsg.Code)
		})
	}
}

func TestGuestJoinAndRateLimit(t *testing.T) {
	ts := newTestServer(t, nil, NewRoomRateLimiter(1, time.Minute))

	g, _ := ts.dial(t, url.Values{"guest": {"guest-1"}})
	send(t, g, `{"type":"join-room","roomId":"R1"}`)
	_, ok := next(t, g).(*protocol.ExistingUsers)
	require.True(t, ok)

	members, err := ts.router.Members(context.Background(), "R1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, domain.ParticipantID("guest-1"), members[0].Participant)

	again, _ := ts.dial(t, url.Values{"guest": {"guest-1"}})
	send(t, again, `{"type":"join-room","roomId":"R1"}`)
	errMsg, ok := next(t, again).(*protocol.Error)
	require.True(t, ok)
	assert.Equal(t, "RATE_LIMITED", errMsg.Code)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://app.local"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, check(req("http://app.local")))
	assert.True(t, check(req("")))
	assert.False(t, check(req("http://evil.local")))
	assert.True(t, originChecker(nil)(req("http://any")))
}

func TestWsSignalConnBackpressure(t *testing.T) {
	c := &WsSignalConn{send: make(chan core.Frame, 1)}
	require.NoError(t, c.TrySend([]byte("a")))
	assert.True(t, errors.Is(c.TrySend([]byte("b")), ErrBackpressure))
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{PingPeriod: time.Minute, PongWait: 30 * time.Second}.withDefaults()
	assert.Equal(t, 27*time.Second, o.PingPeriod, "ping must fire before the pong deadline")
	assert.Equal(t, 64, o.SendBuffer)
	assert.Equal(t, 2*time.Second, o.ValidateTimeout)
	assert.Equal(t, int64(64<<10), o.ReadLimit)
}
