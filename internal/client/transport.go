package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// Transport is the client end of the signaling WebSocket.
type Transport struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Dial connects to the signaling endpoint and waits for the welcome frame.
func Dial(ctx context.Context, url string, header http.Header) (*Transport, domain.ConnectionID, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, "", err
	}
	t := &Transport{ws: ws}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, "", err
	}
	_ = ws.SetReadDeadline(time.Time{})
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		_ = ws.Close()
		return nil, "", err
	}
	w, ok := msg.(*protocol.Welcome)
	if !ok {
		_ = ws.Close()
		return nil, "", errors.New("expected welcome, got " + msg.Type())
	}
	return t, w.ConnectionID, nil
}

func (t *Transport) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

// Run reads frames until the connection closes or ctx is cancelled,
// passing every decoded message to handle.
func (t *Transport) Run(ctx context.Context, handle func(protocol.Message)) error {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("undecodable frame")
			continue
		}
		handle(msg)
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return t.ws.Close()
}
