// Command client is a headless meeting participant. It joins a room,
// negotiates peer connections with everyone in it and logs what it
// receives.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/adapters/rtc"
	"github.com/dkeye/Meet/internal/client"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:5000/api/ws/signal", "signaling endpoint")
	room := flag.String("room", "", "room to join")
	participant := flag.String("participant", "", "participant id (derived from the token when empty)")
	code := flag.String("code", "", "meeting code")
	token := flag.String("token", "", "bearer token")
	share := flag.Bool("share", false, "share a synthetic screen after joining")
	stun := flag.String("stun", "stun:stun.l.google.com:19302", "STUN server")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	roomID, err := domain.ParseRoomID(*room)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -room")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}
	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	tr, self, err := client.Dial(dialCtx, *url, header)
	dialCancel()
	if err != nil {
		log.Fatal().Err(err).Str("url", *url).Msg("dial")
	}
	defer tr.Close()
	log.Info().Str("conn", string(self)).Msg("connected")

	peers, err := rtc.NewFactory(rtc.DefaultWebRTCConfig(*stun))
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc")
	}

	o := client.New(tr, client.StaticSource{Audio: true, Video: true}, peers.NewPeer, client.Hooks{
		OnRemoteTrack: func(remote domain.ConnectionID, screen bool, t client.RemoteTrack) {
			log.Info().Str("remote", string(remote)).Bool("screen", screen).Str("track", t.ID()).Msg("remote track")
		},
		OnPeerError: func(remote domain.ConnectionID, err error) {
			log.Warn().Err(err).Str("remote", string(remote)).Msg("peer error")
		},
		OnRoomEvent: func(ev *protocol.RoomEvent) {
			log.Info().Str("type", ev.Kind).Str("from", string(ev.ParticipantID)).RawJSON("data", ev.Data).Msg("room event")
		},
		OnError: func(e *protocol.Error) {
			log.Error().Str("code", e.Code).Msg(e.Message)
		},
		OnReplaced: cancel,
	})
	// Peers and the socket outlive ctx so Leave can still be sent.
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go o.Run(runCtx)
	o.Handle(&protocol.Welcome{ConnectionID: self})

	go func() {
		if err := tr.Run(runCtx, o.Handle); err != nil {
			log.Error().Err(err).Msg("signaling connection lost")
		}
		cancel()
	}()

	if err := o.Join(ctx, roomID, domain.ParticipantID(*participant), *code); err != nil {
		log.Fatal().Err(err).Msg("join")
	}
	if *share {
		if err := o.StartShare(ctx); err != nil {
			log.Error().Err(err).Msg("screen share")
		}
	}

	<-ctx.Done()
	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer leaveCancel()
	if err := o.Leave(leaveCtx); err != nil && !errors.Is(err, client.ErrClosed) && !errors.Is(err, domain.ErrNotJoined) {
		log.Warn().Err(err).Msg("leave")
	}
}
