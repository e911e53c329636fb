// Package client drives the browser side of a meeting: it turns
// signaling messages into WebRTC peer connections, one per remote for the
// camera and separate ones for screen sharing.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed        = errors.New("orchestrator closed")
	ErrAlreadyJoined = errors.New("already joined")
	ErrNotSharing    = errors.New("no active screen share")
)

// Sender delivers a message to the signaling server.
type Sender interface {
	Send(msg protocol.Message) error
}

type Hooks struct {
	OnRemoteTrack func(remote domain.ConnectionID, screen bool, track RemoteTrack)
	OnPeerError   func(remote domain.ConnectionID, err error)
	OnPeerClosed  func(remote domain.ConnectionID)
	OnRoomEvent   func(ev *protocol.RoomEvent)
	OnError       func(e *protocol.Error)
	// OnReplaced fires when the server moved this participant to another
	// connection. All peers are already closed.
	OnReplaced func()
}

// Orchestrator owns every peer connection of one participant. All state
// is confined to the Run goroutine; public methods and peer callbacks
// post closures to it.
type Orchestrator struct {
	signal  Sender
	media   MediaSource
	newPeer PeerFactory
	hooks   Hooks

	ops  chan func()
	done chan struct{}

	self        domain.ConnectionID
	room        domain.RoomID
	participant domain.ParticipantID
	joined      bool
	camera      *Stream
	screen      *Stream
	remotes     map[domain.ConnectionID]domain.ParticipantID
	links       map[linkKind]map[domain.ConnectionID]*link
}

func New(signal Sender, media MediaSource, newPeer PeerFactory, hooks Hooks) *Orchestrator {
	return &Orchestrator{
		signal:  signal,
		media:   media,
		newPeer: newPeer,
		hooks:   hooks,
		ops:     make(chan func(), 256),
		done:    make(chan struct{}),
		remotes: make(map[domain.ConnectionID]domain.ParticipantID),
		links: map[linkKind]map[domain.ConnectionID]*link{
			linkCamera:   {},
			linkShareOut: {},
			linkShareIn:  {},
		},
	}
}

// Run applies queued operations until ctx is cancelled, then closes all
// peers and releases local media.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			o.teardown()
			return
		case op := <-o.ops:
			op()
		}
	}
}

// Handle queues a message received from the signaling server.
func (o *Orchestrator) Handle(msg protocol.Message) {
	o.post(func() { o.handle(msg) })
}

// Join acquires camera and microphone, then asks the server to join room.
// Nothing is sent when media acquisition fails.
func (o *Orchestrator) Join(ctx context.Context, room domain.RoomID, participant domain.ParticipantID, code string) error {
	stream, err := o.media.Camera(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMediaAcquisitionFailed, err)
	}
	err = o.do(ctx, func() error {
		if o.joined {
			return ErrAlreadyJoined
		}
		if err := o.signal.Send(&protocol.JoinRoom{RoomID: room, ParticipantID: participant, Code: code}); err != nil {
			return err
		}
		o.camera = stream
		o.room, o.participant, o.joined = room, participant, true
		return nil
	})
	if err != nil {
		stream.Stop()
	}
	return err
}

// Leave notifies the server, closes every peer and stops local media.
func (o *Orchestrator) Leave(ctx context.Context) error {
	return o.do(ctx, func() error {
		if !o.joined {
			return domain.ErrNotJoined
		}
		err := o.signal.Send(&protocol.LeaveRoom{RoomID: o.room, ParticipantID: o.participant})
		o.teardown()
		return err
	})
}

// StartShare acquires display media and offers it to every known remote.
func (o *Orchestrator) StartShare(ctx context.Context) error {
	stream, err := o.media.Screen(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMediaAcquisitionFailed, err)
	}
	err = o.do(ctx, func() error {
		if !o.joined {
			return domain.ErrNotJoined
		}
		o.stopShare()
		o.screen = stream
		for remote := range o.remotes {
			o.offer(linkShareOut, remote)
		}
		return nil
	})
	if err != nil {
		stream.Stop()
	}
	return err
}

// StopShare closes outbound share peers and tells the room.
func (o *Orchestrator) StopShare(ctx context.Context) error {
	return o.do(ctx, func() error {
		if o.screen == nil {
			return ErrNotSharing
		}
		o.stopShare()
		return o.signal.Send(&protocol.StopScreenShare{RoomID: o.room})
	})
}

// Self returns the connection id assigned by the server.
func (o *Orchestrator) Self(ctx context.Context) (domain.ConnectionID, error) {
	var id domain.ConnectionID
	err := o.do(ctx, func() error {
		id = o.self
		return nil
	})
	return id, err
}

func (o *Orchestrator) post(fn func()) {
	select {
	case o.ops <- fn:
	case <-o.done:
	}
}

func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case o.ops <- func() { errc <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrClosed
	}
}

func (o *Orchestrator) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Welcome:
		o.self = m.ConnectionID
	case *protocol.ExistingUsers:
		for _, p := range m.Participants {
			o.remotes[p.ConnectionID] = p.ParticipantID
		}
		for _, remote := range m.Connections {
			if remote == o.self {
				continue
			}
			if _, ok := o.remotes[remote]; !ok {
				o.remotes[remote] = ""
			}
			o.offer(linkCamera, remote)
			if o.screen != nil {
				o.offer(linkShareOut, remote)
			}
		}
	case *protocol.UserJoined:
		o.remotes[m.ConnectionID] = m.ParticipantID
		// The newcomer offers camera media; only a running share is pushed.
		if o.screen != nil {
			o.offer(linkShareOut, m.ConnectionID)
		}
	case *protocol.UserLeft:
		delete(o.remotes, m.ConnectionID)
		for _, kind := range []linkKind{linkCamera, linkShareOut, linkShareIn} {
			o.drop(kind, m.ConnectionID)
		}
	case *protocol.ScreenShareStopped:
		o.drop(linkShareIn, m.ConnectionID)
	case *protocol.Relay:
		o.relay(m)
	case *protocol.RoomEvent:
		if o.hooks.OnRoomEvent != nil {
			o.hooks.OnRoomEvent(m)
		}
	case *protocol.SessionReplaced:
		log.Warn().Str("module", "client").Str("room", string(m.RoomID)).Msg("session replaced by another connection")
		o.teardown()
		if o.hooks.OnReplaced != nil {
			o.hooks.OnReplaced()
		}
	case *protocol.Error:
		log.Warn().Str("module", "client").Str("code", m.Code).Str("message", m.Message).Msg("server error")
		if o.hooks.OnError != nil {
			o.hooks.OnError(m)
		}
	case *protocol.Pong:
	default:
		log.Debug().Str("module", "client").Str("type", msg.Type()).Msg("ignored message")
	}
}

func (o *Orchestrator) relay(m *protocol.Relay) {
	switch m.Kind {
	case protocol.TypeOffer:
		o.answer(linkCamera, m.Sender, m.SDP)
	case protocol.TypeOfferScreen:
		o.answer(linkShareIn, m.Sender, m.SDP)
	case protocol.TypeAnswer:
		o.applyAnswer(linkCamera, m.Sender, m.SDP)
	case protocol.TypeAnswerScreen:
		o.applyAnswer(linkShareOut, m.Sender, m.SDP)
	case protocol.TypeCandidate:
		o.remoteCandidate(linkCamera, m.Sender, m.Candidate)
	case protocol.TypeCandidateScreen:
		o.remoteCandidate(o.screenKind(m), m.Sender, m.Candidate)
	}
}

// screenKind picks the share map a screen candidate belongs to. The role
// names the sender's side; without it an inbound share wins.
func (o *Orchestrator) screenKind(m *protocol.Relay) linkKind {
	switch m.Role {
	case protocol.RoleSource:
		return linkShareIn
	case protocol.RoleViewer:
		return linkShareOut
	}
	if _, ok := o.links[linkShareIn][m.Sender]; ok {
		return linkShareIn
	}
	return linkShareOut
}

func (o *Orchestrator) open(kind linkKind, remote domain.ConnectionID) (*link, error) {
	o.drop(kind, remote)
	pc, err := o.newPeer()
	if err != nil {
		return nil, err
	}
	l := &link{kind: kind, remote: remote, pc: pc}
	pc.OnCandidate(func(c json.RawMessage) {
		o.post(func() { o.localCandidate(l, c) })
	})
	pc.OnTrack(func(t RemoteTrack) {
		o.post(func() {
			if o.current(l) && o.hooks.OnRemoteTrack != nil {
				o.hooks.OnRemoteTrack(remote, kind != linkCamera, t)
			}
		})
	})
	pc.OnFailed(func() {
		o.post(func() { o.failed(l, errors.New("ice connection failed")) })
	})
	o.links[kind][remote] = l
	return l, nil
}

func (o *Orchestrator) current(l *link) bool {
	return o.links[l.kind][l.remote] == l
}

func (o *Orchestrator) offer(kind linkKind, remote domain.ConnectionID) {
	l, err := o.open(kind, remote)
	if err != nil {
		o.peerError(remote, err)
		return
	}
	stream := o.camera
	if kind == linkShareOut {
		stream = o.screen
	}
	if stream != nil {
		if err := l.pc.AddStream(stream); err != nil {
			o.failed(l, err)
			return
		}
	}
	sdp, err := l.pc.CreateOffer()
	if err != nil {
		o.failed(l, err)
		return
	}
	typ := protocol.TypeOffer
	if kind == linkShareOut {
		typ = protocol.TypeOfferScreen
	}
	o.sendLocal(l, &protocol.Relay{Kind: typ, Target: remote, Role: l.role(), SDP: sdp})
}

func (o *Orchestrator) answer(kind linkKind, remote domain.ConnectionID, offer json.RawMessage) {
	if !o.joined {
		return
	}
	l, err := o.open(kind, remote)
	if err != nil {
		o.peerError(remote, err)
		return
	}
	if kind == linkCamera && o.camera != nil {
		if err := l.pc.AddStream(o.camera); err != nil {
			o.failed(l, err)
			return
		}
	}
	sdp, err := l.pc.Answer(offer)
	if err != nil {
		o.failed(l, err)
		return
	}
	o.remoteSet(l)
	typ := protocol.TypeAnswer
	if kind == linkShareIn {
		typ = protocol.TypeAnswerScreen
	}
	o.sendLocal(l, &protocol.Relay{Kind: typ, Target: remote, Role: l.role(), SDP: sdp})
}

func (o *Orchestrator) applyAnswer(kind linkKind, remote domain.ConnectionID, answer json.RawMessage) {
	l, ok := o.links[kind][remote]
	if !ok || l.remoteSet {
		log.Debug().Str("module", "client").Str("remote", string(remote)).Str("link", kind.String()).Msg("stale answer ignored")
		return
	}
	if err := l.pc.ApplyAnswer(answer); err != nil {
		o.failed(l, err)
		return
	}
	o.remoteSet(l)
}

func (o *Orchestrator) remoteSet(l *link) {
	l.remoteSet = true
	pending := l.pendingRemote
	l.pendingRemote = nil
	for _, c := range pending {
		o.addCandidate(l, c)
	}
}

func (o *Orchestrator) remoteCandidate(kind linkKind, remote domain.ConnectionID, c json.RawMessage) {
	l, ok := o.links[kind][remote]
	if !ok {
		return
	}
	if !l.remoteSet {
		l.pendingRemote = append(l.pendingRemote, c)
		return
	}
	o.addCandidate(l, c)
}

func (o *Orchestrator) addCandidate(l *link, c json.RawMessage) {
	if err := l.pc.AddCandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("remote", string(l.remote)).Str("link", l.kind.String()).Msg("add candidate")
	}
}

// sendLocal sends a local description and then the candidates gathered
// before it.
func (o *Orchestrator) sendLocal(l *link, desc *protocol.Relay) {
	if err := o.signal.Send(desc); err != nil {
		o.failed(l, err)
		return
	}
	l.localSent = true
	pending := l.pendingLocal
	l.pendingLocal = nil
	for _, c := range pending {
		o.sendCandidate(l, c)
	}
}

func (o *Orchestrator) localCandidate(l *link, c json.RawMessage) {
	if !o.current(l) {
		return
	}
	if !l.localSent {
		l.pendingLocal = append(l.pendingLocal, c)
		return
	}
	o.sendCandidate(l, c)
}

func (o *Orchestrator) sendCandidate(l *link, c json.RawMessage) {
	typ := protocol.TypeCandidate
	if l.kind != linkCamera {
		typ = protocol.TypeCandidateScreen
	}
	if err := o.signal.Send(&protocol.Relay{Kind: typ, Target: l.remote, Role: l.role(), Candidate: c}); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("remote", string(l.remote)).Msg("send candidate")
	}
}

func (l *link) role() string {
	switch l.kind {
	case linkShareOut:
		return protocol.RoleSource
	case linkShareIn:
		return protocol.RoleViewer
	default:
		return ""
	}
}

// failed tears down a single peer and reports why.
func (o *Orchestrator) failed(l *link, err error) {
	if !o.current(l) {
		return
	}
	o.drop(l.kind, l.remote)
	o.peerError(l.remote, err)
}

func (o *Orchestrator) peerError(remote domain.ConnectionID, err error) {
	err = fmt.Errorf("%w: %v", domain.ErrPeerConnectionFailed, err)
	log.Warn().Err(err).Str("module", "client").Str("remote", string(remote)).Msg("peer failed")
	if o.hooks.OnPeerError != nil {
		o.hooks.OnPeerError(remote, err)
	}
}

func (o *Orchestrator) drop(kind linkKind, remote domain.ConnectionID) {
	l, ok := o.links[kind][remote]
	if !ok {
		return
	}
	delete(o.links[kind], remote)
	if err := l.pc.Close(); err != nil {
		log.Debug().Err(err).Str("module", "client").Str("remote", string(remote)).Msg("peer close")
	}
	if o.hooks.OnPeerClosed != nil {
		o.hooks.OnPeerClosed(remote)
	}
}

func (o *Orchestrator) stopShare() {
	for remote := range o.links[linkShareOut] {
		o.drop(linkShareOut, remote)
	}
	o.screen.Stop()
	o.screen = nil
}

func (o *Orchestrator) teardown() {
	for kind, links := range o.links {
		for remote := range links {
			o.drop(kind, remote)
		}
	}
	o.camera.Stop()
	o.screen.Stop()
	o.camera, o.screen = nil, nil
	o.remotes = make(map[domain.ConnectionID]domain.ParticipantID)
	o.joined = false
}
