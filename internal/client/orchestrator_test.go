package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (s *fakeSender) Send(msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeSender) take() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.msgs
	s.msgs = nil
	return out
}

type fakePeer struct {
	mu          sync.Mutex
	streams     []*Stream
	remote      json.RawMessage
	candidates  []json.RawMessage
	closed      bool
	emitOnOffer json.RawMessage

	onCandidate func(json.RawMessage)
	onTrack     func(RemoteTrack)
	onFailed    func()
}

func (p *fakePeer) AddStream(s *Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, s)
	return nil
}

func (p *fakePeer) CreateOffer() (json.RawMessage, error) {
	if p.emitOnOffer != nil {
		p.onCandidate(p.emitOnOffer)
	}
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (p *fakePeer) Answer(offer json.RawMessage) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = offer
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (p *fakePeer) ApplyAnswer(answer json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = answer
	return nil
}

func (p *fakePeer) AddCandidate(c json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnCandidate(fn func(json.RawMessage)) { p.onCandidate = fn }
func (p *fakePeer) OnTrack(fn func(RemoteTrack))         { p.onTrack = fn }
func (p *fakePeer) OnFailed(fn func())                   { p.onFailed = fn }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) state() (remote json.RawMessage, candidates int, streams int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote, len(p.candidates), len(p.streams), p.closed
}

type fakeMedia struct {
	cameraErr error
	stopped   map[string]bool
	mu        sync.Mutex
}

func (m *fakeMedia) stream(id string) *Stream {
	return NewStream(id, nil, func() {
		m.mu.Lock()
		m.stopped[id] = true
		m.mu.Unlock()
	})
}

func (m *fakeMedia) Camera(context.Context) (*Stream, error) {
	if m.cameraErr != nil {
		return nil, m.cameraErr
	}
	return m.stream("camera"), nil
}

func (m *fakeMedia) Screen(context.Context) (*Stream, error) { return m.stream("screen"), nil }

func (m *fakeMedia) isStopped(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped[id]
}

type track struct{ id string }

func (t track) ID() string       { return t.id }
func (t track) StreamID() string { return "s-" + t.id }

type harness struct {
	t      *testing.T
	o      *Orchestrator
	sent   *fakeSender
	media  *fakeMedia
	mu     sync.Mutex
	peers  []*fakePeer
	errs   map[domain.ConnectionID]error
	closed []domain.ConnectionID
	tracks []string
	events []*protocol.RoomEvent

	replaced bool
	next     *fakePeer
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:     t,
		sent:  &fakeSender{},
		media: &fakeMedia{stopped: map[string]bool{}},
		errs:  map[domain.ConnectionID]error{},
	}
	hooks := Hooks{
		OnRemoteTrack: func(remote domain.ConnectionID, screen bool, tr RemoteTrack) {
			h.tracks = append(h.tracks, string(remote)+":"+tr.ID())
		},
		OnPeerError:  func(remote domain.ConnectionID, err error) { h.errs[remote] = err },
		OnPeerClosed: func(remote domain.ConnectionID) { h.closed = append(h.closed, remote) },
		OnRoomEvent:  func(ev *protocol.RoomEvent) { h.events = append(h.events, ev) },
		OnReplaced:   func() { h.replaced = true },
	}
	h.o = New(h.sent, h.media, h.newPeer, hooks)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.o.Run(ctx)

	h.o.Handle(&protocol.Welcome{ConnectionID: "self"})
	return h
}

func (h *harness) newPeer() (Peer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.next
	h.next = nil
	if p == nil {
		p = &fakePeer{}
	}
	h.peers = append(h.peers, p)
	return p, nil
}

func (h *harness) peer(i int) *fakePeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(h.t, len(h.peers), i)
	return h.peers[i]
}

func (h *harness) peerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}

// handle delivers msgs and waits until the orchestrator has applied them.
func (h *harness) handle(msgs ...protocol.Message) {
	for _, m := range msgs {
		h.o.Handle(m)
	}
	h.sync()
}

func (h *harness) sync() {
	// Callbacks posted while applying may post again; two rounds settle them.
	for i := 0; i < 2; i++ {
		_, err := h.o.Self(h.ctx())
		require.NoError(h.t, err)
	}
}

func (h *harness) join() {
	require.NoError(h.t, h.o.Join(h.ctx(), "R1", "alice", ""))
	msgs := h.sent.take()
	require.Len(h.t, msgs, 1)
	require.Equal(h.t, &protocol.JoinRoom{RoomID: "R1", ParticipantID: "alice"}, msgs[0])
}

func relay(kind string, sender domain.ConnectionID, role string, payload string) *protocol.Relay {
	m := &protocol.Relay{Kind: kind, Sender: sender, Role: role}
	if kind == protocol.TypeCandidate || kind == protocol.TypeCandidateScreen {
		m.Candidate = json.RawMessage(payload)
	} else {
		m.SDP = json.RawMessage(payload)
	}
	return m
}

func kinds(msgs []protocol.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type()
		if r, ok := m.(*protocol.Relay); ok {
			out[i] += ">" + string(r.Target)
		}
	}
	return out
}

func TestJoinFailsWithoutMedia(t *testing.T) {
	h := newHarness(t)
	h.media.cameraErr = errors.New("permission denied")

	err := h.o.Join(h.ctx(), "R1", "alice", "")
	require.ErrorIs(t, err, domain.ErrMediaAcquisitionFailed)
	h.sync()
	assert.Empty(t, h.sent.take(), "join-room must not be sent")
}

func TestJoinTwice(t *testing.T) {
	h := newHarness(t)
	h.join()
	require.ErrorIs(t, h.o.Join(h.ctx(), "R1", "alice", ""), ErrAlreadyJoined)
	assert.Empty(t, h.sent.take())
}

func TestExistingUsersOffered(t *testing.T) {
	h := newHarness(t)
	h.join()

	h.handle(&protocol.ExistingUsers{
		Connections: []domain.ConnectionID{"c1", "self", "c2"},
		Participants: []protocol.Peer{
			{ParticipantID: "bob", ConnectionID: "c1"},
			{ParticipantID: "carol", ConnectionID: "c2"},
		},
	})
	assert.Equal(t, []string{"offer>c1", "offer>c2"}, kinds(h.sent.take()))
	require.Equal(t, 2, h.peerCount())
	_, _, streams, _ := h.peer(0).state()
	assert.Equal(t, 1, streams, "camera tracks attached before the offer")

	h.handle(relay(protocol.TypeAnswer, "c1", "", `{"type":"answer","sdp":"x"}`))
	remote, _, _, _ := h.peer(0).state()
	assert.JSONEq(t, `{"type":"answer","sdp":"x"}`, string(remote))
}

func TestRemoteCandidatesBufferedUntilAnswer(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.handle(&protocol.ExistingUsers{Connections: []domain.ConnectionID{"c1"}})
	h.sent.take()

	h.handle(
		relay(protocol.TypeCandidate, "c1", "", `{"candidate":"a"}`),
		relay(protocol.TypeCandidate, "c1", "", `{"candidate":"b"}`),
	)
	_, n, _, _ := h.peer(0).state()
	assert.Zero(t, n, "no remote description yet")

	h.handle(relay(protocol.TypeAnswer, "c1", "", `{"type":"answer","sdp":"x"}`))
	_, n, _, _ = h.peer(0).state()
	assert.Equal(t, 2, n)

	h.handle(relay(protocol.TypeCandidate, "c1", "", `{"candidate":"c"}`))
	_, n, _, _ = h.peer(0).state()
	assert.Equal(t, 3, n)

	// Candidates for unknown peers are dropped.
	h.handle(relay(protocol.TypeCandidate, "c9", "", `{"candidate":"z"}`))
	assert.Equal(t, 1, h.peerCount())
}

func TestLocalCandidatesFollowDescription(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.next = &fakePeer{emitOnOffer: json.RawMessage(`{"candidate":"early"}`)}

	h.handle(&protocol.ExistingUsers{Connections: []domain.ConnectionID{"c1"}})
	msgs := h.sent.take()
	assert.Equal(t, []string{"offer>c1", "candidate>c1"}, kinds(msgs))
	assert.JSONEq(t, `{"candidate":"early"}`, string(msgs[1].(*protocol.Relay).Candidate))
}

func TestIncomingOfferAnswered(t *testing.T) {
	h := newHarness(t)
	h.join()

	h.handle(relay(protocol.TypeOffer, "c1", "", `{"type":"offer","sdp":"o1"}`))
	msgs := h.sent.take()
	require.Equal(t, []string{"answer>c1"}, kinds(msgs))
	assert.JSONEq(t, `{"type":"answer","sdp":"a"}`, string(msgs[0].(*protocol.Relay).SDP))

	remote, _, streams, _ := h.peer(0).state()
	assert.JSONEq(t, `{"type":"offer","sdp":"o1"}`, string(remote))
	assert.Equal(t, 1, streams)

	// Candidates after the offer apply immediately.
	h.handle(relay(protocol.TypeCandidate, "c1", "", `{"candidate":"a"}`))
	_, n, _, _ := h.peer(0).state()
	assert.Equal(t, 1, n)

	// A renegotiating offer replaces the peer.
	h.handle(relay(protocol.TypeOffer, "c1", "", `{"type":"offer","sdp":"o2"}`))
	_, _, _, closed := h.peer(0).state()
	assert.True(t, closed)
	assert.Equal(t, 2, h.peerCount())
}

func TestRemoteTracksReported(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.handle(relay(protocol.TypeOffer, "c1", "", `{"type":"offer","sdp":"o1"}`))

	h.peer(0).onTrack(track{id: "v"})
	h.sync()
	assert.Equal(t, []string{"c1:v"}, h.tracks)
}

func TestScreenShareLifecycle(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.handle(&protocol.UserJoined{ParticipantID: "bob", ConnectionID: "c1"})
	assert.Empty(t, h.sent.take(), "the newcomer initiates camera negotiation")

	require.NoError(t, h.o.StartShare(h.ctx()))
	h.sync()
	msgs := h.sent.take()
	require.Equal(t, []string{"offer-screen>c1"}, kinds(msgs))
	assert.Equal(t, protocol.RoleSource, msgs[0].(*protocol.Relay).Role)
	share := h.peer(0)

	h.handle(
		relay(protocol.TypeCandidateScreen, "c1", protocol.RoleViewer, `{"candidate":"v1"}`),
		relay(protocol.TypeAnswerScreen, "c1", protocol.RoleViewer, `{"type":"answer","sdp":"s"}`),
	)
	_, n, _, _ := share.state()
	assert.Equal(t, 1, n)

	// A newcomer during a share is offered the screen.
	h.handle(&protocol.UserJoined{ParticipantID: "carol", ConnectionID: "c2"})
	assert.Equal(t, []string{"offer-screen>c2"}, kinds(h.sent.take()))

	require.NoError(t, h.o.StopShare(h.ctx()))
	assert.Equal(t, []string{protocol.TypeStopScreenShare}, kinds(h.sent.take()))
	_, _, _, closed := share.state()
	assert.True(t, closed)
	assert.True(t, h.media.isStopped("screen"))

	// Late messages for the torn-down share are ignored.
	peers := h.peerCount()
	h.handle(
		relay(protocol.TypeAnswerScreen, "c1", protocol.RoleViewer, `{"type":"answer","sdp":"late"}`),
		relay(protocol.TypeCandidateScreen, "c1", protocol.RoleViewer, `{"candidate":"late"}`),
	)
	assert.Equal(t, peers, h.peerCount())
	assert.Empty(t, h.sent.take())

	require.ErrorIs(t, h.o.StopShare(h.ctx()), ErrNotSharing)
}

func TestInboundShare(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.handle(&protocol.ExistingUsers{Connections: []domain.ConnectionID{"c1"}})
	h.sent.take()
	camera := h.peer(0)

	h.handle(relay(protocol.TypeOfferScreen, "c1", protocol.RoleSource, `{"type":"offer","sdp":"scr"}`))
	msgs := h.sent.take()
	require.Equal(t, []string{"answer-screen>c1"}, kinds(msgs))
	assert.Equal(t, protocol.RoleViewer, msgs[0].(*protocol.Relay).Role)
	viewer := h.peer(1)
	_, _, streams, _ := viewer.state()
	assert.Zero(t, streams, "viewers send no media")

	// Role-less candidate prefers the inbound share.
	h.handle(relay(protocol.TypeCandidateScreen, "c1", "", `{"candidate":"s1"}`))
	_, n, _, _ := viewer.state()
	assert.Equal(t, 1, n)

	h.handle(&protocol.ScreenShareStopped{ParticipantID: "bob", ConnectionID: "c1"})
	_, _, _, closed := viewer.state()
	assert.True(t, closed)
	_, _, _, closed = camera.state()
	assert.False(t, closed, "camera peer survives the share")
}

func TestUserLeftClosesAllPeers(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.handle(
		&protocol.ExistingUsers{Connections: []domain.ConnectionID{"c1", "c2"}},
		relay(protocol.TypeOfferScreen, "c1", protocol.RoleSource, `{"type":"offer","sdp":"scr"}`),
	)

	h.handle(&protocol.UserLeft{ParticipantID: "bob", ConnectionID: "c1"})
	for i, want := range []bool{true, false, true} {
		_, _, _, closed := h.peer(i).state()
		assert.Equal(t, want, closed, "peer %d", i)
	}
	assert.ElementsMatch(t, []domain.ConnectionID{"c1", "c1"}, h.closed)
}

func TestPeerFailureIsolated(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.handle(&protocol.ExistingUsers{Connections: []domain.ConnectionID{"c1", "c2"}})

	h.peer(0).onFailed()
	h.sync()
	require.ErrorIs(t, h.errs["c1"], domain.ErrPeerConnectionFailed)
	_, _, _, closed := h.peer(0).state()
	assert.True(t, closed)
	_, _, _, closed = h.peer(1).state()
	assert.False(t, closed)

	// A second failure report for the dropped peer is ignored.
	delete(h.errs, "c1")
	h.peer(0).onFailed()
	h.sync()
	assert.NotContains(t, h.errs, domain.ConnectionID("c1"))
}

func TestSessionReplaced(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.handle(&protocol.ExistingUsers{Connections: []domain.ConnectionID{"c1"}})

	h.handle(&protocol.SessionReplaced{RoomID: "R1"})
	assert.True(t, h.replaced)
	_, _, _, closed := h.peer(0).state()
	assert.True(t, closed)
	assert.True(t, h.media.isStopped("camera"))
	require.ErrorIs(t, h.o.Leave(h.ctx()), domain.ErrNotJoined)
}

func TestLeave(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.handle(&protocol.ExistingUsers{Connections: []domain.ConnectionID{"c1"}})
	h.sent.take()

	require.NoError(t, h.o.Leave(h.ctx()))
	assert.Equal(t, []protocol.Message{&protocol.LeaveRoom{RoomID: "R1", ParticipantID: "alice"}}, h.sent.take())
	_, _, _, closed := h.peer(0).state()
	assert.True(t, closed)
	assert.True(t, h.media.isStopped("camera"))

	// Offers after leaving are not answered.
	h.handle(relay(protocol.TypeOffer, "c1", "", `{"type":"offer","sdp":"o"}`))
	assert.Empty(t, h.sent.take())
}

func TestRoomEventsForwarded(t *testing.T) {
	h := newHarness(t)
	ev := &protocol.RoomEvent{Kind: protocol.TypeGestureAction, Sender: "c1", ParticipantID: "bob", Data: json.RawMessage(`{"g":"wave"}`)}
	h.handle(ev)
	assert.Equal(t, []*protocol.RoomEvent{ev}, h.events)
}

func TestClosedOrchestrator(t *testing.T) {
	o := New(&fakeSender{}, &fakeMedia{stopped: map[string]bool{}}, func() (Peer, error) { return &fakePeer{}, nil }, Hooks{})
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(finished)
	}()
	cancel()
	<-finished

	_, err := o.Self(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
