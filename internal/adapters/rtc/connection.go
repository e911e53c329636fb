// Package rtc implements client peers on top of pion/webrtc.
package rtc

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Meet/internal/client"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig(iceServers ...string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(cfg webrtc.Configuration) (*Factory, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	return &Factory{api: webrtc.NewAPI(webrtc.WithMediaEngine(me)), cfg: cfg}, nil
}

// NewPeer satisfies client.PeerFactory.
func (f *Factory) NewPeer() (client.Peer, error) {
	c, err := f.NewConnection()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (f *Factory) NewConnection() (*Connection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, id: uuid.NewString()[:8]}
	c.start()
	return c, nil
}

// Connection wraps one pion PeerConnection. Handlers may be set at any
// time; pion invokes them from its own goroutines.
type Connection struct {
	pc *webrtc.PeerConnection
	id string

	mu          sync.Mutex
	onCandidate func(json.RawMessage)
	onTrack     func(client.RemoteTrack)
	onFailed    func()
}

func (c *Connection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("pc", c.id).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("pc", c.id).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed {
			c.mu.Lock()
			fn := c.onFailed
			c.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn == nil {
			return
		}
		data, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("pc", c.id).Msg("encode candidate")
			return
		}
		fn(data)
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("pc", c.id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})
}

// AddStream attaches every track of s and drains RTCP for each sender.
func (c *Connection) AddStream(s *client.Stream) error {
	for _, t := range s.Tracks {
		sender, err := c.pc.AddTrack(t)
		if err != nil {
			return err
		}
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (c *Connection) CreateOffer() (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (c *Connection) Answer(raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, err
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (c *Connection) ApplyAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddCandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return err
	}
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) OnCandidate(fn func(json.RawMessage)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(client.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) OnFailed(fn func()) {
	c.mu.Lock()
	c.onFailed = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	err := c.pc.Close()
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("pc", c.id).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("pc", c.id).Msg("closed")
	}
	return err
}

// LocalDescription is the current local SDP, including gathered candidates.
func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}
