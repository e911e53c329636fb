package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Stream is a set of local tracks acquired together.
type Stream struct {
	ID     string
	Tracks []webrtc.TrackLocal

	stopOnce sync.Once
	stop     func()
}

func NewStream(id string, tracks []webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{ID: id, Tracks: tracks, stop: stop}
}

// Stop releases the capture behind the stream. Safe to call repeatedly.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// MediaSource acquires user and display media.
type MediaSource interface {
	Camera(ctx context.Context) (*Stream, error)
	Screen(ctx context.Context) (*Stream, error)
}

// StaticSource hands out sample tracks that carry no captured media. A
// headless participant negotiates with them like a browser with devices.
type StaticSource struct {
	Audio bool
	Video bool
}

func (s StaticSource) Camera(ctx context.Context) (*Stream, error) {
	if !s.Audio && !s.Video {
		return nil, fmt.Errorf("no camera or microphone enabled")
	}
	id := "camera-" + uuid.NewString()
	var tracks []webrtc.TrackLocal
	if s.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", id)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if s.Video {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", id)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return NewStream(id, tracks, nil), nil
}

func (s StaticSource) Screen(ctx context.Context) (*Stream, error) {
	id := "screen-" + uuid.NewString()
	t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", id)
	if err != nil {
		return nil, err
	}
	return NewStream(id, []webrtc.TrackLocal{t}, nil), nil
}
