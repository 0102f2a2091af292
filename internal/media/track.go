package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Track is one local media track. Samples are written into a pion
// TrackLocalStaticSample; while the track is disabled they are dropped, so
// the remote side sees the track go silent or freeze without any
// renegotiation.
type Track struct {
	local   *webrtc.TrackLocalStaticSample
	kind    webrtc.RTPCodecType
	enabled atomic.Bool
	written atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	onStop   func()
}

// NewTrack creates an enabled track of the given kind. Video is VP8, audio
// is Opus.
func NewTrack(kind webrtc.RTPCodecType, id, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(capability(kind), id, streamID)
	if err != nil {
		return nil, err
	}

	t := &Track{
		local: local,
		kind:  kind,
		done:  make(chan struct{}),
	}
	t.enabled.Store(true)
	return t, nil
}

func capability(kind webrtc.RTPCodecType) webrtc.RTPCodecCapability {
	if kind == webrtc.RTPCodecTypeVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

// Local returns the pion track to attach to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) ID() string { return t.local.ID() }

func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// SamplesWritten counts samples handed to the peer connection.
func (t *Track) SamplesWritten() uint64 { return t.written.Load() }

// WriteSample forwards s unless the track is disabled or stopped.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	select {
	case <-t.done:
		return nil
	default:
	}

	if err := t.local.WriteSample(s); err != nil {
		return err
	}
	t.written.Add(1)
	return nil
}

// Stop ends the track and releases whatever feeds it. Idempotent.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		if t.onStop != nil {
			t.onStop()
		}
	})
}

// Done is closed once the track is stopped.
func (t *Track) Done() <-chan struct{} { return t.done }
