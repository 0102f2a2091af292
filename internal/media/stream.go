package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// Stream is the local media stream of one call: an ordered set of tracks
// that start and stop together.
type Stream struct {
	id      string
	tracks  []*Track
	stopped atomic.Bool
	once    sync.Once
}

// NewStream groups tracks under id.
func NewStream(id string, tracks ...*Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

// Tracks returns every track in the stream.
func (s *Stream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []*Track { return s.ofKind(webrtc.RTPCodecTypeAudio) }

func (s *Stream) VideoTracks() []*Track { return s.ofKind(webrtc.RTPCodecTypeVideo) }

func (s *Stream) ofKind(kind webrtc.RTPCodecType) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// HasKind reports whether the stream carries at least one track of kind.
func (s *Stream) HasKind(kind webrtc.RTPCodecType) bool {
	return len(s.ofKind(kind)) > 0
}

// SetAudioEnabled enables or disables every audio track.
func (s *Stream) SetAudioEnabled(enabled bool) {
	for _, t := range s.AudioTracks() {
		t.SetEnabled(enabled)
	}
}

// SetVideoEnabled enables or disables every video track.
func (s *Stream) SetVideoEnabled(enabled bool) {
	for _, t := range s.VideoTracks() {
		t.SetEnabled(enabled)
	}
}

// Active reports whether the stream has tracks and has not been stopped.
func (s *Stream) Active() bool {
	return !s.stopped.Load() && len(s.tracks) > 0
}

// Stop stops every track. Idempotent.
func (s *Stream) Stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		for _, t := range s.tracks {
			t.Stop()
		}
	})
}
