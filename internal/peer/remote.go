package peer

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack identifies one inbound track.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// RemoteStream is a snapshot of the tracks received so far.
type RemoteStream struct {
	Tracks []RemoteTrack
}

func (s RemoteStream) HasAudio() bool { return s.has(webrtc.RTPCodecTypeAudio) }

func (s RemoteStream) HasVideo() bool { return s.has(webrtc.RTPCodecTypeVideo) }

func (s RemoteStream) has(kind webrtc.RTPCodecType) bool {
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

// remoteTracks accumulates inbound tracks for the life of one connection.
type remoteTracks struct {
	mu     sync.Mutex
	tracks []RemoteTrack
}

// add records t and returns the new snapshot. Re-announced tracks are
// recorded once.
func (r *remoteTracks) add(t RemoteTrack) RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := false
	for _, have := range r.tracks {
		if have.ID() == t.ID() && have.Kind() == t.Kind() {
			seen = true
			break
		}
	}
	if !seen {
		r.tracks = append(r.tracks, t)
	}
	return RemoteStream{Tracks: append([]RemoteTrack(nil), r.tracks...)}
}

func (r *remoteTracks) snapshot() RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RemoteStream{Tracks: append([]RemoteTrack(nil), r.tracks...)}
}

func (r *remoteTracks) reset() {
	r.mu.Lock()
	r.tracks = nil
	r.mu.Unlock()
}

// rtpStats counts inbound packets and sequence gaps for one remote track.
type rtpStats struct {
	packets uint64
	lost    uint64
	lastSeq uint16
	started bool
}

func (s *rtpStats) observe(pkt *rtp.Packet) {
	s.packets++
	seq := pkt.SequenceNumber
	if !s.started {
		s.started = true
		s.lastSeq = seq
		return
	}

	// uint16 arithmetic handles wraparound. A step of half the space or
	// more is a late packet, not a forward jump.
	step := seq - s.lastSeq
	if step == 0 || step >= 0x8000 {
		return
	}
	s.lost += uint64(step - 1)
	s.lastSeq = seq
}
