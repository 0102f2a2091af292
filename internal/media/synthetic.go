package media

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	syntheticAudioInterval = 20 * time.Millisecond
	syntheticVideoInterval = 33 * time.Millisecond
)

var (
	// Opus TOC byte for a 20ms CELT frame followed by a silent payload.
	opusSilence = []byte{0xf8, 0xff, 0xfe}

	// Placeholder VP8 payload. Not a decodable picture; it only keeps
	// packets flowing so the remote sees an active video track.
	vp8Placeholder = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
)

// SyntheticSource produces media without touching any device: Opus silence
// and a placeholder video payload on fixed tickers. Used for headless runs
// and tests.
type SyntheticSource struct {
	AudioInterval time.Duration
	VideoInterval time.Duration
}

// Acquire builds a stream with the requested kinds and starts feeding it.
func (s SyntheticSource) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrMediaUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "synthetic-" + uuid.NewString()
	var tracks []*Track

	if c.Audio {
		t, err := NewTrack(webrtc.RTPCodecTypeAudio, "audio", streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
		go feed(t, opusSilence, interval(s.AudioInterval, syntheticAudioInterval))
	}
	if c.Video {
		t, err := NewTrack(webrtc.RTPCodecTypeVideo, "video", streamID)
		if err != nil {
			for _, prev := range tracks {
				prev.Stop()
			}
			return nil, err
		}
		tracks = append(tracks, t)
		go feed(t, vp8Placeholder, interval(s.VideoInterval, syntheticVideoInterval))
	}

	return NewStream(streamID, tracks...), nil
}

func interval(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// feed writes frame into t every d until the track stops.
func feed(t *Track, frame []byte, d time.Duration) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-t.Done():
			return
		case <-ticker.C:
			_ = t.WriteSample(pionmedia.Sample{Data: frame, Duration: d})
		}
	}
}
