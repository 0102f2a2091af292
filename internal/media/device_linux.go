//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	defaultVideoBitRate = 1_000_000
	defaultMaxWidth     = 640
	defaultMaxHeight    = 480
)

// DeviceSource captures the local camera and microphone through
// pion/mediadevices (V4L2 and malgo on Linux).
type DeviceSource struct {
	VideoBitRate int
	MaxWidth     int
	MaxHeight    int
}

type captureAttempt struct {
	video bool
	audio bool
	label string
}

// attempts lists what to try, best first. A missing microphone should not
// cost the camera and vice versa, so both are tried alone after the pair.
func attempts(c Constraints) []captureAttempt {
	switch {
	case c.Audio && c.Video:
		return []captureAttempt{
			{video: true, audio: true, label: "video+audio"},
			{audio: true, label: "audio-only"},
			{video: true, label: "video-only"},
		}
	case c.Audio:
		return []captureAttempt{{audio: true, label: "audio-only"}}
	case c.Video:
		return []captureAttempt{{video: true, label: "video-only"}}
	}
	return nil
}

// Acquire opens the capture devices, walking the fallback chain until one
// attempt yields usable tracks.
func (s DeviceSource) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	selector, err := s.codecSelector()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	var lastErr error
	for _, a := range attempts(c) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stream, err := s.capture(selector, a)
		if err != nil {
			slog.Warn("media capture attempt failed", "attempt", a.label, "error", err)
			lastErr = err
			continue
		}

		slog.Info("local media captured", "attempt", a.label, "tracks", len(stream.tracks))
		return stream, nil
	}

	return nil, classify(lastErr)
}

func (s DeviceSource) codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = defaultVideoBitRate
	if s.VideoBitRate > 0 {
		vpxParams.BitRate = s.VideoBitRate
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func (s DeviceSource) capture(selector *mediadevices.CodecSelector, a captureAttempt) (*Stream, error) {
	maxW, maxH := defaultMaxWidth, defaultMaxHeight
	if s.MaxWidth > 0 {
		maxW = s.MaxWidth
	}
	if s.MaxHeight > 0 {
		maxH = s.MaxHeight
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	if a.video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras emit frames the encoder chokes on.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: maxW}
			c.Height = prop.IntRanged{Max: maxH}
		}
	}
	if a.audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}

	captured := ms.GetTracks()
	closeAll := func() {
		for _, t := range captured {
			t.Close()
		}
	}
	if len(captured) == 0 {
		return nil, ErrMediaUnavailable
	}

	streamID := "local-" + uuid.NewString()
	tracks := make([]*Track, 0, len(captured))
	stopBuilt := func() {
		for _, t := range tracks {
			t.Stop()
		}
	}

	for _, src := range captured {
		mime, clockRate := webrtc.MimeTypeOpus, uint32(48000)
		if src.Kind() == webrtc.RTPCodecTypeVideo {
			mime, clockRate = webrtc.MimeTypeVP8, 90000
		}

		reader, err := src.NewEncodedReader(mime)
		if err != nil {
			stopBuilt()
			closeAll()
			return nil, fmt.Errorf("%s encoder: %w", src.Kind(), err)
		}

		t, err := NewTrack(src.Kind(), src.Kind().String(), streamID)
		if err != nil {
			reader.Close()
			stopBuilt()
			closeAll()
			return nil, err
		}

		device := src
		t.onStop = func() {
			reader.Close()
			device.Close()
		}
		src.OnEnded(func(err error) {
			if err != nil {
				slog.Debug("local track ended", "kind", device.Kind(), "error", err)
			}
		})

		tracks = append(tracks, t)
		go pump(t, reader, clockRate)
	}

	return NewStream(streamID, tracks...), nil
}

// pump copies encoded frames into t until the reader fails or t stops.
func pump(t *Track, r mediadevices.EncodedReadCloser, clockRate uint32) {
	for {
		buf, release, err := r.Read()
		if err != nil {
			select {
			case <-t.Done():
			default:
				slog.Debug("encoded reader stopped", "track", t.ID(), "error", err)
			}
			return
		}

		d := time.Duration(buf.Samples) * time.Second / time.Duration(clockRate)
		if err := t.WriteSample(pionmedia.Sample{Data: buf.Data, Duration: d}); err != nil {
			slog.Debug("write sample failed", "track", t.ID(), "error", err)
		}
		release()
	}
}

// classify maps a capture error onto the package's error taxonomy.
func classify(err error) error {
	if err == nil {
		return ErrMediaUnavailable
	}
	if errors.Is(err, ErrMediaAccessDenied) || errors.Is(err, ErrMediaUnavailable) {
		return err
	}
	if errors.Is(err, fs.ErrPermission) || strings.Contains(strings.ToLower(err.Error()), "permission denied") {
		return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
}

// Devices lists the capture devices the drivers can see.
func Devices() []Device {
	var out []Device
	for _, d := range mediadevices.EnumerateDevices() {
		kind := "unknown"
		switch d.Kind {
		case mediadevices.VideoInput:
			kind = "video"
		case mediadevices.AudioInput:
			kind = "audio"
		case mediadevices.AudioOutput:
			kind = "audio-output"
		}
		out = append(out, Device{ID: d.DeviceID, Label: d.Label, Kind: kind})
	}
	return out
}
