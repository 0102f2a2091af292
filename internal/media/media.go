// Package media acquires the local audio/video stream for a call. Capture
// comes either from real devices (pion/mediadevices) or from a synthetic
// test source; either way the result is a Stream of gated sample tracks
// that the peer connection can attach.
package media

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMediaAccessDenied means the user or OS refused camera/microphone
	// access. Not retried.
	ErrMediaAccessDenied = errors.New("media access denied")

	// ErrMediaUnavailable means no usable capture device was found.
	ErrMediaUnavailable = errors.New("media unavailable")
)

// Constraints selects which kinds of media to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// DefaultConstraints asks for both audio and video.
var DefaultConstraints = Constraints{Audio: true, Video: true}

// Source produces a local media stream.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
}

// Source kinds accepted by NewSource.
const (
	SourceDevice    = "device"
	SourceSynthetic = "synthetic"
)

// NewSource returns the source registered under kind.
func NewSource(kind string) (Source, error) {
	switch kind {
	case "", SourceDevice:
		return DeviceSource{}, nil
	case SourceSynthetic:
		return SyntheticSource{}, nil
	}
	return nil, fmt.Errorf("unknown media source %q (want %s or %s)", kind, SourceDevice, SourceSynthetic)
}

// Device describes one capture device.
type Device struct {
	ID    string
	Label string
	Kind  string
}
