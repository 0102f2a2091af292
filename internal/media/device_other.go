//go:build !linux

package media

import (
	"context"
	"fmt"
	"runtime"
)

// DeviceSource has no capture drivers outside Linux; use the synthetic
// source instead.
type DeviceSource struct {
	VideoBitRate int
	MaxWidth     int
	MaxHeight    int
}

func (DeviceSource) Acquire(context.Context, Constraints) (*Stream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on %s", ErrMediaUnavailable, runtime.GOOS)
}

func Devices() []Device { return nil }
