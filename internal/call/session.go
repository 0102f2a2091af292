package call

import (
	"time"
)

// State of the call as the user sees it.
type State int

const (
	StateIdle State = iota
	StateCalling
	StateIncoming
	StateAnswering
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCalling:
		return "CALLING"
	case StateIncoming:
		return "INCOMING"
	case StateAnswering:
		return "ANSWERING"
	case StateConnected:
		return "CONNECTED"
	case StateEnded:
		return "ENDED"
	}
	return "UNKNOWN"
}

// Active reports whether a call is in progress.
func (s State) Active() bool {
	return s != StateIdle && s != StateEnded
}

// Session describes one call attempt. Once the call is over it keeps its
// final values until the next attempt starts.
type Session struct {
	ID                string
	State             State
	IsInitiator       bool
	LocalMediaActive  bool
	RemoteMediaActive bool

	Muted    bool
	VideoOff bool

	// Remote side's microphone/camera, as announced over the control
	// channel. True until told otherwise.
	RemoteAudio bool
	RemoteVideo bool

	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
	EndReason   error

	SignalsSent     int
	SignalsReceived int
}

// Role is "caller" or "callee".
func (s Session) Role() string {
	if s.IsInitiator {
		return "caller"
	}
	return "callee"
}

// Duration is the connected time, zero if the call never connected.
func (s Session) Duration() time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.ConnectedAt)
}

// Event is published on every state or session change.
type Event struct {
	State   State
	Session Session
	Err     error
}
