// Package call implements the call state machine: it turns user commands
// and queued signals into peer connection operations, and owns the single
// peer connection manager of the current call.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/media"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/peer"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/signaling"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const eventBuffer = 32

// Transport sends signals to the remote peer. Best effort.
type Transport interface {
	Send(sig signaling.Signal) error
}

// PeerManager is the peer connection manager as the machine drives it.
type PeerManager interface {
	AcquireLocalMedia(ctx context.Context) error
	CreateOffer(ctx context.Context) error
	HandleSignal(ctx context.Context, sig signaling.Signal) error
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Close() error
}

// ManagerFactory builds a fresh manager for one call, reporting to h.
type ManagerFactory func(h peer.Handler) (PeerManager, error)

// PeerFactory returns a ManagerFactory backed by peer.New.
func PeerFactory(cfg peer.Config, opts ...peer.Option) ManagerFactory {
	return func(h peer.Handler) (PeerManager, error) {
		return peer.New(cfg, h, opts...), nil
	}
}

type Option func(*Machine)

// WithBye controls whether hanging up sends an explicit bye to the peer.
// Without it the peer only notices through the connection dropping.
func WithBye(enabled bool) Option {
	return func(m *Machine) { m.sendBye = enabled }
}

// Machine is the call state machine. All methods are safe for concurrent
// use; the lock is never held across manager or transport calls.
type Machine struct {
	transport  Transport
	newManager ManagerFactory
	sendBye    bool

	mu      sync.Mutex
	state   State
	gen     uint64
	session Session
	mgr     PeerManager

	// held keeps the retained offer and whatever follows it until the
	// call is accepted and the offer applied.
	held    []signaling.Signal
	holding bool

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// NewMachine returns an idle machine. Bye is on by default.
func NewMachine(transport Transport, factory ManagerFactory, opts ...Option) *Machine {
	m := &Machine{
		transport:  transport,
		newManager: factory,
		sendBye:    true,
		subs:       make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a snapshot of the current, or last, call.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Subscribe returns a channel of events and a func to stop receiving them.
// Slow subscribers miss events rather than stall the call.
func (m *Machine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)

	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, ch)
			m.subMu.Unlock()
		})
	}
}

func (m *Machine) publish(err error) {
	m.mu.Lock()
	ev := Event{State: m.state, Session: m.session, Err: err}
	m.mu.Unlock()

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// beginLocked starts a new call attempt in state s.
func (m *Machine) beginLocked(s State, initiator bool) uint64 {
	m.gen++
	m.state = s
	m.session = Session{
		ID:          uuid.NewString(),
		State:       s,
		IsInitiator: initiator,
		RemoteAudio: true,
		RemoteVideo: true,
		StartedAt:   time.Now(),
	}
	m.held = nil
	m.holding = false
	return m.gen
}

func (m *Machine) setStateLocked(s State) {
	m.state = s
	m.session.State = s
}

// alive reports whether call gen is still the current, unfinished call.
func (m *Machine) alive(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen && m.state.Active()
}

// install makes mgr the manager of call gen, applying toggles the user made
// before it existed.
func (m *Machine) install(gen uint64, mgr PeerManager) bool {
	m.mu.Lock()
	if m.gen != gen || !m.state.Active() {
		m.mu.Unlock()
		return false
	}
	m.mgr = mgr
	muted, videoOff := m.session.Muted, m.session.VideoOff
	m.mu.Unlock()

	if muted {
		mgr.SetAudioEnabled(false)
	}
	if videoOff {
		mgr.SetVideoEnabled(false)
	}
	return true
}

// StartCall places an outgoing call: Idle -> Calling, then local media,
// then the offer. A call already in progress is ended first, with a bye,
// and its manager closed.
func (m *Machine) StartCall(ctx context.Context) error {
	m.mu.Lock()
	for m.state.Active() {
		prev := m.gen
		m.mu.Unlock()
		m.terminate(prev, ErrSuperseded, true)
		m.mu.Lock()
	}
	gen := m.beginLocked(StateCalling, true)
	callID := m.session.ID
	m.mu.Unlock()

	slog.Info("starting call", "call_id", callID)
	m.publish(nil)

	mgr, err := m.newManager(m.handlerFor(gen))
	if err != nil {
		return m.fail(gen, "create peer connection", err)
	}
	if !m.install(gen, mgr) {
		mgr.Close()
		return NewError("start call", ErrStaleCall)
	}

	if err := mgr.AcquireLocalMedia(ctx); err != nil {
		return m.fail(gen, "acquire local media", err)
	}
	if !m.markLocalMedia(gen) {
		return NewError("start call", ErrStaleCall)
	}

	if err := mgr.CreateOffer(ctx); err != nil {
		return m.fail(gen, "create offer", err)
	}
	if !m.alive(gen) {
		return NewError("start call", ErrStaleCall)
	}
	return nil
}

// AcceptIncomingCall answers the retained offer: Incoming -> Answering,
// then local media, then the offer and everything queued behind it.
func (m *Machine) AcceptIncomingCall(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIncoming {
		state := m.state
		m.mu.Unlock()
		return WrapError("accept call", ErrInvalidState, state.String())
	}
	m.setStateLocked(StateAnswering)
	gen := m.gen
	callID := m.session.ID
	m.mu.Unlock()

	slog.Info("accepting call", "call_id", callID)
	m.publish(nil)

	mgr, err := m.newManager(m.handlerFor(gen))
	if err != nil {
		return m.fail(gen, "create peer connection", err)
	}
	if !m.install(gen, mgr) {
		mgr.Close()
		return NewError("accept call", ErrStaleCall)
	}

	if err := mgr.AcquireLocalMedia(ctx); err != nil {
		return m.fail(gen, "acquire local media", err)
	}
	if !m.markLocalMedia(gen) {
		return NewError("accept call", ErrStaleCall)
	}

	for {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return NewError("accept call", ErrStaleCall)
		}
		if len(m.held) == 0 {
			m.holding = false
			m.mu.Unlock()
			return nil
		}
		sig := m.held[0]
		m.held = m.held[1:]
		m.mu.Unlock()

		if err := mgr.HandleSignal(ctx, sig); err != nil {
			if sig.Type == signaling.KindOffer {
				return m.fail(gen, "apply offer", err)
			}
			slog.Warn("retained signal not applied", "call_id", callID, "kind", sig.Type, "error", err)
		}
	}
}

// RejectIncomingCall declines the retained offer.
func (m *Machine) RejectIncomingCall() error {
	m.mu.Lock()
	if m.state != StateIncoming {
		state := m.state
		m.mu.Unlock()
		return WrapError("reject call", ErrInvalidState, state.String())
	}
	gen := m.gen
	m.mu.Unlock()

	m.terminate(gen, ErrRejected, true)
	return nil
}

// EndCall hangs up whatever call is in progress. No-op when idle.
func (m *Machine) EndCall() {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	m.terminate(gen, ErrHangUp, true)
}

// Close tears the call down without telling the peer, as when the call
// window is dismissed. Safe to call repeatedly.
func (m *Machine) Close() {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	m.terminate(gen, ErrDismissed, false)
}

// ToggleMute flips the microphone and returns whether it is now muted.
func (m *Machine) ToggleMute() (bool, error) {
	m.mu.Lock()
	if !m.state.Active() {
		m.mu.Unlock()
		return false, NewError("toggle mute", ErrInvalidState)
	}
	m.session.Muted = !m.session.Muted
	muted := m.session.Muted
	mgr := m.mgr
	m.mu.Unlock()

	if mgr != nil {
		mgr.SetAudioEnabled(!muted)
	}
	m.publish(nil)
	return muted, nil
}

// ToggleVideo flips the camera and returns whether it is now off.
func (m *Machine) ToggleVideo() (bool, error) {
	m.mu.Lock()
	if !m.state.Active() {
		m.mu.Unlock()
		return false, NewError("toggle video", ErrInvalidState)
	}
	m.session.VideoOff = !m.session.VideoOff
	off := m.session.VideoOff
	mgr := m.mgr
	m.mu.Unlock()

	if mgr != nil {
		mgr.SetVideoEnabled(!off)
	}
	m.publish(nil)
	return off, nil
}

// RouteSignal takes one queued signal. An offer while idle becomes an
// incoming call; signals behind a retained offer wait for accept; a bye
// ends the call; everything else goes to the peer connection manager.
func (m *Machine) RouteSignal(ctx context.Context, sig signaling.Signal) error {
	m.mu.Lock()

	if sig.Type == signaling.KindBye {
		if !m.state.Active() {
			m.mu.Unlock()
			slog.Debug("bye without active call ignored")
			return nil
		}
		m.session.SignalsReceived++
		gen := m.gen
		m.mu.Unlock()

		m.terminate(gen, ErrRemoteHangUp, false)
		return nil
	}

	switch {
	case m.state == StateIdle && sig.Type == signaling.KindOffer:
		m.beginLocked(StateIncoming, false)
		m.session.SignalsReceived = 1
		m.held = []signaling.Signal{sig}
		m.holding = true
		callID := m.session.ID
		m.mu.Unlock()

		slog.Info("incoming call", "call_id", callID)
		m.publish(nil)
		return nil

	case m.holding:
		m.session.SignalsReceived++
		if sig.Type == signaling.KindOffer && m.state == StateIncoming {
			// The caller started over; its earlier offer and candidates
			// are obsolete.
			m.held = []signaling.Signal{sig}
		} else {
			m.held = append(m.held, sig)
		}
		m.mu.Unlock()
		return nil

	case m.mgr != nil:
		m.session.SignalsReceived++
		mgr := m.mgr
		m.mu.Unlock()
		return mgr.HandleSignal(ctx, sig)
	}

	state := m.state
	m.mu.Unlock()
	slog.Debug("signal dropped, no call to deliver it to", "kind", sig.Type, "state", state)
	return nil
}

// fail ends call gen because op failed and returns the error for the
// command that hit it.
func (m *Machine) fail(gen uint64, op string, err error) error {
	callErr := NewError(op, err)
	m.mu.Lock()
	callID := m.session.ID
	m.mu.Unlock()

	slog.Error("call failed", "call_id", callID, "op", op, "error", err)
	if !m.terminate(gen, callErr, true) {
		return NewError(op, ErrStaleCall)
	}
	return callErr
}

// terminate ends call gen: Ended, tear down, Idle. It reports false when
// gen is no longer the current active call.
func (m *Machine) terminate(gen uint64, reason error, bye bool) bool {
	m.mu.Lock()
	if m.gen != gen || !m.state.Active() {
		m.mu.Unlock()
		return false
	}

	// The peer only knows about the call once we have signalled it, or
	// when it called us.
	peerAware := !m.session.IsInitiator || m.session.SignalsSent > 0
	sendBye := bye && m.sendBye && peerAware

	m.setStateLocked(StateEnded)
	m.session.EndedAt = time.Now()
	m.session.EndReason = reason
	if sendBye {
		m.session.SignalsSent++
	}
	mgr := m.mgr
	m.mgr = nil
	m.held = nil
	m.holding = false
	m.gen++
	endGen := m.gen
	callID := m.session.ID
	m.mu.Unlock()

	slog.Info("call ended", "call_id", callID, "reason", reason)
	m.publish(reason)

	if sendBye {
		if err := m.transport.Send(signaling.NewBye()); err != nil {
			slog.Debug("bye not sent", "call_id", callID, "error", err)
		}
	}
	if mgr != nil {
		if err := mgr.Close(); err != nil {
			slog.Debug("peer connection close", "call_id", callID, "error", err)
		}
	}

	m.mu.Lock()
	if m.gen == endGen && m.state == StateEnded {
		m.state = StateIdle
	}
	m.mu.Unlock()

	m.publish(reason)
	return true
}

func (m *Machine) markLocalMedia(gen uint64) bool {
	m.mu.Lock()
	if m.gen != gen || !m.state.Active() {
		m.mu.Unlock()
		return false
	}
	m.session.LocalMediaActive = true
	m.mu.Unlock()

	m.publish(nil)
	return true
}

func (m *Machine) handlerFor(gen uint64) peer.Handler {
	return &sessionHandler{m: m, gen: gen}
}

// sessionHandler binds manager callbacks to one call. Callbacks from a
// call that has since ended are dropped.
type sessionHandler struct {
	m   *Machine
	gen uint64
}

func (h *sessionHandler) OnSignal(sig signaling.Signal) {
	m := h.m
	m.mu.Lock()
	if m.gen != h.gen {
		m.mu.Unlock()
		return
	}
	m.session.SignalsSent++
	m.mu.Unlock()

	if err := m.transport.Send(sig); err != nil {
		slog.Debug("signal not sent", "kind", sig.Type, "error", err)
	}
}

func (h *sessionHandler) OnRemoteStream(stream peer.RemoteStream) {
	m := h.m
	m.mu.Lock()
	if m.gen != h.gen || !m.state.Active() {
		m.mu.Unlock()
		return
	}
	m.session.RemoteMediaActive = len(stream.Tracks) > 0
	connected := false
	if m.session.RemoteMediaActive && (m.state == StateCalling || m.state == StateAnswering) {
		m.setStateLocked(StateConnected)
		m.session.ConnectedAt = time.Now()
		connected = true
	}
	callID := m.session.ID
	m.mu.Unlock()

	if connected {
		slog.Info("call connected", "call_id", callID, "audio", stream.HasAudio(), "video", stream.HasVideo())
	}
	m.publish(nil)
}

func (h *sessionHandler) OnConnectionStateChange(state webrtc.PeerConnectionState) {
	var reason error
	switch state {
	case webrtc.PeerConnectionStateFailed:
		reason = ErrConnectionFailed
	case webrtc.PeerConnectionStateDisconnected:
		reason = ErrConnectionDisconnected
	case webrtc.PeerConnectionStateClosed:
		reason = ErrConnectionClosed
	default:
		return
	}
	h.m.terminate(h.gen, reason, false)
}

func (h *sessionHandler) OnRemoteMediaState(state peer.MediaState) {
	m := h.m
	m.mu.Lock()
	if m.gen != h.gen {
		m.mu.Unlock()
		return
	}
	m.session.RemoteAudio = state.Audio
	m.session.RemoteVideo = state.Video
	m.mu.Unlock()

	m.publish(nil)
}

// IsMediaError reports whether err needs the user to act on device access.
func IsMediaError(err error) bool {
	return errors.Is(err, media.ErrMediaAccessDenied) || errors.Is(err, media.ErrMediaUnavailable)
}
