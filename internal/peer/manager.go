// Package peer owns the WebRTC peer connection of one call: local media
// attachment, offer/answer exchange, trickled ICE candidates (buffered until
// a remote description exists), and the remote stream.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/media"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrNegotiationMismatch marks a description that does not fit the
	// negotiation in progress (an answer with no offer, glare). It is only
	// logged; HandleSignal absorbs it.
	ErrNegotiationMismatch = errors.New("negotiation mismatch")

	ErrOfferOutstanding = errors.New("local offer already outstanding")
	ErrClosed           = errors.New("peer connection closed")
)

// Handler receives the manager's events. Callbacks arrive on pion's
// goroutines and must not block for long.
type Handler interface {
	// OnSignal is called with negotiation data to send to the remote peer.
	OnSignal(sig signaling.Signal)

	// OnRemoteStream is called each time a remote track is added, with the
	// current snapshot, and again when the connection becomes connected.
	OnRemoteStream(stream RemoteStream)

	OnConnectionStateChange(state webrtc.PeerConnectionState)

	// OnRemoteMediaState reports the remote side muting or turning its
	// camera off.
	OnRemoteMediaState(state MediaState)
}

// Config is what the manager needs to build connections.
type Config struct {
	ICEServers         []webrtc.ICEServer
	ICETransportPolicy webrtc.ICETransportPolicy
	Constraints        media.Constraints
}

type Option func(*Manager)

// WithFactory replaces the pion connection factory.
func WithFactory(f Factory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithMediaSource sets where local media comes from.
func WithMediaSource(s media.Source) Option {
	return func(m *Manager) { m.source = s }
}

// Manager is the peer connection manager for a single call.
type Manager struct {
	cfg     Config
	handler Handler
	factory Factory
	source  media.Source

	mu               sync.Mutex
	pc               Connection
	local            *media.Stream
	offerOutstanding bool
	pending          []webrtc.ICECandidateInit
	audioEnabled     bool
	videoEnabled     bool

	ctrlMu  sync.Mutex
	control *webrtc.DataChannel

	// sigMu orders outbound signals. Local candidates wait in early until
	// the offer or answer has gone out.
	sigMu    sync.Mutex
	descSent bool
	early    []signaling.Signal

	remote remoteTracks
	closed atomic.Bool
}

// New creates a manager. No connection exists until the first CreateOffer
// or inbound offer.
func New(cfg Config, handler Handler, opts ...Option) *Manager {
	m := &Manager{
		cfg:          cfg,
		handler:      handler,
		factory:      NewPionFactory(),
		source:       media.DeviceSource{},
		audioEnabled: true,
		videoEnabled: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AcquireLocalMedia captures local audio/video. The error is
// media.ErrMediaAccessDenied or media.ErrMediaUnavailable; it is not retried.
func (m *Manager) AcquireLocalMedia(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	constraints := m.cfg.Constraints
	if !constraints.Audio && !constraints.Video {
		constraints = media.DefaultConstraints
	}

	stream, err := m.source.Acquire(ctx, constraints)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		stream.Stop()
		return ErrClosed
	}
	prev := m.local
	m.local = stream
	stream.SetAudioEnabled(m.audioEnabled)
	stream.SetVideoEnabled(m.videoEnabled)
	negotiating := m.pc != nil
	m.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	if negotiating {
		slog.Warn("local media acquired after negotiation started, tracks not attached")
	}
	return nil
}

// LocalStream returns the acquired local stream, or nil.
func (m *Manager) LocalStream() *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// CreateOffer creates the connection if needed, attaches local tracks,
// and emits an offer. Only the calling side uses it.
func (m *Manager) CreateOffer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.offerOutstanding {
		m.mu.Unlock()
		return ErrOfferOutstanding
	}
	if err := m.ensureConnectionLocked(true); err != nil {
		m.mu.Unlock()
		return err
	}

	if !m.hasControl() {
		dc, err := m.pc.CreateDataChannel(controlChannelLabel, nil)
		if err != nil {
			slog.Warn("control channel unavailable", "error", err)
		} else {
			m.attachControl(dc)
		}
	}

	offer, err := m.pc.CreateOffer(nil)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := m.pc.SetLocalDescription(offer); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("set local offer: %w", err)
	}
	m.offerOutstanding = true
	m.mu.Unlock()

	m.emitDescription(signaling.NewOffer(offer.SDP))
	return nil
}

// HandleSignal applies one inbound signal. Mismatched descriptions and
// failed candidates are logged and absorbed.
func (m *Manager) HandleSignal(ctx context.Context, sig signaling.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}
	if err := sig.Validate(); err != nil {
		return err
	}

	switch sig.Type {
	case signaling.KindOffer:
		desc := *sig.Offer
		desc.Type = webrtc.SDPTypeOffer
		return m.handleOffer(desc)

	case signaling.KindAnswer:
		desc := *sig.Answer
		desc.Type = webrtc.SDPTypeAnswer
		return m.handleAnswer(desc)

	case signaling.KindCandidate:
		return m.handleCandidate(*sig.Candidate)

	case signaling.KindBye:
		m.handler.OnConnectionStateChange(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

func (m *Manager) handleOffer(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.offerOutstanding {
		m.mu.Unlock()
		slog.Warn("remote offer ignored, local offer outstanding", "error", ErrNegotiationMismatch)
		return nil
	}
	if err := m.ensureConnectionLocked(false); err != nil {
		m.mu.Unlock()
		return err
	}

	if err := m.pc.SetRemoteDescription(desc); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("set remote offer: %w", err)
	}
	m.flushLocked()

	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("create answer: %w", err)
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("set local answer: %w", err)
	}
	m.mu.Unlock()

	m.emitDescription(signaling.NewAnswer(answer.SDP))
	return nil
}

func (m *Manager) handleAnswer(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil || !m.offerOutstanding {
		slog.Warn("answer without outstanding offer ignored", "error", ErrNegotiationMismatch)
		return nil
	}

	if err := m.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	m.offerOutstanding = false
	m.flushLocked()
	return nil
}

func (m *Manager) handleCandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil || m.pc.RemoteDescription() == nil {
		m.pending = append(m.pending, c)
		slog.Debug("ICE candidate buffered", "pending", len(m.pending))
		return nil
	}

	if err := m.pc.AddICECandidate(c); err != nil {
		slog.Warn("add ICE candidate failed", "error", err)
	}
	return nil
}

// flushLocked applies buffered candidates in arrival order.
func (m *Manager) flushLocked() {
	pending := m.pending
	m.pending = nil

	if len(pending) > 0 {
		slog.Debug("flushing buffered ICE candidates", "count", len(pending))
	}
	for _, c := range pending {
		if err := m.pc.AddICECandidate(c); err != nil {
			slog.Warn("add buffered ICE candidate failed", "error", err)
		}
	}
}

// ensureConnectionLocked builds the connection on first use and attaches
// the local tracks. The calling side also adds receive-only transceivers
// for kinds it does not send, so the offer still asks for them.
func (m *Manager) ensureConnectionLocked(initiator bool) error {
	if m.pc != nil {
		return nil
	}

	pc, err := m.factory(webrtc.Configuration{
		ICEServers:         m.cfg.ICEServers,
		ICETransportPolicy: m.cfg.ICETransportPolicy,
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	if m.local != nil {
		for _, t := range m.local.Tracks() {
			sender, err := pc.AddTrack(t.Local())
			if err != nil {
				pc.Close()
				return fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
			if sender != nil {
				go drainRTCP(sender)
			}
		}
	}

	if initiator {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if m.local != nil && m.local.HasKind(kind) {
				continue
			}
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				slog.Warn("add receive-only transceiver failed", "kind", kind, "error", err)
			}
		}
	}

	m.wire(pc)
	m.pc = pc
	return nil
}

// wire registers the connection callbacks.
func (m *Manager) wire(pc Connection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.emitCandidate(signaling.NewCandidate(c.ToJSON()))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go drainRemote(track)
		m.addRemoteTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if m.closed.Load() {
			return
		}
		slog.Debug("peer connection state", "state", state)

		if state == webrtc.PeerConnectionStateConnected {
			if snap := m.remote.snapshot(); len(snap.Tracks) > 0 {
				m.handler.OnRemoteStream(snap)
			}
		}
		m.handler.OnConnectionStateChange(state)
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != controlChannelLabel {
			slog.Debug("unexpected data channel", "label", dc.Label())
			return
		}
		m.attachControl(dc)
	})
}

func (m *Manager) addRemoteTrack(t RemoteTrack) {
	if m.closed.Load() {
		return
	}
	slog.Info("remote track added", "kind", t.Kind(), "id", t.ID())
	m.handler.OnRemoteStream(m.remote.add(t))
}

func (m *Manager) emit(sig signaling.Signal) {
	if m.closed.Load() {
		return
	}
	m.handler.OnSignal(sig)
}

// emitDescription sends an offer or answer, then any candidates gathered
// before it.
func (m *Manager) emitDescription(sig signaling.Signal) {
	m.sigMu.Lock()
	defer m.sigMu.Unlock()

	m.emit(sig)
	early := m.early
	m.early = nil
	m.descSent = true
	for _, c := range early {
		m.emit(c)
	}
}

func (m *Manager) emitCandidate(sig signaling.Signal) {
	m.sigMu.Lock()
	defer m.sigMu.Unlock()

	if !m.descSent {
		m.early = append(m.early, sig)
		return
	}
	m.emit(sig)
}

// SetAudioEnabled mutes or unmutes the local microphone. No renegotiation.
func (m *Manager) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	m.audioEnabled = enabled
	if m.local != nil {
		m.local.SetAudioEnabled(enabled)
	}
	state := m.mediaStateLocked()
	m.mu.Unlock()

	m.publishMediaState(state)
}

// SetVideoEnabled turns the local camera on or off. No renegotiation.
func (m *Manager) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	m.videoEnabled = enabled
	if m.local != nil {
		m.local.SetVideoEnabled(enabled)
	}
	state := m.mediaStateLocked()
	m.mu.Unlock()

	m.publishMediaState(state)
}

func (m *Manager) mediaStateLocked() MediaState {
	if m.local == nil {
		return MediaState{}
	}
	return MediaState{
		Audio: m.audioEnabled && m.local.HasKind(webrtc.RTPCodecTypeAudio),
		Video: m.videoEnabled && m.local.HasKind(webrtc.RTPCodecTypeVideo),
	}
}

func (m *Manager) hasControl() bool {
	m.ctrlMu.Lock()
	defer m.ctrlMu.Unlock()
	return m.control != nil
}

func (m *Manager) attachControl(dc *webrtc.DataChannel) {
	m.ctrlMu.Lock()
	m.control = dc
	m.ctrlMu.Unlock()

	dc.OnOpen(func() {
		m.mu.Lock()
		state := m.mediaStateLocked()
		m.mu.Unlock()
		m.publishMediaState(state)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m.handleControl(msg.Data)
	})
}

func (m *Manager) handleControl(data []byte) {
	var msg ControlMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		slog.Warn("malformed control message", "error", err)
		return
	}

	switch msg.Type {
	case MessageTypeMediaState:
		var state MediaState
		if err := msg.DecodePayload(&state); err != nil {
			slog.Warn("malformed media state", "error", err)
			return
		}
		if !m.closed.Load() {
			m.handler.OnRemoteMediaState(state)
		}
	default:
		slog.Debug("control message ignored", "type", msg.Type)
	}
}

func (m *Manager) publishMediaState(state MediaState) {
	m.ctrlMu.Lock()
	dc := m.control
	m.ctrlMu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}

	data, err := encodeMediaState(state)
	if err != nil {
		slog.Warn("encode media state failed", "error", err)
		return
	}
	if err := dc.Send(data); err != nil {
		slog.Debug("send media state failed", "error", err)
	}
}

// Close tears down the connection, stops local media and forgets the
// remote stream and buffered candidates. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return nil
	}
	m.closed.Store(true)

	pc := m.pc
	local := m.local
	m.pc = nil
	m.local = nil
	m.pending = nil
	m.offerOutstanding = false
	m.mu.Unlock()

	m.sigMu.Lock()
	m.early = nil
	m.sigMu.Unlock()

	m.ctrlMu.Lock()
	dc := m.control
	m.control = nil
	m.ctrlMu.Unlock()

	if dc != nil {
		dc.Close()
	}

	var err error
	if pc != nil {
		err = pc.Close()
	}
	if local != nil {
		local.Stop()
	}
	m.remote.reset()

	slog.Debug("peer connection manager closed")
	return err
}

// drainRemote reads the remote track so RTCP feedback keeps flowing.
// Rendering is the UI's business, not the manager's.
func drainRemote(track *webrtc.TrackRemote) {
	var stats rtpStats
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			slog.Debug("remote track ended", "kind", track.Kind(), "packets", stats.packets, "lost", stats.lost)
			return
		}
		stats.observe(pkt)
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
