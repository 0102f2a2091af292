package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/media"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/peer"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/signaling"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/signalqueue"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	mu           sync.Mutex
	handler      peer.Handler
	mediaErr     error
	gate         chan struct{}
	entered      chan struct{}
	handled      []signaling.Signal
	offers       int
	closed       int
	audioEnabled bool
	videoEnabled bool
}

func (f *fakeManager) AcquireLocalMedia(context.Context) error {
	if f.entered != nil {
		close(f.entered)
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.mediaErr
}

func (f *fakeManager) CreateOffer(context.Context) error {
	f.mu.Lock()
	f.offers++
	f.mu.Unlock()
	f.handler.OnSignal(signaling.NewOffer("X"))
	return nil
}

func (f *fakeManager) HandleSignal(_ context.Context, sig signaling.Signal) error {
	f.mu.Lock()
	f.handled = append(f.handled, sig)
	f.mu.Unlock()
	if sig.Type == signaling.KindOffer {
		f.handler.OnSignal(signaling.NewAnswer("Y"))
	}
	return nil
}

func (f *fakeManager) SetAudioEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioEnabled = enabled
}

func (f *fakeManager) SetVideoEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoEnabled = enabled
}

func (f *fakeManager) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeManager) handledKinds() []signaling.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]signaling.Kind, len(f.handled))
	for i, s := range f.handled {
		out[i] = s.Type
	}
	return out
}

func (f *fakeManager) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeFactory struct {
	mu       sync.Mutex
	managers []*fakeManager
	mediaErr error
	gate     chan struct{}
	entered  chan struct{}
}

func (f *fakeFactory) build(h peer.Handler) (PeerManager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mgr := &fakeManager{
		handler:      h,
		mediaErr:     f.mediaErr,
		gate:         f.gate,
		entered:      f.entered,
		audioEnabled: true,
		videoEnabled: true,
	}
	f.entered = nil
	f.managers = append(f.managers, mgr)
	return mgr, nil
}

func (f *fakeFactory) last() *fakeManager {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.managers) == 0 {
		return nil
	}
	return f.managers[len(f.managers)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.managers)
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []signaling.Signal
}

func (r *recordingTransport) Send(sig signaling.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sig)
	return nil
}

func (r *recordingTransport) kinds() []signaling.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signaling.Kind, len(r.sent))
	for i, s := range r.sent {
		out[i] = s.Type
	}
	return out
}

type fakeTrack struct {
	kind webrtc.RTPCodecType
}

func (f fakeTrack) ID() string                { return f.kind.String() }
func (f fakeTrack) StreamID() string          { return "remote" }
func (f fakeTrack) Kind() webrtc.RTPCodecType { return f.kind }

func remoteAV() peer.RemoteStream {
	return peer.RemoteStream{Tracks: []peer.RemoteTrack{
		fakeTrack{kind: webrtc.RTPCodecTypeAudio},
		fakeTrack{kind: webrtc.RTPCodecTypeVideo},
	}}
}

func candidate(s string) signaling.Signal {
	return signaling.NewCandidate(webrtc.ICECandidateInit{Candidate: s})
}

func newTestMachine(opts ...Option) (*Machine, *fakeFactory, *recordingTransport) {
	factory := &fakeFactory{}
	transport := &recordingTransport{}
	return NewMachine(transport, factory.build, opts...), factory, transport
}

func TestInitiatorScenario(t *testing.T) {
	ctx := context.Background()
	m, factory, transport := newTestMachine()

	require.NoError(t, m.StartCall(ctx))
	assert.Equal(t, StateCalling, m.State())
	assert.Equal(t, []signaling.Kind{signaling.KindOffer}, transport.kinds())

	mgr := factory.last()
	require.NoError(t, m.RouteSignal(ctx, signaling.NewAnswer("Y")))
	assert.Equal(t, []signaling.Kind{signaling.KindAnswer}, mgr.handledKinds())

	// Negotiation alone does not make the call connected.
	assert.Equal(t, StateCalling, m.State())

	mgr.handler.OnConnectionStateChange(webrtc.PeerConnectionStateConnecting)
	assert.Equal(t, StateCalling, m.State())

	mgr.handler.OnRemoteStream(remoteAV())
	assert.Equal(t, StateConnected, m.State())

	s := m.Session()
	assert.True(t, s.IsInitiator)
	assert.True(t, s.LocalMediaActive)
	assert.True(t, s.RemoteMediaActive)
	assert.False(t, s.ConnectedAt.IsZero())
	assert.Equal(t, 1, s.SignalsSent)
	assert.Equal(t, 1, s.SignalsReceived)
	assert.Equal(t, "caller", s.Role())
}

func TestEmptyRemoteStreamDoesNotConnect(t *testing.T) {
	m, factory, _ := newTestMachine()
	require.NoError(t, m.StartCall(context.Background()))

	factory.last().handler.OnRemoteStream(peer.RemoteStream{})
	assert.Equal(t, StateCalling, m.State())
}

func TestCalleeScenarioThroughQueue(t *testing.T) {
	ctx := context.Background()
	m, factory, transport := newTestMachine()

	q := signalqueue.New()
	p := signalqueue.NewProcessor(q, m)

	q.Append(signaling.NewOffer("X"))
	q.Append(candidate("c1"))
	q.Append(candidate("c2"))
	require.Equal(t, 3, p.Process(ctx))

	assert.Equal(t, StateIncoming, m.State())
	assert.Zero(t, factory.count(), "no media or connection before accept")

	require.NoError(t, m.AcceptIncomingCall(ctx))
	mgr := factory.last()
	assert.Equal(t, []signaling.Kind{signaling.KindOffer, signaling.KindCandidate, signaling.KindCandidate}, mgr.handledKinds())
	assert.Equal(t, "c1", mgr.handled[1].Candidate.Candidate)
	assert.Equal(t, "c2", mgr.handled[2].Candidate.Candidate)
	assert.Equal(t, []signaling.Kind{signaling.KindAnswer}, transport.kinds())
	assert.Equal(t, StateAnswering, m.State())

	q.Append(candidate("c3"))
	require.Equal(t, 1, p.Process(ctx))
	assert.Len(t, mgr.handledKinds(), 4)

	mgr.handler.OnRemoteStream(remoteAV())
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 4, m.Session().SignalsReceived)
	assert.Equal(t, "callee", m.Session().Role())
}

func TestNewOfferReplacesRetainedOne(t *testing.T) {
	ctx := context.Background()
	m, factory, _ := newTestMachine()

	require.NoError(t, m.RouteSignal(ctx, signaling.NewOffer("first")))
	require.NoError(t, m.RouteSignal(ctx, candidate("old")))
	require.NoError(t, m.RouteSignal(ctx, signaling.NewOffer("second")))
	require.NoError(t, m.RouteSignal(ctx, candidate("new")))

	require.NoError(t, m.AcceptIncomingCall(ctx))
	mgr := factory.last()
	require.Len(t, mgr.handled, 2)
	assert.Equal(t, "second", mgr.handled[0].Offer.SDP)
	assert.Equal(t, "new", mgr.handled[1].Candidate.Candidate)
}

func TestSignalWithoutCallDropped(t *testing.T) {
	m, factory, _ := newTestMachine()

	require.NoError(t, m.RouteSignal(context.Background(), candidate("stray")))
	require.NoError(t, m.RouteSignal(context.Background(), signaling.NewAnswer("stray")))
	assert.Equal(t, StateIdle, m.State())
	assert.Zero(t, factory.count())
}

func TestMediaDeniedEndsCallWithoutBye(t *testing.T) {
	m, factory, transport := newTestMachine()
	factory.mediaErr = media.ErrMediaAccessDenied

	events, stop := m.Subscribe()
	defer stop()

	err := m.StartCall(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrMediaAccessDenied)
	assert.True(t, IsMediaError(err))

	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, StateEnded, m.Session().State)
	assert.Equal(t, 1, factory.last().closeCount())
	assert.Empty(t, transport.kinds(), "the peer never heard of this call")

	var sawErr bool
	for len(events) > 0 {
		if ev := <-events; ev.Err != nil && IsMediaError(ev.Err) {
			sawErr = true
		}
	}
	assert.True(t, sawErr)
}

func TestMediaUnavailableOnAcceptSendsBye(t *testing.T) {
	ctx := context.Background()
	m, factory, transport := newTestMachine()
	factory.mediaErr = media.ErrMediaUnavailable

	require.NoError(t, m.RouteSignal(ctx, signaling.NewOffer("X")))
	err := m.AcceptIncomingCall(ctx)
	assert.ErrorIs(t, err, media.ErrMediaUnavailable)

	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, factory.last().handledKinds())
	assert.Equal(t, []signaling.Kind{signaling.KindBye}, transport.kinds())
}

func TestEndCallSendsByeAndCleansUp(t *testing.T) {
	m, factory, transport := newTestMachine()
	require.NoError(t, m.StartCall(context.Background()))
	mgr := factory.last()

	m.EndCall()
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, mgr.closeCount())
	assert.Equal(t, []signaling.Kind{signaling.KindOffer, signaling.KindBye}, transport.kinds())
	assert.ErrorIs(t, m.Session().EndReason, ErrHangUp)

	m.EndCall()
	assert.Equal(t, 1, mgr.closeCount())
	assert.Len(t, transport.kinds(), 2)
}

func TestEndCallWithoutBye(t *testing.T) {
	m, _, transport := newTestMachine(WithBye(false))
	require.NoError(t, m.StartCall(context.Background()))

	m.EndCall()
	assert.Equal(t, []signaling.Kind{signaling.KindOffer}, transport.kinds())
}

func TestRemoteByeEndsCallWithoutEcho(t *testing.T) {
	ctx := context.Background()
	m, factory, transport := newTestMachine()
	require.NoError(t, m.StartCall(ctx))

	require.NoError(t, m.RouteSignal(ctx, signaling.NewBye()))
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, factory.last().closeCount())
	assert.Equal(t, []signaling.Kind{signaling.KindOffer}, transport.kinds())
	assert.ErrorIs(t, m.Session().EndReason, ErrRemoteHangUp)

	// A bye with nothing to end is ignored.
	require.NoError(t, m.RouteSignal(ctx, signaling.NewBye()))
	assert.Equal(t, StateIdle, m.State())
}

func TestRejectIncomingCall(t *testing.T) {
	ctx := context.Background()
	m, factory, transport := newTestMachine()

	assert.ErrorIs(t, m.RejectIncomingCall(), ErrInvalidState)

	require.NoError(t, m.RouteSignal(ctx, signaling.NewOffer("X")))
	require.NoError(t, m.RejectIncomingCall())
	assert.Equal(t, StateIdle, m.State())
	assert.Zero(t, factory.count())
	assert.Equal(t, []signaling.Kind{signaling.KindBye}, transport.kinds())
	assert.ErrorIs(t, m.AcceptIncomingCall(ctx), ErrInvalidState)
}

func TestConnectionLossEndsCall(t *testing.T) {
	cases := []struct {
		state  webrtc.PeerConnectionState
		reason error
	}{
		{webrtc.PeerConnectionStateFailed, ErrConnectionFailed},
		{webrtc.PeerConnectionStateDisconnected, ErrConnectionDisconnected},
		{webrtc.PeerConnectionStateClosed, ErrConnectionClosed},
	}

	for _, tc := range cases {
		t.Run(tc.state.String(), func(t *testing.T) {
			m, factory, transport := newTestMachine()
			require.NoError(t, m.StartCall(context.Background()))
			mgr := factory.last()
			mgr.handler.OnRemoteStream(remoteAV())

			mgr.handler.OnConnectionStateChange(tc.state)
			assert.Equal(t, StateIdle, m.State())
			assert.ErrorIs(t, m.Session().EndReason, tc.reason)
			assert.Equal(t, 1, mgr.closeCount())
			assert.Equal(t, []signaling.Kind{signaling.KindOffer}, transport.kinds())
		})
	}
}

func TestCloseDuringMediaAcquisitionIsStale(t *testing.T) {
	m, factory, transport := newTestMachine()
	factory.gate = make(chan struct{})
	factory.entered = make(chan struct{})
	entered := factory.entered

	result := make(chan error, 1)
	go func() { result <- m.StartCall(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("media acquisition never started")
	}

	m.Close()
	m.Close()
	assert.Equal(t, StateIdle, m.State())
	close(factory.gate)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrStaleCall)
	case <-time.After(2 * time.Second):
		t.Fatal("StartCall did not return")
	}

	old := factory.last()
	assert.Equal(t, 1, old.closeCount())
	assert.Zero(t, old.offers)

	// Late callbacks from the dismissed call change nothing.
	old.handler.OnSignal(candidate("late"))
	old.handler.OnRemoteStream(remoteAV())
	assert.Empty(t, transport.kinds())
	assert.Equal(t, StateIdle, m.State())
}

func TestAtMostOneManager(t *testing.T) {
	ctx := context.Background()
	m, factory, _ := newTestMachine()

	require.NoError(t, m.StartCall(ctx))
	first := factory.last()
	firstID := m.Session().ID

	// A second call while the first is active replaces it.
	require.NoError(t, m.StartCall(ctx))
	assert.Equal(t, 2, factory.count())
	assert.Equal(t, 1, first.closeCount())
	assert.Zero(t, factory.last().closeCount())
	assert.Equal(t, StateCalling, m.State())
	assert.NotEqual(t, firstID, m.Session().ID)

	// The first call's handler is dead even though its gen was once valid.
	first.handler.OnConnectionStateChange(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, StateCalling, m.State())

	second := factory.last()
	m.EndCall()
	require.NoError(t, m.StartCall(ctx))
	assert.Equal(t, 3, factory.count())
	assert.Equal(t, 1, second.closeCount())
}

func TestStartCallSupersedesActiveCall(t *testing.T) {
	ctx := context.Background()
	m, factory, transport := newTestMachine()
	events, stop := m.Subscribe()
	defer stop()

	require.NoError(t, m.StartCall(ctx))
	first := factory.last()

	require.NoError(t, m.StartCall(ctx))
	assert.Equal(t, 1, first.closeCount())

	// The replaced call sent an offer, so the peer is told it is over.
	assert.Contains(t, transport.kinds(), signaling.KindBye)

	var superseded bool
	for len(events) > 0 {
		ev := <-events
		if ev.State == StateEnded && errors.Is(ev.Err, ErrSuperseded) {
			superseded = true
		}
	}
	assert.True(t, superseded)
}

func TestToggleMuteAndVideo(t *testing.T) {
	ctx := context.Background()
	m, factory, _ := newTestMachine()

	_, err := m.ToggleMute()
	assert.ErrorIs(t, err, ErrInvalidState)

	// Toggled before accepting: applied once the manager exists.
	require.NoError(t, m.RouteSignal(ctx, signaling.NewOffer("X")))
	muted, err := m.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)

	require.NoError(t, m.AcceptIncomingCall(ctx))
	mgr := factory.last()
	assert.False(t, mgr.audioEnabled)

	off, err := m.ToggleVideo()
	require.NoError(t, err)
	assert.True(t, off)
	assert.False(t, mgr.videoEnabled)

	muted, err = m.ToggleMute()
	require.NoError(t, err)
	assert.False(t, muted)
	assert.True(t, mgr.audioEnabled)
	assert.True(t, m.Session().VideoOff)
}

func TestRemoteMediaState(t *testing.T) {
	m, factory, _ := newTestMachine()
	require.NoError(t, m.StartCall(context.Background()))

	factory.last().handler.OnRemoteMediaState(peer.MediaState{Audio: false, Video: true})
	s := m.Session()
	assert.False(t, s.RemoteAudio)
	assert.True(t, s.RemoteVideo)
}

func TestSubscribeSeesTransitions(t *testing.T) {
	m, factory, _ := newTestMachine()
	events, stop := m.Subscribe()

	require.NoError(t, m.StartCall(context.Background()))
	factory.last().handler.OnRemoteStream(remoteAV())
	m.EndCall()
	stop()
	stop()

	var states []State
	for len(events) > 0 {
		states = append(states, (<-events).State)
	}
	assert.Contains(t, states, StateCalling)
	assert.Contains(t, states, StateConnected)
	assert.Contains(t, states, StateEnded)
	assert.Equal(t, StateIdle, states[len(states)-1])
}

func TestErrorFormatting(t *testing.T) {
	err := WrapError("start call", ErrInvalidState, "CALLING")
	assert.Equal(t, "start call: invalid call state (CALLING)", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, "accept call: call ended while operation was in flight", NewError("accept call", ErrStaleCall).Error())
}
