package peer

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// ICE timeouts. A short network blip should not end a clinical call, but a
// dead path has to surface as disconnected/failed reasonably fast.
const (
	iceDisconnectedTimeout = 10 * time.Second
	iceFailedTimeout       = 30 * time.Second
	iceKeepaliveInterval   = 2 * time.Second
)

// Connection is the part of *webrtc.PeerConnection the manager drives.
type Connection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	CreateDataChannel(label string, options *webrtc.DataChannelInit) (*webrtc.DataChannel, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnDataChannel(f func(*webrtc.DataChannel))
	Close() error
}

// Factory builds a connection for the given configuration.
type Factory func(cfg webrtc.Configuration) (Connection, error)

// NewPionFactory returns a factory backed by a pion API with the default
// codecs (VP8, Opus, ...) and interceptors (NACK, RTCP reports, TWCC).
func NewPionFactory() Factory {
	return func(cfg webrtc.Configuration) (Connection, error) {
		api, err := newAPI()
		if err != nil {
			return nil, err
		}

		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		return pc, nil
	}
}

func newAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}
