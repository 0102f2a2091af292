package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Envelope is the relay frame. WebRTC payloads travel as
// {"type":"WEBRTC_SIGNAL","payload":<Signal>}; the backend also pushes
// location and assessment-status frames on the same socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Envelope type constants.
const (
	MessageTypeWebRTCSignal   = "WEBRTC_SIGNAL"
	MessageTypeLocationUpdate = "LOCATION_UPDATE"
)

// Kind identifies the signaling payload variant.
type Kind string

// Signal kinds, matching the browser client's payload "type" field.
const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindBye       Kind = "bye"
)

var ErrInvalidSignal = errors.New("invalid signal")

// Signal is one unit of negotiation data exchanged with the remote peer.
// The shape mirrors what the browser app sends:
//
//	{"type":"offer","offer":{"type":"offer","sdp":"..."}}
//	{"type":"answer","answer":{"type":"answer","sdp":"..."}}
//	{"type":"candidate","candidate":{"candidate":"...","sdpMid":"0","sdpMLineIndex":0}}
type Signal struct {
	Type      Kind                       `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// NewOffer wraps an SDP offer.
func NewOffer(sdp string) Signal {
	return Signal{Type: KindOffer, Offer: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}}
}

// NewAnswer wraps an SDP answer.
func NewAnswer(sdp string) Signal {
	return Signal{Type: KindAnswer, Answer: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}}
}

// NewCandidate wraps a trickled ICE candidate.
func NewCandidate(c webrtc.ICECandidateInit) Signal {
	return Signal{Type: KindCandidate, Candidate: &c}
}

// NewBye announces a hang-up.
func NewBye() Signal {
	return Signal{Type: KindBye}
}

// Description returns the session description carried by an offer or answer.
func (s Signal) Description() *webrtc.SessionDescription {
	switch s.Type {
	case KindOffer:
		return s.Offer
	case KindAnswer:
		return s.Answer
	}
	return nil
}

// Validate checks that the body required by the signal's kind is present.
func (s Signal) Validate() error {
	switch s.Type {
	case KindOffer:
		if s.Offer == nil || s.Offer.SDP == "" {
			return fmt.Errorf("%w: offer without sdp", ErrInvalidSignal)
		}
	case KindAnswer:
		if s.Answer == nil || s.Answer.SDP == "" {
			return fmt.Errorf("%w: answer without sdp", ErrInvalidSignal)
		}
	case KindCandidate:
		if s.Candidate == nil {
			return fmt.Errorf("%w: candidate without body", ErrInvalidSignal)
		}
	case KindBye:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSignal, s.Type)
	}
	return nil
}

// DecodeSignal parses and validates a WEBRTC_SIGNAL payload.
func DecodeSignal(payload []byte) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if err := sig.Validate(); err != nil {
		return Signal{}, err
	}
	return sig, nil
}

// EncodeSignal wraps sig in a WEBRTC_SIGNAL envelope ready for the wire.
func EncodeSignal(sig Signal) ([]byte, error) {
	payload, err := json.Marshal(sig)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: MessageTypeWebRTCSignal, Payload: payload})
}
