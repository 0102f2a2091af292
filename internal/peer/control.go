package peer

import (
	"github.com/vmihailenco/msgpack/v5"
)

const controlChannelLabel = "control"

// Control message types.
const (
	MessageTypeMediaState = "media_state"
)

// ControlMessage is a frame on the control data channel.
type ControlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// MediaState tells the other side whether our microphone and camera are on.
type MediaState struct {
	Audio bool `msgpack:"audio"`
	Video bool `msgpack:"video"`
}

// DecodePayload decodes the message payload into v.
func (m ControlMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewControlMessage wraps payload under type t.
func NewControlMessage(t string, payload any) (ControlMessage, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return ControlMessage{}, err
	}
	return ControlMessage{Type: t, Payload: b}, nil
}

func encodeMediaState(s MediaState) ([]byte, error) {
	msg, err := NewControlMessage(MessageTypeMediaState, s)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}
