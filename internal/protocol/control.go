package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ControlType tags a control message on the reliable control channel.
type ControlType uint8

const (
	ControlError ControlType = iota
	ControlNewPeer
	ControlStateInitialization
	ControlDisconnectedPeer
	ControlPeerConnection
)

func (t ControlType) String() string {
	switch t {
	case ControlError:
		return "error"
	case ControlNewPeer:
		return "new-peer"
	case ControlStateInitialization:
		return "state-initialization"
	case ControlDisconnectedPeer:
		return "disconnected-peer"
	case ControlPeerConnection:
		return "peer-connection"
	}
	return fmt.Sprintf("control(%d)", uint8(t))
}

// ErrorCode classifies an Error control message.
type ErrorCode uint8

const (
	ErrorUnknown ErrorCode = iota
	ErrorRoomFull
)

// Control is the envelope of every control-channel message.
type Control struct {
	Type    ControlType        `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// PeerInfo names one admitted peer and its slot.
type PeerInfo struct {
	Slot uint8  `msgpack:"slot"`
	Name string `msgpack:"name"`
}

// PeerConnection is the first message a joining peer sends to the host.
type PeerConnection struct {
	Name string `msgpack:"name"`
}

// NewPeer announces a freshly admitted peer to the rest of the room.
type NewPeer struct {
	Slot uint8  `msgpack:"slot"`
	Name string `msgpack:"name"`
}

// StateInitialization tells an admitted peer its slot and who else is in
// the room.
type StateInitialization struct {
	Slot   uint8      `msgpack:"slot"`
	Roster []PeerInfo `msgpack:"roster"`
}

// DisconnectedPeer announces that the peer in Slot left.
type DisconnectedPeer struct {
	Slot uint8 `msgpack:"slot"`
}

// Error reports a refusal from the host.
type Error struct {
	Code    ErrorCode `msgpack:"code"`
	Message string    `msgpack:"message"`
}

// controlTypeOf maps a payload value to its tag.
func controlTypeOf(payload any) (ControlType, error) {
	switch payload.(type) {
	case *Error, Error:
		return ControlError, nil
	case *NewPeer, NewPeer:
		return ControlNewPeer, nil
	case *StateInitialization, StateInitialization:
		return ControlStateInitialization, nil
	case *DisconnectedPeer, DisconnectedPeer:
		return ControlDisconnectedPeer, nil
	case *PeerConnection, PeerConnection:
		return ControlPeerConnection, nil
	}
	return 0, fmt.Errorf("unsupported control payload %T", payload)
}

// EncodeControl wraps payload in a Control envelope and serializes it.
func EncodeControl(payload any) ([]byte, error) {
	t, err := controlTypeOf(payload)
	if err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return msgpack.Marshal(&Control{Type: t, Payload: b})
}

// DecodeControl parses a control message and returns its typed payload
// (one of *Error, *NewPeer, *StateInitialization, *DisconnectedPeer,
// *PeerConnection).
func DecodeControl(data []byte) (any, error) {
	var env Control
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode control envelope: %w", err)
	}

	var v any
	switch env.Type {
	case ControlError:
		v = &Error{}
	case ControlNewPeer:
		v = &NewPeer{}
	case ControlStateInitialization:
		v = &StateInitialization{}
	case ControlDisconnectedPeer:
		v = &DisconnectedPeer{}
	case ControlPeerConnection:
		v = &PeerConnection{}
	default:
		return nil, fmt.Errorf("unknown control type %d", env.Type)
	}

	if err := msgpack.Unmarshal(env.Payload, v); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return v, nil
}
