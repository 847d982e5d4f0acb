package protocol

import (
	"encoding/json"
	"fmt"
)

// RendezvousType identifies a rendezvous message.
type RendezvousType string

const (
	// RendezvousRequest is sent by hosts (announce / keep-alive) and by
	// joining peers (introduction request).
	RendezvousRequest RendezvousType = "request"
	// RendezvousIntroduce is sent by the registry to a host when a peer
	// asks to join its room.
	RendezvousIntroduce RendezvousType = "introduce"
	// RendezvousAnswer is the host's reply to an introduction.
	RendezvousAnswer RendezvousType = "answer"
	// RendezvousIntroduced is sent by the registry to the joining peer once
	// the host answered.
	RendezvousIntroduced RendezvousType = "introduced"
)

// Introduction names both sides of a NAT introduction.
type Introduction struct {
	HostName   string `json:"hostName"`
	ClientName string `json:"clientName,omitempty"`
}

// RendezvousMessage is the JSON body exchanged with the rendezvous service,
// one per UDP datagram or WebSocket text frame.
type RendezvousMessage struct {
	Type      RendezvousType `json:"type"`
	IsHost    bool           `json:"isHost"`
	Name      string         `json:"name,omitempty"`
	RoomToken string         `json:"roomToken,omitempty"`
	LocalAddr string         `json:"localAddr,omitempty"`

	IntroID      string        `json:"introId,omitempty"`
	Introduction *Introduction `json:"introduction,omitempty"`
	SDP          string        `json:"sdp,omitempty"`
}

// MaxRendezvousSize bounds one rendezvous message (an SDP with gathered
// candidates is a few KiB).
const MaxRendezvousSize = 64 * 1024

// EncodeRendezvous serializes msg.
func EncodeRendezvous(msg *RendezvousMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeRendezvous parses and sanity-checks a rendezvous message.
func DecodeRendezvous(data []byte) (*RendezvousMessage, error) {
	if len(data) > MaxRendezvousSize {
		return nil, fmt.Errorf("rendezvous message too long: %d bytes (max %d)", len(data), MaxRendezvousSize)
	}
	var msg RendezvousMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode rendezvous message: %w", err)
	}
	switch msg.Type {
	case RendezvousRequest, RendezvousAnswer:
		if msg.RoomToken == "" {
			return nil, fmt.Errorf("%s message without roomToken", msg.Type)
		}
	case RendezvousIntroduce, RendezvousIntroduced:
		if msg.IntroID == "" || msg.Introduction == nil {
			return nil, fmt.Errorf("%s message without introduction", msg.Type)
		}
	case "":
		return nil, fmt.Errorf("rendezvous message without type")
	}
	return &msg, nil
}
