package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used for ICE candidate gathering when no servers
// are configured. No TURN: frames travel directly between peers.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Channel selects one of a link's DataChannels.
type Channel uint8

const (
	// ChannelControl carries control messages, ordered and reliable.
	ChannelControl Channel = iota
	// ChannelMeta carries frame metadata records, unordered but reliable.
	ChannelMeta
	// ChannelData carries frame chunks, unordered with no retransmission.
	ChannelData

	channelCount = 3
)

func (c Channel) String() string {
	switch c {
	case ChannelControl:
		return "control"
	case ChannelMeta:
		return "meta"
	case ChannelData:
		return "data"
	}
	return fmt.Sprintf("channel(%d)", uint8(c))
}

// newPeerConnection creates a PeerConnection using the configured STUN
// servers.
func newPeerConnection(opts Options) (*webrtc.PeerConnection, error) {
	servers := opts.STUNServers
	if servers == nil {
		servers = DefaultSTUNServers
	}

	config := webrtc.Configuration{}
	if len(servers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}

	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	return api.NewPeerConnection(config)
}

// newDataChannels creates the three pre-negotiated DataChannels of a link.
// Negotiated mode lets both sides create them independently with fixed IDs,
// without relying on OnDataChannel.
func newDataChannels(pc *webrtc.PeerConnection) ([channelCount]*webrtc.DataChannel, error) {
	var dcs [channelCount]*webrtc.DataChannel

	negotiated := true
	unordered := false
	noRetransmits := uint16(0)

	inits := [channelCount]webrtc.DataChannelInit{
		ChannelControl: {},
		ChannelMeta:    {Ordered: &unordered},
		ChannelData:    {Ordered: &unordered, MaxRetransmits: &noRetransmits},
	}

	for ch := range Channel(channelCount) {
		dcInit := inits[ch]
		id := uint16(ch)
		dcInit.Negotiated = &negotiated
		dcInit.ID = &id

		dc, err := pc.CreateDataChannel(ch.String(), &dcInit)
		if err != nil {
			return dcs, fmt.Errorf("failed to create %s channel: %w", ch, err)
		}
		dcs[ch] = dc
	}
	return dcs, nil
}
