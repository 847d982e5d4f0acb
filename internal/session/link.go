package session

import (
	"context"
	"time"

	"github.com/1ureka/vcollab/internal/transport"
)

// Link is one direct connection to a remote peer.
type Link interface {
	ID() string
	Send(ch transport.Channel, data []byte) bool
	Close() error
}

// PendingLink is an offering link waiting for the remote side's answer.
type PendingLink interface {
	Link
	SetAnswer(sdp string) error
}

// Connector creates links. Events of the created links are reported to the
// given handler.
type Connector interface {
	Offer(ctx context.Context, h transport.Handler) (PendingLink, string, error)
	Answer(ctx context.Context, offerSDP string, h transport.Handler) (Link, string, error)
}

// WebRTC adapts a transport.Dialer to a Connector.
func WebRTC(d *transport.Dialer) Connector {
	return webrtcConnector{dialer: d}
}

type webrtcConnector struct {
	dialer *transport.Dialer
}

func (c webrtcConnector) Offer(ctx context.Context, h transport.Handler) (PendingLink, string, error) {
	l, sdp, err := c.dialer.Offer(ctx, h)
	if err != nil {
		return nil, "", err
	}
	return l, sdp, nil
}

func (c webrtcConnector) Answer(ctx context.Context, offerSDP string, h transport.Handler) (Link, string, error) {
	l, sdp, err := c.dialer.Answer(ctx, offerSDP, h)
	if err != nil {
		return nil, "", err
	}
	return l, sdp, nil
}

// member is a link known to the endpoint, and the slot of the peer behind
// it once admitted.
type member struct {
	link   Link
	name   string
	slot   int // -1 until admitted
	opened bool
	since  time.Time
}

func (m *member) admitted() bool { return m.slot >= 0 }

// shortID abbreviates a link id for logs.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
