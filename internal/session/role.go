package session

import (
	"time"

	"github.com/1ureka/vcollab/internal/protocol"
	"github.com/1ureka/vcollab/internal/transport"
)

// role is the part of the session that differs between the host and a
// peer. Every method runs on the event loop; a non-nil error ends the
// session.
type role interface {
	// start performs the rendezvous step before the loop starts.
	start(e *Endpoint) error
	tick(e *Endpoint, now time.Time) error

	onRendezvous(e *Endpoint, msg *protocol.RendezvousMessage) error
	onAnswered(e *Endpoint, a *answered) error
	onLinkOpen(e *Endpoint, m *member) error
	onLinkClosed(e *Endpoint, m *member) error
	onControlMessage(e *Endpoint, m *member, msg any) error

	// admit assigns a slot to the peer behind m.
	admit(e *Endpoint, m *member, name string) error
	// accepts reports whether frame data for slot may arrive over m.
	accepts(e *Endpoint, from *member, slot uint8) bool
	// forward relays frame data received over from to the other links.
	forward(e *Endpoint, from *member, ch transport.Channel, data []byte)
	// outbound returns the slot local frames are sent under and the links
	// they go to. ok is false while the endpoint has no slot yet.
	outbound(e *Endpoint) (slot uint8, targets []*member, ok bool)
}

// dropMember forgets m and closes its link in the background. The close
// event that follows is ignored.
func (e *Endpoint) dropMember(m *member) error {
	delete(e.members, m.link.ID())
	go m.link.Close()
	return e.role.onLinkClosed(e, m)
}
