package session

import (
	"fmt"
	"time"

	"github.com/1ureka/vcollab/internal/protocol"
	"github.com/1ureka/vcollab/internal/transport"
	"github.com/1ureka/vcollab/internal/util"
)

// spokeRole is a joining peer. Its only link goes to the host, which sits
// in slot 0 and relays everybody else's frames.
type spokeRole struct {
	pending PendingLink
	host    *member
}

// start creates the offering link and asks the rendezvous service for an
// introduction to the host.
func (s *spokeRole) start(e *Endpoint) error {
	link, offer, err := e.opts.Connector.Offer(e.ctx, e)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	s.pending = link
	s.host = e.addMember(link, 0, "")

	err = e.rdv.Send(&protocol.RendezvousMessage{
		Type:      protocol.RendezvousRequest,
		Name:      e.name,
		RoomToken: e.token,
		LocalAddr: e.rdv.LocalAddr(),
		SDP:       offer,
	})
	if err != nil {
		return fmt.Errorf("requesting introduction: %w", err)
	}
	util.LogInfo("[session] asked to join room as %q", e.name)
	return nil
}

func (s *spokeRole) tick(e *Endpoint, now time.Time) error { return nil }

func (s *spokeRole) onRendezvous(e *Endpoint, msg *protocol.RendezvousMessage) error {
	if msg.Type != protocol.RendezvousIntroduced || e.State() != StateIntroducing {
		util.LogDebug("[session] ignoring %s message from the rendezvous service", msg.Type)
		return nil
	}
	if msg.SDP == "" {
		return fmt.Errorf("introduction carries no answer")
	}

	if err := s.pending.SetAnswer(msg.SDP); err != nil {
		return fmt.Errorf("applying answer: %w", err)
	}

	hostName := ""
	if msg.Introduction != nil {
		hostName = msg.Introduction.HostName
	}
	s.host.name = hostName
	e.createSlot(0, hostName)
	e.setState(StatePeerConnecting)
	util.LogInfo("[session] introduced to host %q, connecting", hostName)
	return nil
}

func (s *spokeRole) onAnswered(e *Endpoint, a *answered) error { return nil }

// onLinkOpen identifies this peer to the host. The rendezvous service is
// not needed any more.
func (s *spokeRole) onLinkOpen(e *Endpoint, m *member) error {
	e.sendControl(m, &protocol.PeerConnection{Name: e.name})
	e.closeRendezvous()
	e.setState(StateActive)
	util.LogSuccess("[session] connected to host %q", m.name)
	return nil
}

func (s *spokeRole) onLinkClosed(e *Endpoint, m *member) error {
	return ErrHostDisconnected
}

func (s *spokeRole) onControlMessage(e *Endpoint, m *member, msg any) error {
	switch msg := msg.(type) {
	case *protocol.Error:
		if msg.Code == protocol.ErrorRoomFull {
			return ErrRoomFull
		}
		util.LogWarning("[session] host reported error %d: %s", msg.Code, msg.Message)

	case *protocol.StateInitialization:
		if !s.validRemote(e, int(msg.Slot)) {
			return fmt.Errorf("host assigned invalid slot %d", msg.Slot)
		}
		e.ownSlot = int(msg.Slot)
		for _, p := range msg.Roster {
			if s.validRemote(e, int(p.Slot)) && e.slots[p.Slot] == nil {
				e.createSlot(int(p.Slot), p.Name)
			}
		}
		util.LogInfo("[session] admitted in slot %d with %d other peer(s)", msg.Slot, len(msg.Roster))

	case *protocol.NewPeer:
		if !s.validRemote(e, int(msg.Slot)) {
			util.LogWarning("[session] ignoring new peer %q in invalid slot %d", msg.Name, msg.Slot)
			return nil
		}
		e.createSlot(int(msg.Slot), msg.Name)
		e.opts.Stats.PeersJoined.Add(1)
		util.LogInfo("[session] %q joined in slot %d", msg.Name, msg.Slot)

	case *protocol.DisconnectedPeer:
		if !s.validRemote(e, int(msg.Slot)) {
			return nil
		}
		if sl := e.slotAt(int(msg.Slot)); sl != nil {
			util.LogInfo("[session] %q left slot %d", sl.Name(), msg.Slot)
			e.releaseSlot(int(msg.Slot))
			e.opts.Stats.PeersLeft.Add(1)
		}

	default:
		util.LogWarning("[session] unexpected %T from the host", msg)
	}
	return nil
}

// validRemote reports whether i names another peer's slot.
func (s *spokeRole) validRemote(e *Endpoint, i int) bool {
	return i > 0 && i < len(e.slots) && i != e.ownSlot
}

func (s *spokeRole) admit(e *Endpoint, m *member, name string) error {
	util.LogWarning("[session] peers do not admit others, ignoring %q", name)
	return nil
}

func (s *spokeRole) accepts(e *Endpoint, from *member, slot uint8) bool {
	return from == s.host && int(slot) != e.ownSlot
}

func (s *spokeRole) forward(e *Endpoint, from *member, ch transport.Channel, data []byte) {}

func (s *spokeRole) outbound(e *Endpoint) (uint8, []*member, bool) {
	if e.ownSlot < 0 || s.host == nil {
		return 0, nil, false
	}
	return uint8(e.ownSlot), []*member{s.host}, true
}
