package session

import (
	"fmt"
	"time"

	"github.com/1ureka/vcollab/internal/protocol"
	"github.com/1ureka/vcollab/internal/transport"
	"github.com/1ureka/vcollab/internal/util"
)

// hostRole owns slot 0, admits peers into the free slots and relays every
// peer's frames to everybody else.
type hostRole struct {
	lastAnnounce time.Time
}

func (h *hostRole) start(e *Endpoint) error {
	if err := h.announce(e, time.Now()); err != nil {
		return err
	}
	e.setState(StateHostListening)
	util.LogInfo("[session] hosting room as %q, waiting for peers", e.name)
	return nil
}

// announce creates or refreshes the room at the rendezvous service.
func (h *hostRole) announce(e *Endpoint, now time.Time) error {
	err := e.rdv.Send(&protocol.RendezvousMessage{
		Type:      protocol.RendezvousRequest,
		IsHost:    true,
		Name:      e.name,
		RoomToken: e.token,
		LocalAddr: e.rdv.LocalAddr(),
	})
	if err != nil {
		return fmt.Errorf("announcing room: %w", err)
	}
	h.lastAnnounce = now
	return nil
}

func (h *hostRole) tick(e *Endpoint, now time.Time) error {
	if now.Sub(h.lastAnnounce) >= e.opts.KeepAlive {
		if err := h.announce(e, now); err != nil {
			return err
		}
	}

	for _, m := range e.members {
		if !m.admitted() && now.Sub(m.since) > e.opts.AdmissionTimeout {
			util.LogWarning("[session] %s never identified itself, dropping it", shortID(m.link.ID()))
			if err := e.dropMember(m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *hostRole) onRendezvous(e *Endpoint, msg *protocol.RendezvousMessage) error {
	if msg.Type != protocol.RendezvousIntroduce {
		util.LogDebug("[session] ignoring %s message from the rendezvous service", msg.Type)
		return nil
	}
	if msg.RoomToken != e.token {
		util.LogWarning("[session] ignoring introduction %s for another room", msg.IntroID)
		return nil
	}
	if msg.Introduction == nil || msg.SDP == "" {
		util.LogWarning("[session] ignoring incomplete introduction %s", msg.IntroID)
		return nil
	}

	intro := *msg.Introduction
	util.LogInfo("[session] %q asks to join", intro.ClientName)

	// Answering waits for ICE gathering, which must not stall the loop.
	go func() {
		link, sdp, err := e.opts.Connector.Answer(e.ctx, msg.SDP, e)
		e.post(event{kind: eventAnswered, answered: &answered{
			link:    link,
			sdp:     sdp,
			introID: msg.IntroID,
			intro:   intro,
			err:     err,
		}})
	}()
	return nil
}

func (h *hostRole) onAnswered(e *Endpoint, a *answered) error {
	if a.err != nil {
		util.LogWarning("[session] could not answer %q: %v", a.intro.ClientName, a.err)
		return nil
	}

	m := e.addMember(a.link, -1, a.intro.ClientName)
	err := e.rdv.Send(&protocol.RendezvousMessage{
		Type:      protocol.RendezvousAnswer,
		IsHost:    true,
		RoomToken: e.token,
		IntroID:   a.introID,
		SDP:       a.sdp,
	})
	if err != nil {
		e.dropMember(m)
		return fmt.Errorf("answering introduction: %w", err)
	}
	return nil
}

func (h *hostRole) onLinkOpen(e *Endpoint, m *member) error {
	util.LogDebug("[session] link %s open, waiting for %q to identify itself", shortID(m.link.ID()), m.name)
	return nil
}

func (h *hostRole) onLinkClosed(e *Endpoint, m *member) error {
	if !m.admitted() {
		return nil
	}

	slot := m.slot
	e.releaseSlot(slot)
	e.opts.Stats.PeersLeft.Add(1)
	util.LogInfo("[session] %q left slot %d", m.name, slot)

	for _, other := range e.members {
		if other.admitted() {
			e.sendControl(other, &protocol.DisconnectedPeer{Slot: uint8(slot)})
		}
	}
	return nil
}

func (h *hostRole) onControlMessage(e *Endpoint, m *member, msg any) error {
	switch msg := msg.(type) {
	case *protocol.PeerConnection:
		if m.admitted() {
			util.LogWarning("[session] %q identified itself twice", m.name)
			return nil
		}
		return h.admit(e, m, msg.Name)
	default:
		util.LogWarning("[session] unexpected %T from %s", msg, shortID(m.link.ID()))
		return nil
	}
}

// admit gives m the lowest free slot, sends it the roster and announces it
// to everyone else. A full room gets an error message and no slot.
func (h *hostRole) admit(e *Endpoint, m *member, name string) error {
	idx := -1
	for i := 1; i < len(e.slots); i++ {
		if e.slots[i] == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		util.LogWarning("[session] room full, refusing %q", name)
		e.sendControl(m, &protocol.Error{Code: protocol.ErrorRoomFull, Message: "room is full"})
		return nil
	}

	roster := make([]protocol.PeerInfo, 0, len(e.members))
	for _, other := range e.members {
		if other.admitted() {
			roster = append(roster, protocol.PeerInfo{Slot: uint8(other.slot), Name: other.name})
		}
	}

	m.slot = idx
	m.name = name
	e.createSlot(idx, name)
	e.opts.Stats.PeersJoined.Add(1)

	e.sendControl(m, &protocol.StateInitialization{Slot: uint8(idx), Roster: roster})
	for _, other := range e.members {
		if other != m && other.admitted() {
			e.sendControl(other, &protocol.NewPeer{Slot: uint8(idx), Name: name})
		}
	}

	e.setState(StateActive)
	util.LogSuccess("[session] %q joined in slot %d", name, idx)
	return nil
}

// accepts holds a peer to its own slot; the host never takes frames for
// someone else from a peer.
func (h *hostRole) accepts(e *Endpoint, from *member, slot uint8) bool {
	return from.admitted() && int(slot) == from.slot
}

func (h *hostRole) forward(e *Endpoint, from *member, ch transport.Channel, data []byte) {
	for _, m := range e.members {
		if m != from && m.admitted() {
			m.link.Send(ch, data)
		}
	}
}

func (h *hostRole) outbound(e *Endpoint) (uint8, []*member, bool) {
	targets := make([]*member, 0, len(e.members))
	for _, m := range e.members {
		if m.admitted() {
			targets = append(targets, m)
		}
	}
	return 0, targets, true
}
