// Package rendezvous implements the room registry that lets a joining peer
// find the host of a room, and relays the SDP offer/answer pair of the NAT
// introduction between them. It never carries session traffic.
package rendezvous

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/vcollab/internal/protocol"
	"github.com/1ureka/vcollab/internal/util"
)

// Defaults for a Registry.
const (
	DefaultRoomExpiration = 30 * time.Second
	DefaultSweepInterval  = 20 * time.Millisecond
)

// Mailbox delivers registry messages back to one client, over whatever
// transport the client used to reach the registry.
type Mailbox interface {
	Deliver(msg *protocol.RendezvousMessage) error
	String() string
}

// Room is a hosted room as known to the registry.
type Room struct {
	Token        string
	HostName     string
	InternalAddr netip.AddrPort // host's address as seen by itself
	ExternalAddr netip.AddrPort // host's address as seen by the registry
	LastRefresh  time.Time

	host Mailbox
}

// pendingIntroduction waits for the host's answer to a joining peer.
type pendingIntroduction struct {
	token   string
	intro   protocol.Introduction
	peer    Mailbox
	created time.Time
}

// Registry is the process-wide table of rooms, keyed by room token.
// It is safe for concurrent use by several front-ends.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*Room
	pending    map[string]*pendingIntroduction
	expiration time.Duration
	now        func() time.Time
}

// NewRegistry creates an empty registry whose rooms expire after
// expiration without a host refresh.
func NewRegistry(expiration time.Duration) *Registry {
	if expiration <= 0 {
		expiration = DefaultRoomExpiration
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		pending:    make(map[string]*pendingIntroduction),
		expiration: expiration,
		now:        time.Now,
	}
}

// delivery is a message to send once the registry lock is released.
type delivery struct {
	to  Mailbox
	msg *protocol.RendezvousMessage
}

// HandleRequest processes one message received from remote. Malformed or
// unexpected messages are logged and dropped; nothing is reported back to
// the sender.
func (r *Registry) HandleRequest(remote netip.AddrPort, payload []byte, from Mailbox) {
	msg, err := protocol.DecodeRendezvous(payload)
	if err != nil {
		util.LogWarning("[rendezvous] dropping message from %s: %v", remote, err)
		return
	}

	var out []delivery

	r.mu.Lock()
	switch msg.Type {
	case protocol.RendezvousRequest:
		if msg.IsHost {
			r.announce(remote, msg, from)
		} else {
			out = r.introduce(remote, msg, from)
		}
	case protocol.RendezvousAnswer:
		out = r.answer(remote, msg)
	default:
		util.LogWarning("[rendezvous] rejecting %q message from %s: only requests and answers are accepted", msg.Type, remote)
	}
	r.mu.Unlock()

	for _, d := range out {
		if err := d.to.Deliver(d.msg); err != nil {
			util.LogWarning("[rendezvous] failed to deliver %s to %s: %v", d.msg.Type, d.to, err)
		}
	}
}

// announce creates or refreshes the host's room. Called with r.mu held.
func (r *Registry) announce(remote netip.AddrPort, msg *protocol.RendezvousMessage, from Mailbox) {
	internal := util.ParseAddrPort(msg.LocalAddr)
	room, ok := r.rooms[msg.RoomToken]
	if ok {
		// Only the host that created the room may keep it alive.
		if remote != room.ExternalAddr {
			util.LogWarning("[rendezvous] %q (%s) announced room %s already hosted by %q (%s), ignoring",
				msg.Name, remote, maskToken(msg.RoomToken), room.HostName, room.ExternalAddr)
			return
		}
		room.LastRefresh = r.now()
		util.LogDebug("[rendezvous] room %s refreshed by %q", maskToken(msg.RoomToken), room.HostName)
		return
	}

	r.rooms[msg.RoomToken] = &Room{
		Token:        msg.RoomToken,
		HostName:     msg.Name,
		InternalAddr: internal,
		ExternalAddr: remote,
		LastRefresh:  r.now(),
		host:         from,
	}
	util.LogInfo("[rendezvous] room %s created by %q (internal %s, external %s)",
		maskToken(msg.RoomToken), msg.Name, internal, remote)
}

// introduce forwards a joining peer's offer to the room's host. Called with
// r.mu held.
func (r *Registry) introduce(remote netip.AddrPort, msg *protocol.RendezvousMessage, from Mailbox) []delivery {
	room, ok := r.rooms[msg.RoomToken]
	if !ok {
		util.LogWarning("[rendezvous] %q (%s) asked for unknown room %s", msg.Name, remote, maskToken(msg.RoomToken))
		return nil
	}
	if msg.SDP == "" {
		util.LogWarning("[rendezvous] %q (%s) sent a join request without an offer", msg.Name, remote)
		return nil
	}

	id := uuid.NewString()
	intro := protocol.Introduction{HostName: room.HostName, ClientName: msg.Name}
	r.pending[id] = &pendingIntroduction{
		token:   msg.RoomToken,
		intro:   intro,
		peer:    from,
		created: r.now(),
	}

	util.LogInfo("[rendezvous] introducing %q (%s) to host %q (%s)", msg.Name, remote, room.HostName, room.ExternalAddr)

	return []delivery{{
		to: room.host,
		msg: &protocol.RendezvousMessage{
			Type:         protocol.RendezvousIntroduce,
			RoomToken:    msg.RoomToken,
			IntroID:      id,
			Introduction: &intro,
			SDP:          msg.SDP,
		},
	}}
}

// answer relays the host's SDP answer to the waiting peer. Called with r.mu
// held.
func (r *Registry) answer(remote netip.AddrPort, msg *protocol.RendezvousMessage) []delivery {
	p, ok := r.pending[msg.IntroID]
	if !ok {
		util.LogWarning("[rendezvous] answer from %s for unknown introduction %q", remote, msg.IntroID)
		return nil
	}
	if p.token != msg.RoomToken {
		util.LogWarning("[rendezvous] answer from %s does not match the room of introduction %q", remote, msg.IntroID)
		return nil
	}
	delete(r.pending, msg.IntroID)

	intro := p.intro
	return []delivery{{
		to: p.peer,
		msg: &protocol.RendezvousMessage{
			Type:         protocol.RendezvousIntroduced,
			IntroID:      msg.IntroID,
			Introduction: &intro,
			SDP:          msg.SDP,
		},
	}}
}

// Sweep evicts rooms not refreshed within the expiration window and
// introductions the host never answered. Eviction is silent.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, room := range r.rooms {
		if now.Sub(room.LastRefresh) > r.expiration {
			delete(r.rooms, token)
			util.LogInfo("[rendezvous] room %s of %q expired", maskToken(token), room.HostName)
		}
	}
	for id, p := range r.pending {
		if now.Sub(p.created) > r.expiration {
			delete(r.pending, id)
			util.LogDebug("[rendezvous] introduction %s of %q expired unanswered", id, p.intro.ClientName)
		}
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(r.now())
		case <-ctx.Done():
			return
		}
	}
}

// Room returns a copy of the room registered under token.
func (r *Registry) Room(token string) (Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[token]
	if !ok {
		return Room{}, false
	}
	return *room, true
}

// Rooms is the number of live rooms.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// maskToken hides the secret part of a token in logs.
func maskToken(token string) string {
	const visible = 10
	if len(token) <= visible {
		return token
	}
	return token[:visible] + "…"
}
