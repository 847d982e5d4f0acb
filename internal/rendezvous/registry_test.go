package rendezvous

import (
	"encoding/json"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/vcollab/internal/protocol"
)

// mailbox records delivered messages.
type mailbox struct {
	name string
	mu   sync.Mutex
	msgs []*protocol.RendezvousMessage
}

func (m *mailbox) Deliver(msg *protocol.RendezvousMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mailbox) String() string { return m.name }

func (m *mailbox) received() []*protocol.RendezvousMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*protocol.RendezvousMessage(nil), m.msgs...)
}

// fakeClock is a manually advanced clock.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

const testToken = "ABC123"

var (
	hostAddr = netip.MustParseAddrPort("203.0.113.5:40000")
	peerAddr = netip.MustParseAddrPort("198.51.100.7:50000")
)

func newTestRegistry() (*Registry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(30 * time.Second)
	r.now = clock.now
	return r, clock
}

func encode(t *testing.T, msg *protocol.RendezvousMessage) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func hostRequest(t *testing.T, name string) []byte {
	return encode(t, &protocol.RendezvousMessage{
		Type: protocol.RendezvousRequest, IsHost: true, Name: name, RoomToken: testToken, LocalAddr: "192.168.1.10:40000",
	})
}

// TestRoomRefreshedWithinWindowSurvives announces at t=0, refreshes at
// t=29s and sweeps at t=31s.
func TestRoomRefreshedWithinWindowSurvives(t *testing.T) {
	r, clock := newTestRegistry()
	host := &mailbox{name: "host"}

	r.HandleRequest(hostAddr, hostRequest(t, "alice"), host)
	clock.advance(29 * time.Second)
	r.HandleRequest(hostAddr, hostRequest(t, "alice"), host)
	clock.advance(2 * time.Second)
	r.Sweep(clock.now())

	room, ok := r.Room(testToken)
	require.True(t, ok, "refreshed room must survive the sweep")
	require.Equal(t, "alice", room.HostName)
	require.Equal(t, hostAddr, room.ExternalAddr)
	require.Equal(t, netip.MustParseAddrPort("192.168.1.10:40000"), room.InternalAddr)
}

// TestRoomWithoutRefreshIsEvicted announces at t=0 and sweeps at t=31s.
func TestRoomWithoutRefreshIsEvicted(t *testing.T) {
	r, clock := newTestRegistry()
	r.HandleRequest(hostAddr, hostRequest(t, "alice"), &mailbox{})

	clock.advance(30 * time.Second)
	r.Sweep(clock.now())
	require.Equal(t, 1, r.Rooms(), "a room exactly at the window edge is kept")

	clock.advance(1 * time.Second)
	r.Sweep(clock.now())
	_, ok := r.Room(testToken)
	require.False(t, ok)
	require.Zero(t, r.Rooms())
}

// TestSecondAnnouncerCannotTakeOverRoom announces a token that is already
// hosted from another address and checks that joins still reach the host.
func TestSecondAnnouncerCannotTakeOverRoom(t *testing.T) {
	r, clock := newTestRegistry()
	host, other, peer := &mailbox{name: "host"}, &mailbox{name: "other"}, &mailbox{name: "peer"}
	otherAddr := netip.MustParseAddrPort("192.0.2.9:1111")

	r.HandleRequest(hostAddr, hostRequest(t, "alice"), host)
	created, _ := r.Room(testToken)

	clock.advance(5 * time.Second)
	r.HandleRequest(otherAddr, hostRequest(t, "mallory"), other)

	room, ok := r.Room(testToken)
	require.True(t, ok)
	require.Equal(t, "alice", room.HostName)
	require.Equal(t, hostAddr, room.ExternalAddr)
	require.Equal(t, created.LastRefresh, room.LastRefresh, "a foreign announce does not keep the room alive")

	r.HandleRequest(peerAddr, encode(t, &protocol.RendezvousMessage{
		Type: protocol.RendezvousRequest, Name: "bob", RoomToken: testToken, SDP: "offer",
	}), peer)
	require.Len(t, host.received(), 1)
	require.Empty(t, other.received())

	// The real host still refreshes it.
	clock.advance(5 * time.Second)
	r.HandleRequest(hostAddr, hostRequest(t, "alice"), host)
	room, _ = r.Room(testToken)
	require.Equal(t, clock.now(), room.LastRefresh)
}

// TestIntroductionRoundTrip walks a join request through the host's answer.
func TestIntroductionRoundTrip(t *testing.T) {
	r, _ := newTestRegistry()
	host, peer := &mailbox{name: "host"}, &mailbox{name: "peer"}

	r.HandleRequest(hostAddr, hostRequest(t, "alice"), host)
	r.HandleRequest(peerAddr, encode(t, &protocol.RendezvousMessage{
		Type: protocol.RendezvousRequest, Name: "bob", RoomToken: testToken, SDP: "offer-sdp",
	}), peer)

	got := host.received()
	require.Len(t, got, 1)
	intro := got[0]
	require.Equal(t, protocol.RendezvousIntroduce, intro.Type)
	require.Equal(t, "offer-sdp", intro.SDP)
	require.Equal(t, testToken, intro.RoomToken)
	require.Equal(t, &protocol.Introduction{HostName: "alice", ClientName: "bob"}, intro.Introduction)
	require.NotEmpty(t, intro.IntroID)
	require.Empty(t, peer.received())

	r.HandleRequest(hostAddr, encode(t, &protocol.RendezvousMessage{
		Type: protocol.RendezvousAnswer, RoomToken: testToken, IntroID: intro.IntroID, SDP: "answer-sdp",
	}), host)

	got = peer.received()
	require.Len(t, got, 1)
	require.Equal(t, protocol.RendezvousIntroduced, got[0].Type)
	require.Equal(t, intro.IntroID, got[0].IntroID)
	require.Equal(t, "answer-sdp", got[0].SDP)
	require.Equal(t, "alice", got[0].Introduction.HostName)

	// A replayed answer has nobody left to go to.
	r.HandleRequest(hostAddr, encode(t, &protocol.RendezvousMessage{
		Type: protocol.RendezvousAnswer, RoomToken: testToken, IntroID: intro.IntroID, SDP: "answer-sdp",
	}), host)
	require.Len(t, peer.received(), 1)
}

func TestJoinUnknownRoomIsIgnored(t *testing.T) {
	r, _ := newTestRegistry()
	peer := &mailbox{}
	r.HandleRequest(peerAddr, encode(t, &protocol.RendezvousMessage{
		Type: protocol.RendezvousRequest, Name: "bob", RoomToken: "nope", SDP: "offer",
	}), peer)
	require.Empty(t, peer.received())
	require.Zero(t, r.Rooms())
}

func TestAnswerWithWrongTokenIsIgnored(t *testing.T) {
	r, _ := newTestRegistry()
	host, peer := &mailbox{}, &mailbox{}
	r.HandleRequest(hostAddr, hostRequest(t, "alice"), host)
	r.HandleRequest(peerAddr, encode(t, &protocol.RendezvousMessage{
		Type: protocol.RendezvousRequest, Name: "bob", RoomToken: testToken, SDP: "offer",
	}), peer)
	id := host.received()[0].IntroID

	r.HandleRequest(hostAddr, encode(t, &protocol.RendezvousMessage{
		Type: protocol.RendezvousAnswer, RoomToken: "other", IntroID: id, SDP: "answer",
	}), host)
	require.Empty(t, peer.received())
}

func TestPendingIntroductionExpires(t *testing.T) {
	r, clock := newTestRegistry()
	host, peer := &mailbox{}, &mailbox{}
	r.HandleRequest(hostAddr, hostRequest(t, "alice"), host)
	r.HandleRequest(peerAddr, encode(t, &protocol.RendezvousMessage{
		Type: protocol.RendezvousRequest, Name: "bob", RoomToken: testToken, SDP: "offer",
	}), peer)
	id := host.received()[0].IntroID

	clock.advance(20 * time.Second)
	r.HandleRequest(hostAddr, hostRequest(t, "alice"), host)
	clock.advance(11 * time.Second)
	r.Sweep(clock.now())

	r.HandleRequest(hostAddr, encode(t, &protocol.RendezvousMessage{
		Type: protocol.RendezvousAnswer, RoomToken: testToken, IntroID: id, SDP: "answer",
	}), host)
	require.Empty(t, peer.received())
	require.Equal(t, 1, r.Rooms())
}

// TestMalformedAndForeignMessagesAreDropped covers garbage payloads and
// message types the registry never accepts.
func TestMalformedAndForeignMessagesAreDropped(t *testing.T) {
	r, _ := newTestRegistry()
	from := &mailbox{}

	for _, payload := range [][]byte{
		[]byte("not json"),
		[]byte(`{"type":"request","isHost":true}`),
		[]byte(`{"type":"data","roomToken":"ABC123"}`),
		encode(t, &protocol.RendezvousMessage{
			Type: protocol.RendezvousIntroduced, IntroID: "x", Introduction: &protocol.Introduction{HostName: "h"},
		}),
	} {
		r.HandleRequest(peerAddr, payload, from)
	}

	require.Zero(t, r.Rooms())
	require.Empty(t, from.received())
}

func TestMaskToken(t *testing.T) {
	require.Equal(t, "vcollab-Ab…", maskToken("vcollab-AbC123xYz0"))
	require.Equal(t, "short", maskToken("short"))
}
