package rendezvous

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/vcollab/internal/protocol"
)

func nextMessage(t *testing.T, c Client) *protocol.RendezvousMessage {
	t.Helper()
	select {
	case msg := <-c.Messages():
		return msg
	case <-c.Done():
		t.Fatalf("client failed: %v", c.Err())
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a rendezvous message")
	}
	return nil
}

// TestServerIntroducesAcrossFrontEnds runs a UDP host and a WebSocket peer
// against a live server.
func TestServerIntroducesAcrossFrontEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv, err := NewServer(ServerOptions{UDPAddr: "127.0.0.1:0", WSAddr: "127.0.0.1:0"})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	host, err := Dial(ctx, srv.UDP.Addr().String())
	require.NoError(t, err)
	defer host.Close()

	peer, err := Dial(ctx, fmt.Sprintf("ws://%s", srv.WS.Addr()))
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, host.Send(&protocol.RendezvousMessage{
		Type: protocol.RendezvousRequest, IsHost: true, Name: "alice", RoomToken: testToken, LocalAddr: host.LocalAddr(),
	}))
	require.Eventually(t, func() bool { return srv.Registry.Rooms() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, peer.Send(&protocol.RendezvousMessage{
		Type: protocol.RendezvousRequest, Name: "bob", RoomToken: testToken, SDP: "offer", LocalAddr: peer.LocalAddr(),
	}))

	intro := nextMessage(t, host)
	require.Equal(t, protocol.RendezvousIntroduce, intro.Type)
	require.Equal(t, "bob", intro.Introduction.ClientName)
	require.Equal(t, "offer", intro.SDP)

	require.NoError(t, host.Send(&protocol.RendezvousMessage{
		Type: protocol.RendezvousAnswer, RoomToken: testToken, IntroID: intro.IntroID, SDP: "answer",
	}))

	introduced := nextMessage(t, peer)
	require.Equal(t, protocol.RendezvousIntroduced, introduced.Type)
	require.Equal(t, "alice", introduced.Introduction.HostName)
	require.Equal(t, "answer", introduced.SDP)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestDialRejectsBadURLs(t *testing.T) {
	ctx := context.Background()
	for _, raw := range []string{"http://example.com", "udp://", "ws://"} {
		_, err := Dial(ctx, raw)
		require.Error(t, err, raw)
	}
}

func TestNewServerRequiresFrontEnd(t *testing.T) {
	_, err := NewServer(ServerOptions{})
	require.Error(t, err)
}

func TestClientCloseReportsErrClosed(t *testing.T) {
	srv, err := NewServer(ServerOptions{UDPAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer srv.UDP.Close()

	c, err := DialUDP(context.Background(), srv.UDP.Addr().String())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	<-c.Done()
	require.ErrorIs(t, c.Err(), ErrClosed)
}
