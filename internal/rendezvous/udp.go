package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/1ureka/vcollab/internal/protocol"
)

// UDPServer feeds datagrams received on an unconnected UDP socket into a
// Registry. Each datagram carries one JSON message.
type UDPServer struct {
	reg  *Registry
	conn *net.UDPConn
}

// ListenUDP binds addr (e.g. ":7777").
func ListenUDP(addr string, reg *Registry) (*UDPServer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid UDP address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP %s: %w", addr, err)
	}
	return &UDPServer{reg: reg, conn: conn}, nil
}

// Addr is the bound local address.
func (s *UDPServer) Addr() net.Addr { return s.conn.LocalAddr() }

// Serve reads datagrams until ctx is cancelled or the socket fails.
func (s *UDPServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, protocol.MaxRendezvousSize)
	for {
		n, remote, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("UDP read failed: %w", err)
		}

		remote = netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())
		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.reg.HandleRequest(remote, payload, &udpMailbox{conn: s.conn, addr: remote})
	}
}

// Close stops the server.
func (s *UDPServer) Close() error {
	return s.conn.Close()
}

// udpMailbox replies to a client through the server's socket.
type udpMailbox struct {
	conn *net.UDPConn
	addr netip.AddrPort
}

func (m *udpMailbox) Deliver(msg *protocol.RendezvousMessage) error {
	data, err := protocol.EncodeRendezvous(msg)
	if err != nil {
		return err
	}
	_, err = m.conn.WriteToUDPAddrPort(data, m.addr)
	return err
}

func (m *udpMailbox) String() string { return "udp:" + m.addr.String() }
