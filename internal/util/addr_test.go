package util

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddrPortOf(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want netip.AddrPort
	}{
		{"nil", nil, netip.AddrPort{}},
		{"udp", &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 7777}, netip.MustParseAddrPort("203.0.113.5:7777")},
		{"tcp", &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 443}, netip.MustParseAddrPort("[2001:db8::1]:443")},
		{"other", &net.UnixAddr{Name: "/tmp/sock", Net: "unix"}, netip.AddrPort{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, AddrPortOf(tt.addr))
		})
	}
}

func TestParseAddrPortUnmaps(t *testing.T) {
	require.Equal(t, netip.MustParseAddrPort("192.0.2.1:80"), ParseAddrPort("[::ffff:192.0.2.1]:80"))
	require.False(t, ParseAddrPort("not-an-address").IsValid())
}
