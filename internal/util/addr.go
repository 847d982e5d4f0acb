// Package util provides shared utility functions.
package util

import (
	"net"
	"net/netip"
)

// AddrPortOf converts a net.Addr coming from a UDP socket, a TCP listener or
// an HTTP request into a netip.AddrPort. Unparseable addresses yield the
// zero value, which callers treat as "unknown". IPv4-in-IPv6 forms are
// unmapped.
func AddrPortOf(addr net.Addr) netip.AddrPort {
	if addr == nil {
		return netip.AddrPort{}
	}
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap = a.AddrPort()
	case *net.TCPAddr:
		ap = a.AddrPort()
	default:
		return ParseAddrPort(addr.String())
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// ParseAddrPort parses "host:port", unmapping IPv4-in-IPv6 forms.
func ParseAddrPort(s string) netip.AddrPort {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
