// Package rawip moves TCP segments over kernel raw IPv4 sockets. It is the
// transport collaborator of package tcp: outbound segments are framed into
// IPv4 by the kernel, inbound reads yield whole IPv4 packets one at a time.
// Opening the transport requires CAP_NET_RAW (or root).
package rawip

import (
	"fmt"
	"net"
	"net/netip"
)

// SourceAddr returns the local IPv4 address the host would source from to
// reach dst, by asking the kernel's routing table through a connected UDP
// socket. No packet is sent.
func SourceAddr(dst netip.Addr) (netip.Addr, error) {
	c, err := net.Dial("udp4", net.JoinHostPort(dst.String(), "9"))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("rawip: route to %s: %w", dst, err)
	}
	defer c.Close()
	local, ok := c.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("rawip: unexpected local address %v", c.LocalAddr())
	}
	addr, ok := netip.AddrFromSlice(local.IP.To4())
	if !ok {
		return netip.Addr{}, fmt.Errorf("rawip: no IPv4 source for %s", dst)
	}
	return addr, nil
}
