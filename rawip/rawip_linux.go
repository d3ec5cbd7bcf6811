//go:build linux

package rawip

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Conn is a raw IPv4 socket restricted to TCP payloads. It implements the
// tcp.Transport interface.
type Conn struct {
	fd int
}

// New opens the raw transport. The kernel frames outbound segments into IPv4
// (IP_HDRINCL is left off) and delivers inbound TCP-carrying packets whole,
// header included.
func New() (*Conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("rawip: open raw socket: %w", err)
	}
	return &Conn{fd: fd}, nil
}

// SendTo puts one TCP segment on the wire addressed to dst.
func (c *Conn) SendTo(dst netip.Addr, seg []byte) (int, error) {
	if !dst.Is4() {
		return 0, fmt.Errorf("rawip: not an IPv4 destination: %s", dst)
	}
	sa := &unix.SockaddrInet4{Addr: dst.As4()}
	for {
		err := unix.Sendto(c.fd, seg, 0, sa)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("rawip: send to %s: %w", dst, err)
		}
		return len(seg), nil
	}
}

// Recv blocks until the next inbound IPv4 packet carrying TCP and copies it
// into buf, returning the sender's address.
func (c *Conn) Recv(buf []byte) (int, netip.Addr, error) {
	for {
		n, from, err := unix.Recvfrom(c.fd, buf, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, netip.Addr{}, fmt.Errorf("rawip: recv: %w", err)
		}
		sa, ok := from.(*unix.SockaddrInet4)
		if !ok {
			continue // not IPv4, not ours
		}
		return n, netip.AddrFrom4(sa.Addr), nil
	}
}

// SourceAddr implements tcp.Transport. See [SourceAddr].
func (c *Conn) SourceAddr(dst netip.Addr) (netip.Addr, error) {
	return SourceAddr(dst)
}

// Close releases the underlying socket. Blocked Recv calls fail afterwards.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}
