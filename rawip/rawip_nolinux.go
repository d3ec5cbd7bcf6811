//go:build !linux

package rawip

import (
	"errors"
	"net/netip"
)

var errUnsupported = errors.New("rawip: only supported on linux")

// Conn is a raw IPv4 socket restricted to TCP payloads. It is only
// functional on Linux.
type Conn struct{}

// New returns an error on platforms without raw IPv4 socket support.
func New() (*Conn, error) { return nil, errUnsupported }

func (c *Conn) SendTo(dst netip.Addr, seg []byte) (int, error) { return 0, errUnsupported }

func (c *Conn) Recv(buf []byte) (int, netip.Addr, error) {
	return 0, netip.Addr{}, errUnsupported
}

func (c *Conn) SourceAddr(dst netip.Addr) (netip.Addr, error) {
	return SourceAddr(dst)
}

func (c *Conn) Close() error { return nil }
