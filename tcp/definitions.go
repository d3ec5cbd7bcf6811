package tcp

import (
	"errors"
	"net/netip"
	"time"
)

const (
	// SocketBufferSize is the fixed capacity of every socket's receive buffer
	// and the window advertised on a fresh connection.
	SocketBufferSize = 4380

	// MSS is the maximum segment payload emitted by [Stack.Send].
	// No option negotiation takes place; both sides assume this value.
	MSS = 1460

	// retransmitTimeout is the fixed RTO. RFC 6298 describes how to derive it
	// dynamically from round-trip measurements; this implementation does not.
	retransmitTimeout = 3 * time.Second

	// maxTransmissions bounds how often a queued segment is put on the wire
	// before the stack gives up on it.
	maxTransmissions = 5

	// timerPeriod is the scan interval of the retransmission timer.
	timerPeriod = 100 * time.Millisecond

	// Ephemeral port range probed by [Stack.Connect], end exclusive.
	firstEphemeral = 40000
	lastEphemeral  = 60000
)

var (
	// ErrNoSocket is returned by API calls naming a connection not in the table.
	ErrNoSocket = errors.New("tcp: no such socket")
	// ErrNoPortAvailable is returned by Connect when every probed local port collided.
	ErrNoPortAvailable = errors.New("tcp: no ports are available")
	// ErrAcceptEmpty is returned by Accept when woken with nothing queued.
	ErrAcceptEmpty = errors.New("tcp: accept on empty queue")

	errNoRoute     = errors.New("tcp: no socket for segment")
	errNotIPv4Addr = errors.New("tcp: address is not IPv4")
)

// unspecified4 fills the remote slots of a listening socket's ConnID.
var unspecified4 = netip.AddrFrom4([4]byte{})

// ConnID identifies a connection by its four-tuple. A listening socket keys
// under the unspecified address and zero port in the remote slots; an
// accepted socket's ConnID has fully determined remote slots.
type ConnID struct {
	LocalAddr  netip.Addr
	RemoteAddr netip.Addr
	LocalPort  uint16
	RemotePort uint16
}

// listenerID returns the table key a segment to addr:port falls back to when
// no exact four-tuple matches.
func listenerID(addr netip.Addr, port uint16) ConnID {
	return ConnID{LocalAddr: addr, RemoteAddr: unspecified4, LocalPort: port}
}

// IsListener returns true if id names a listening socket.
func (id ConnID) IsListener() bool {
	return id.RemoteAddr == unspecified4 && id.RemotePort == 0
}

func (id ConnID) String() string {
	return id.LocalAddr.String() + ":" + itoa(id.LocalPort) + "->" + id.RemoteAddr.String() + ":" + itoa(id.RemotePort)
}

func itoa(p uint16) string {
	if p == 0 {
		return "0"
	}
	var b [5]byte
	i := len(b)
	for p > 0 {
		i--
		b[i] = '0' + byte(p%10)
		p /= 10
	}
	return string(b[i:])
}
