// Package tcp implements a user-space TCP over a raw IPv4 transport with a
// blocking socket-style API: Connect, Listen, Accept, Send, Recv and Close.
//
// A [Stack] owns the connection table and two long-lived goroutines, one
// pulling packets off the transport and one driving retransmissions. Any
// number of application goroutines may call into the API concurrently; they
// share the table behind a single lock and park on per-socket events while
// the engine works.
package tcp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/soypat/rawtcp/internal"
)

// Transport is the raw-IP facility a [Stack] speaks through. Implementations
// deliver arriving IPv4 packets one at a time and accept outbound TCP
// segments addressed to a peer; IP framing on the send path is theirs (or the
// kernel's) to do.
type Transport interface {
	// SendTo puts a serialized TCP segment on the wire addressed to dst.
	SendTo(dst netip.Addr, seg []byte) (n int, err error)
	// Recv blocks until the next inbound IPv4 packet carrying TCP and copies
	// it whole (header included) into buf, returning the sender's address.
	Recv(buf []byte) (n int, src netip.Addr, err error)
	// SourceAddr returns the local address the host would source from to
	// reach dst.
	SourceAddr(dst netip.Addr) (netip.Addr, error)
}

// StackConfig configures a [Stack]. Transport is mandatory; zero values of
// the remaining fields select working defaults.
type StackConfig struct {
	Transport Transport
	Logger    *slog.Logger
	// Now overrides the clock used for retransmission aging. Defaults to [time.Now].
	Now func() time.Time
	// Entropy seeds sequence number and port generation. Defaults to [crypto/rand.Reader].
	Entropy io.Reader
}

// Stack is the engine: connection table, receive loop, retransmission timer
// and the socket API. Create one with [NewStack].
type Stack struct {
	transport Transport
	now       func() time.Time
	isnSecret [32]byte
	logger

	mu    sync.RWMutex
	socks map[ConnID]*socket
	// portSeed walks the ephemeral range pseudo-randomly; guarded by mu.
	portSeed uint32

	ev *eventHub
}

// NewStack validates cfg and returns a running stack with its receive and
// timer goroutines started.
func NewStack(cfg StackConfig) (*Stack, error) {
	if cfg.Transport == nil {
		return nil, errors.New("tcp: nil transport")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	entropy := cfg.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}
	stk := &Stack{
		transport: cfg.Transport,
		now:       now,
		logger:    logger{log: cfg.Logger},
		socks:     make(map[ConnID]*socket),
		ev:        newEventHub(),
	}
	var seed [36]byte
	if _, err := io.ReadFull(entropy, seed[:]); err != nil {
		return nil, fmt.Errorf("tcp: read entropy: %w", err)
	}
	copy(stk.isnSecret[:], seed[:32])
	stk.portSeed = uint32(seed[32]) | uint32(seed[33])<<8 | uint32(seed[34])<<16 | uint32(seed[35])<<24
	if stk.portSeed == 0 {
		stk.portSeed = 1 // xorshift has a fixed point at zero
	}
	go stk.receiveLoop()
	go stk.retransmitLoop()
	return stk, nil
}

// selectUnusedPort draws ephemeral ports pseudo-randomly until one not used
// by any socket in the table is found. Called with the table lock held.
func (stk *Stack) selectUnusedPort() (uint16, error) {
	const span = lastEphemeral - firstEphemeral
	for i := 0; i < span; i++ {
		stk.portSeed = internal.Prand32(stk.portSeed)
		port := uint16(firstEphemeral + stk.portSeed%span)
		inUse := false
		for id := range stk.socks {
			if id.LocalPort == port {
				inUse = true
				break
			}
		}
		if !inUse {
			return port, nil
		}
	}
	return 0, ErrNoPortAvailable
}

// sendSegment serializes and transmits a segment for s, advertising the
// socket's current receive window. Segments that carry payload or any flag
// beyond ACK are appended to the retransmission queue; pure ACKs are not,
// since the peer never acknowledges them. Called with the table lock held.
func (stk *Stack) sendSegment(s *socket, seq, ack Value, flags Flags, payload []byte) error {
	raw := make([]byte, sizeHeaderTCP+len(payload))
	tfrm, err := NewFrame(raw)
	if err != nil {
		return err
	}
	tfrm.SetSourcePort(s.id.LocalPort)
	tfrm.SetDestinationPort(s.id.RemotePort)
	tfrm.SetSegment(Segment{
		SEQ:     seq,
		ACK:     ack,
		WND:     s.rcv.WND,
		DATALEN: Size(len(payload)),
		Flags:   flags,
	}, headerWords)
	copy(tfrm.Payload(), payload)
	tfrm.SetCRC(0)
	tfrm.SetCRC(tfrm.CalculateCRCIPv4(s.id.LocalAddr.As4(), s.id.RemoteAddr.As4()))

	if _, err := stk.transport.SendTo(s.id.RemoteAddr, raw); err != nil {
		return fmt.Errorf("tcp: send segment: %w", err)
	}
	seg := tfrm.Segment(len(payload))
	stk.traceSeg("snd", s.id, seg)
	if len(payload) == 0 && flags == FlagACK {
		return nil
	}
	s.rtxq = append(s.rtxq, rtxEntry{
		raw:     raw,
		seg:     seg,
		sentAt:  stk.now(),
		txCount: 1,
	})
	return nil
}

// Connect performs an active open towards addr:port and blocks until the
// three-way handshake completes. The returned ConnID names the new
// connection in subsequent Send, Recv and Close calls.
func (stk *Stack) Connect(addr netip.Addr, port uint16) (ConnID, error) {
	if !addr.Is4() {
		return ConnID{}, errNotIPv4Addr
	}
	local, err := stk.transport.SourceAddr(addr)
	if err != nil {
		return ConnID{}, fmt.Errorf("tcp: resolve source address: %w", err)
	}
	stk.mu.Lock()
	localPort, err := stk.selectUnusedPort()
	if err != nil {
		stk.mu.Unlock()
		return ConnID{}, err
	}
	id := ConnID{LocalAddr: local, RemoteAddr: addr, LocalPort: localPort, RemotePort: port}
	s := newSocket(id, StateSynSent)
	s.snd.ISS = stk.initialSeq(id)
	if err := stk.sendSegment(s, s.snd.ISS, 0, FlagSYN, nil); err != nil {
		stk.mu.Unlock()
		return ConnID{}, err
	}
	s.snd.UNA = s.snd.ISS
	// SYN occupies one sequence number despite carrying no payload, same as FIN.
	s.snd.NXT = s.snd.ISS + 1
	stk.socks[id] = s
	stk.mu.Unlock()

	stk.ev.wait(id, evtConnectionCompleted)
	return id, nil
}

// Listen creates a listening socket for addr:port and returns its ConnID for
// use with Accept and Close. Passive opens arriving meanwhile are completed
// by the engine and queued until accepted.
func (stk *Stack) Listen(addr netip.Addr, port uint16) (ConnID, error) {
	if !addr.Is4() {
		return ConnID{}, errNotIPv4Addr
	}
	id := listenerID(addr, port)
	s := newSocket(id, StateListen)
	stk.mu.Lock()
	stk.socks[id] = s
	stk.mu.Unlock()
	stk.debug("listen", internal.SlogAddr4("addr", addr.As4()), slog.Uint64("port", uint64(port)))
	return id, nil
}

// Accept blocks until the listener has completed a passive open and returns
// the ConnID of the established connection. It returns [ErrNoSocket] if the
// listener was closed while waiting and [ErrAcceptEmpty] if woken with
// nothing queued.
func (stk *Stack) Accept(listener ConnID) (ConnID, error) {
	stk.ev.wait(listener, evtConnectionCompleted)
	stk.mu.Lock()
	defer stk.mu.Unlock()
	ls, ok := stk.socks[listener]
	if !ok {
		return ConnID{}, ErrNoSocket
	}
	if len(ls.backlog) == 0 {
		return ConnID{}, ErrAcceptEmpty
	}
	id := ls.backlog[0]
	ls.backlog = ls.backlog[1:]
	return id, nil
}

// Send writes b to the connection in MSS-sized fragments, blocking whenever
// the send window is exhausted until the peer acknowledges in-flight data.
// It returns once every fragment has been handed to the transport, which may
// be before the peer has acknowledged them.
func (stk *Stack) Send(id ConnID, b []byte) error {
	for cursor := 0; cursor < len(b); {
		stk.mu.Lock()
		s, ok := stk.socks[id]
		if !ok {
			stk.mu.Unlock()
			return ErrNoSocket
		}
		sendSize := min(MSS, int(s.snd.WND), len(b)-cursor)
		for sendSize == 0 {
			stk.traceSnd("send window exhausted", s)
			stk.mu.Unlock()
			stk.ev.wait(id, evtAcked)
			stk.mu.Lock()
			s, ok = stk.socks[id]
			if !ok {
				stk.mu.Unlock()
				return ErrNoSocket
			}
			sendSize = min(MSS, int(s.snd.WND), len(b)-cursor)
		}
		err := stk.sendSegment(s, s.snd.NXT, s.rcv.NXT, FlagACK, b[cursor:cursor+sendSize])
		if err != nil {
			stk.mu.Unlock()
			return err
		}
		cursor += sendSize
		s.snd.NXT = Add(s.snd.NXT, Size(sendSize))
		s.snd.WND -= Size(sendSize)
		stk.mu.Unlock()
		// Yield briefly so the receive goroutine can take the lock and
		// process acks before the window runs dry.
		time.Sleep(time.Millisecond)
	}
	return nil
}

// Recv copies received data into b and returns the number of octets copied.
// It blocks while no data is buffered, except after the peer has closed its
// half of the connection, where it returns 0.
func (stk *Stack) Recv(id ConnID, b []byte) (int, error) {
	stk.mu.Lock()
	s, ok := stk.socks[id]
	if !ok {
		stk.mu.Unlock()
		return 0, ErrNoSocket
	}
	for s.buffered() == 0 {
		if s.state.readClosed() {
			stk.mu.Unlock()
			return 0, nil
		}
		stk.mu.Unlock()
		stk.ev.wait(id, evtDataArrived)
		stk.mu.Lock()
		s, ok = stk.socks[id]
		if !ok {
			stk.mu.Unlock()
			return 0, ErrNoSocket
		}
	}
	n := min(len(b), s.buffered())
	copy(b, s.rxbuf[:n])
	// Shift the unread remainder to the front; the buffer head is always the
	// next octet owed to the application.
	copy(s.rxbuf, s.rxbuf[n:])
	s.rcv.WND += Size(n)
	stk.mu.Unlock()
	return n, nil
}

// Close terminates the connection. On an established or passively-closing
// connection it emits FIN and blocks until the teardown handshake finishes,
// then removes the socket. Closing a listener removes it immediately.
func (stk *Stack) Close(id ConnID) error {
	stk.mu.Lock()
	s, ok := stk.socks[id]
	if !ok {
		stk.mu.Unlock()
		return ErrNoSocket
	}
	if s.state == StateListen {
		// A listener has no peer to notify.
		delete(stk.socks, id)
		stk.mu.Unlock()
		return nil
	}
	if err := stk.sendSegment(s, s.snd.NXT, s.rcv.NXT, finack, nil); err != nil {
		stk.mu.Unlock()
		return err
	}
	// FIN occupies one sequence number, as SYN does.
	s.snd.NXT += 1
	switch s.state {
	case StateEstablished:
		s.state = StateFinWait1
	case StateCloseWait:
		s.state = StateLastAck
	default:
		stk.mu.Unlock()
		return nil
	}
	stk.mu.Unlock()

	stk.ev.wait(id, evtConnectionClosed)
	stk.mu.Lock()
	delete(stk.socks, id)
	stk.mu.Unlock()
	stk.debug("closed and removed", slog.String("conn", id.String()))
	return nil
}
