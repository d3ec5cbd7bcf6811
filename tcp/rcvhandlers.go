package tcp

import (
	"log/slog"
	"net/netip"

	"github.com/soypat/rawtcp"
	"github.com/soypat/rawtcp/ipv4"
)

// receiveLoop pulls IPv4 packets off the transport and dispatches each to its
// socket. It is the only goroutine mutating sockets on the inbound path, so
// segments of a single connection are processed in arrival order. Exits when
// the transport does.
func (stk *Stack) receiveLoop() {
	stk.debug("receive loop started")
	buf := make([]byte, 65535)
	for {
		n, src, err := stk.transport.Recv(buf)
		if err != nil {
			stk.logerr("receive loop exiting", slog.String("err", err.Error()))
			return
		}
		if err := stk.handlePacket(src, buf[:n]); err != nil {
			stk.trace("drop", slog.String("err", err.Error()))
		}
	}
}

// handlePacket validates one inbound IPv4 packet, routes it to the socket
// matching its four-tuple (or the listener on its destination port) and runs
// the state handler. Errors only describe why a packet was dropped; they
// never reach an API caller.
func (stk *Stack) handlePacket(src netip.Addr, pkt []byte) error {
	ifrm, err := ipv4.NewFrame(pkt)
	if err != nil {
		return err
	}
	if ifrm.Version() != ipv4.Version {
		return rawtcp.ErrNotIPv4
	}
	if err := ifrm.ValidateSize(); err != nil {
		return err
	}
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	tfrm, err := NewFrame(ifrm.Payload())
	if err != nil {
		return err
	}
	if err := tfrm.ValidateSize(); err != nil {
		return err
	}
	if tfrm.CalculateCRCIPv4(src.As4(), dst.As4()) != 0 {
		return rawtcp.ErrBadCRC
	}
	payload := tfrm.Payload()
	seg := tfrm.Segment(len(payload))

	stk.mu.Lock()
	defer stk.mu.Unlock()
	id := ConnID{LocalAddr: dst, RemoteAddr: src, LocalPort: tfrm.DestinationPort(), RemotePort: tfrm.SourcePort()}
	s, ok := stk.socks[id]
	if !ok {
		s, ok = stk.socks[listenerID(dst, tfrm.DestinationPort())]
		if !ok {
			return errNoRoute
		}
	}
	stk.traceSeg("rcv", id, seg)

	switch s.state {
	case StateListen:
		return stk.rcvListen(s, src, tfrm.SourcePort(), seg)
	case StateSynSent:
		return stk.rcvSynSent(s, seg)
	case StateSynRcvd:
		return stk.rcvSynRcvd(s, seg)
	case StateEstablished:
		return stk.rcvEstablished(s, seg, payload)
	case StateFinWait1, StateFinWait2:
		return stk.rcvFinWait(s, seg, payload)
	case StateCloseWait, StateLastAck:
		return stk.rcvCloseWait(s, seg)
	}
	stk.debug("segment in unhandled state", slog.String("state", s.state.String()))
	return nil
}

// rcvListen performs the passive open: a SYN spawns a fresh socket in
// SYN-RECEIVED keyed on the full four-tuple and answers SYN|ACK. Segments
// carrying ACK are dropped silently (no RST is generated).
func (stk *Stack) rcvListen(ls *socket, src netip.Addr, srcPort uint16, seg Segment) error {
	if seg.Flags.HasAny(FlagACK) {
		return nil
	}
	if !seg.Flags.HasAny(FlagSYN) {
		return nil
	}
	id := ConnID{LocalAddr: ls.id.LocalAddr, RemoteAddr: src, LocalPort: ls.id.LocalPort, RemotePort: srcPort}
	s := newSocket(id, StateSynRcvd)
	s.rcv.NXT = seg.SEQ + 1
	s.rcv.IRS = seg.SEQ
	s.rcv.tail = s.rcv.NXT
	s.snd.ISS = stk.initialSeq(id)
	s.snd.WND = seg.WND
	if err := stk.sendSegment(s, s.snd.ISS, s.rcv.NXT, synack, nil); err != nil {
		stk.logerr("passive open", slog.String("err", err.Error()))
		return nil
	}
	s.snd.NXT = s.snd.ISS + 1
	s.snd.UNA = s.snd.ISS
	s.listener = ls.id
	s.hasListener = true
	stk.socks[id] = s
	stk.debug("passive open", slog.String("conn", id.String()))
	return nil
}

// rcvSynSent completes the active open on SYN|ACK. An acknowledgment of our
// SYN moves the connection to ESTABLISHED; a SYN|ACK whose ACK does not cover
// our SYN leaves it in SYN-RECEIVED awaiting the peer's ACK. Segments lacking
// either SYN or ACK are dropped.
func (stk *Stack) rcvSynSent(s *socket, seg Segment) error {
	acceptable := seg.Flags.HasAll(synack) &&
		LessThanEq(s.snd.UNA, seg.ACK) && LessThanEq(seg.ACK, s.snd.NXT)
	if !acceptable {
		return nil
	}
	s.rcv.NXT = seg.SEQ + 1
	s.rcv.IRS = seg.SEQ
	s.rcv.tail = s.rcv.NXT
	s.snd.UNA = seg.ACK
	s.snd.WND = seg.WND
	if LessThan(s.snd.ISS, s.snd.UNA) {
		s.state = StateEstablished
		if err := stk.sendSegment(s, s.snd.NXT, s.rcv.NXT, FlagACK, nil); err != nil {
			stk.logerr("handshake ack", slog.String("err", err.Error()))
			return nil
		}
		stk.debug("active open", slog.String("conn", s.id.String()))
		stk.ev.publish(s.id, evtConnectionCompleted)
	} else {
		s.state = StateSynRcvd
		if err := stk.sendSegment(s, s.snd.NXT, s.rcv.NXT, FlagACK, nil); err != nil {
			stk.logerr("handshake ack", slog.String("err", err.Error()))
		}
	}
	return nil
}

// rcvSynRcvd completes the passive open on the handshake's final ACK and
// hands the connection to the listener's accept queue.
func (stk *Stack) rcvSynRcvd(s *socket, seg Segment) error {
	acceptable := seg.Flags.HasAny(FlagACK) &&
		LessThanEq(s.snd.UNA, seg.ACK) && LessThanEq(seg.ACK, s.snd.NXT)
	if !acceptable {
		return nil
	}
	// The final ACK carries no SYN or FIN, so it occupies no sequence space.
	s.rcv.NXT = seg.SEQ
	s.snd.UNA = seg.ACK
	s.state = StateEstablished
	if s.hasListener {
		ls, ok := stk.socks[s.listener]
		if !ok {
			stk.debug("listener gone", slog.String("conn", s.id.String()))
			return nil
		}
		ls.backlog = append(ls.backlog, s.id)
		stk.ev.publish(ls.id, evtConnectionCompleted)
	}
	return nil
}

// rcvEstablished handles the data-transfer phase: acknowledgment accounting,
// payload reassembly and the passive close on FIN.
func (stk *Stack) rcvEstablished(s *socket, seg Segment, payload []byte) error {
	if LessThan(s.snd.UNA, seg.ACK) && LessThanEq(seg.ACK, s.snd.NXT) {
		s.snd.UNA = seg.ACK
		stk.drainAcked(s)
	} else if LessThan(s.snd.NXT, seg.ACK) {
		// Acknowledgment of data never sent.
		return nil
	}
	if !seg.Flags.HasAny(FlagACK) {
		return nil
	}
	if len(payload) > 0 {
		stk.processPayload(s, seg, payload)
	}
	if seg.Flags.HasAny(FlagFIN) {
		s.rcv.NXT = seg.SEQ + 1
		if err := stk.sendSegment(s, s.snd.NXT, s.rcv.NXT, FlagACK, nil); err != nil {
			stk.logerr("fin ack", slog.String("err", err.Error()))
			return nil
		}
		s.state = StateCloseWait
		// Wake pending reads so they observe the half-closed state and return 0.
		stk.ev.publish(s.id, evtDataArrived)
	}
	return nil
}

// rcvFinWait drives the active close through FIN-WAIT-1 and FIN-WAIT-2.
// TIME-WAIT is omitted: the peer's FIN is acked and the closer released
// immediately.
func (stk *Stack) rcvFinWait(s *socket, seg Segment, payload []byte) error {
	if LessThan(s.snd.UNA, seg.ACK) && LessThanEq(seg.ACK, s.snd.NXT) {
		s.snd.UNA = seg.ACK
		stk.drainAcked(s)
	} else if LessThan(s.snd.NXT, seg.ACK) {
		return nil
	}
	if len(payload) > 0 {
		stk.processPayload(s, seg, payload)
	}
	if s.state == StateFinWait1 && s.snd.NXT == s.snd.UNA {
		// Our FIN is acknowledged.
		s.state = StateFinWait2
	}
	if seg.Flags.HasAny(FlagFIN) {
		s.rcv.NXT += 1
		if err := stk.sendSegment(s, s.snd.NXT, s.rcv.NXT, FlagACK, nil); err != nil {
			stk.logerr("fin ack", slog.String("err", err.Error()))
		}
		stk.ev.publish(s.id, evtConnectionClosed)
	}
	return nil
}

// rcvCloseWait records acknowledgments while the local side finishes its
// close; the retransmission timer notices the acked FIN and publishes the
// closing event.
func (stk *Stack) rcvCloseWait(s *socket, seg Segment) error {
	s.snd.UNA = seg.ACK
	return nil
}

// processPayload copies a segment's data into the receive buffer at its
// sequence offset. In-order data advances RCV.NXT to the reassembled tail,
// jumping over previously buffered out-of-order runs; data beyond the buffer
// is dropped. Readers are woken unconditionally.
func (stk *Stack) processPayload(s *socket, seg Segment, payload []byte) {
	if LessThan(seg.SEQ, s.rcv.NXT) {
		// Stale retransmit of data already received. Ack it afresh in case
		// our previous ack was lost, but do not touch the buffer: the
		// placement arithmetic below assumes SEQ >= RCV.NXT.
		if err := stk.sendSegment(s, s.snd.NXT, s.rcv.NXT, FlagACK, nil); err != nil {
			stk.logerr("duplicate ack", slog.String("err", err.Error()))
		}
		return
	}
	place := s.buffered() + int(Sizeof(s.rcv.NXT, seg.SEQ))
	if place >= len(s.rxbuf) {
		stk.debug("receive buffer overflow", slog.String("conn", s.id.String()))
		stk.ev.publish(s.id, evtDataArrived)
		return
	}
	copied := copy(s.rxbuf[place:], payload)
	// Lost-and-retransmitted segments fill holes behind tail; only a new
	// rightmost run moves it.
	s.rcv.tail = Max(s.rcv.tail, Add(seg.SEQ, Size(copied)))

	if seg.SEQ == s.rcv.NXT {
		// In order: everything up to the reassembled tail is now contiguous.
		s.rcv.WND -= Sizeof(seg.SEQ, s.rcv.tail)
		s.rcv.NXT = s.rcv.tail
	}
	if copied > 0 {
		if err := stk.sendSegment(s, s.snd.NXT, s.rcv.NXT, FlagACK, nil); err != nil {
			stk.logerr("data ack", slog.String("err", err.Error()))
		}
	} else {
		stk.debug("receive buffer overflow", slog.String("conn", s.id.String()))
	}
	stk.ev.publish(s.id, evtDataArrived)
}
