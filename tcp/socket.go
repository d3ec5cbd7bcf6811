package tcp

import (
	"time"
)

// sendSpace contains Send Sequence Space data. Its sequence numbers correspond to local data.
type sendSpace struct {
	ISS Value // initial send sequence number, defined locally on connection start.
	UNA Value // send unacknowledged. Seqs equal to UNA and above have NOT been acked by remote.
	NXT Value // send next. Sequence number of the next octet put on the wire.
	WND Size  // send window. Octets the local side may still put in flight before blocking on an ack.
}

// recvSpace contains Receive Sequence Space data. Its sequence numbers correspond to remote data.
type recvSpace struct {
	IRS Value // initial receive sequence number, defined by remote in SYN segment received.
	NXT Value // receive next. Seqs before this have been received in order.
	WND Size  // receive window. Free octets remaining in the receive buffer.
	// tail is the highest seq+len seen so far. Out-of-order segments push it
	// past NXT; the filling in-order segment then jumps NXT up to it.
	tail Value
}

// rtxEntry is a segment awaiting acknowledgment on a socket's retransmission
// queue. Only segments carrying payload, SYN or FIN are queued: acknowledging
// pure ACKs would beget ACKs of ACKs without end.
type rtxEntry struct {
	// raw holds the serialized segment, resent verbatim on timeout.
	raw     []byte
	seg     Segment
	sentAt  time.Time
	txCount int
}

// socket is the per-connection record. All fields are guarded by the stack's
// table lock; references to a socket must not be retained across an unlock.
type socket struct {
	id    ConnID
	state State
	snd   sendSpace
	rcv   recvSpace

	// rxbuf stores remote data until the application reads it. Out-of-order
	// segments land at their sequence offset, leaving a gap filled later.
	rxbuf []byte

	// rtxq is the FIFO retransmission queue scanned by the timer.
	rtxq []rtxEntry

	// backlog queues established connections awaiting Accept. Listeners only.
	backlog []ConnID

	// listener backlinks an accepted socket to the listener that spawned it.
	listener    ConnID
	hasListener bool
}

func newSocket(id ConnID, state State) *socket {
	return &socket{
		id:    id,
		state: state,
		snd:   sendSpace{WND: SocketBufferSize},
		rcv:   recvSpace{WND: SocketBufferSize},
		rxbuf: make([]byte, SocketBufferSize),
	}
}

// buffered returns the number of received octets not yet read by the application.
func (s *socket) buffered() int {
	return len(s.rxbuf) - int(s.rcv.WND)
}
