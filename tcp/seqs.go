package tcp

import (
	"math/bits"
	"strconv"
)

// Value is a sequence number in the TCP sequence space. All arithmetic on
// Values is serial number arithmetic modulo 2**32 as per RFC 1982, so
// comparisons remain correct across wraparound.
type Value uint32

// Size is a count of octets in the sequence space, such as a window size or
// the length of a segment's data.
type Size uint32

// LessThan returns true if a < b in serial arithmetic.
func LessThan(a, b Value) bool { return int32(a-b) < 0 }

// LessThanEq returns true if a <= b in serial arithmetic.
func LessThanEq(a, b Value) bool { return a == b || LessThan(a, b) }

// Add returns v advanced by s octets.
func Add(v Value, s Size) Value { return v + Value(s) }

// Sizeof returns the number of octets between head and tail, head exclusive.
func Sizeof(head, tail Value) Size { return Size(tail - head) }

// Max returns the later of a and b in serial arithmetic.
func Max(a, b Value) Value {
	if LessThan(a, b) {
		return b
	}
	return a
}

// Segment represents an incoming/outgoing TCP segment in the sequence space.
type Segment struct {
	SEQ     Value // sequence number of first octet of segment. If SYN is set it is the initial sequence number (ISN) and the first data octet is ISN+1.
	ACK     Value // acknowledgment number. If ACK is set it is sequence number of first octet the sender of the segment is expecting to receive next.
	DATALEN Size  // the number of octets occupied by the data (payload) not counting SYN and FIN.
	WND     Size  // segment window.
	Flags   Flags // TCP flags.
}

// LEN returns the length of the segment in octets including SYN and FIN flags.
func (seg *Segment) LEN() Size {
	add := Size(seg.Flags>>0) & 1 // Add FIN bit.
	add += Size(seg.Flags>>1) & 1 // Add SYN bit.
	return seg.DATALEN + add
}

// Last returns the sequence number of the last octet of the segment.
func (seg *Segment) Last() Value {
	seglen := seg.LEN()
	if seglen == 0 {
		return seg.SEQ
	}
	return Add(seg.SEQ, seglen) - 1
}

func (seg Segment) String() string {
	b := make([]byte, 0, 48)
	b = append(b, "<SEQ="...)
	b = strconv.AppendUint(b, uint64(seg.SEQ), 10)
	b = append(b, "><ACK="...)
	b = strconv.AppendUint(b, uint64(seg.ACK), 10)
	if seg.DATALEN > 0 {
		b = append(b, "><DATA="...)
		b = strconv.AppendUint(b, uint64(seg.DATALEN), 10)
	}
	b = append(b, '>')
	b = append(b, seg.Flags.String()...)
	return string(b)
}

// Flags is a TCP flags bit-masked implementation i.e: SYN, FIN, ACK.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota // FlagFIN - No more data from sender.
	FlagSYN                   // FlagSYN - Synchronize sequence numbers.
	FlagRST                   // FlagRST - Reset the connection.
	FlagPSH                   // FlagPSH - Push function.
	FlagACK                   // FlagACK - Acknowledgment field significant.
	FlagURG                   // FlagURG - Urgent pointer field significant.
)

const flagMask = 0x003f

const (
	synack = FlagSYN | FlagACK
	finack = FlagFIN | FlagACK
)

// HasAll checks if mask bits are all set in the receiver flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny checks if one or more mask bits are set in receiver flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask returns the flags with non-flag bits unset.
func (flags Flags) Mask() Flags { return flags & flagMask }

// String returns a human readable flag string i.e:
//
//	"[SYN,ACK]"
//
// Flags are printed in order from LSB (FIN) to MSB (URG).
func (flags Flags) String() string {
	// Cover most common cases without heap allocating.
	switch flags {
	case 0:
		return "[]"
	case synack:
		return "[SYN,ACK]"
	case finack:
		return "[FIN,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagFIN:
		return "[FIN]"
	}
	const flaglen = 3
	const strflags = "FINSYNRSTPSHACKURG"
	buf := make([]byte, 0, 2+(flaglen+1)*bits.OnesCount16(uint16(flags)))
	buf = append(buf, '[')
	for flags != 0 {
		i := bits.TrailingZeros16(uint16(flags))
		if len(buf) > 1 {
			buf = append(buf, ',')
		}
		buf = append(buf, strflags[i*flaglen:i*flaglen+flaglen]...)
		flags &= ^(1 << i)
	}
	buf = append(buf, ']')
	return string(buf)
}

// State enumerates states a TCP connection progresses through during its lifetime.
type State uint8

const (
	// StateListen - waiting for a connection request from any remote TCP and port.
	StateListen State = iota
	// StateSynSent - waiting for a matching connection request after having sent a connection request.
	StateSynSent
	// StateSynRcvd - waiting for a confirming connection request acknowledgment
	// after having both received and sent a connection request.
	StateSynRcvd
	// StateEstablished - an open connection, data received can be delivered
	// to the user. The normal state for the data transfer phase of the connection.
	StateEstablished
	// StateFinWait1 - waiting for a connection termination request
	// from the remote TCP, or an acknowledgment of the termination request previously sent.
	StateFinWait1
	// StateFinWait2 - waiting for a connection termination request from the remote TCP.
	StateFinWait2
	// StateCloseWait - waiting for a connection termination request from the local user.
	StateCloseWait
	// StateLastAck - waiting for an acknowledgment of the connection
	// termination request previously sent to the remote TCP.
	StateLastAck
	// StateTimeWait - waiting for enough time to pass to be sure the remote
	// TCP received the acknowledgment of its termination request.
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN-SENT"
	case StateSynRcvd:
		return "SYN-RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateLastAck:
		return "LAST-ACK"
	case StateTimeWait:
		return "TIME-WAIT"
	}
	return "UNKNOWN"
}

// readClosed returns true if no more remote data is expected in state s, so a
// pending read on an empty buffer should return immediately.
func (s State) readClosed() bool {
	return s == StateCloseWait || s == StateLastAck || s == StateTimeWait
}
