package tcp

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2s"
)

// initialSeq derives the initial send sequence number for a new connection in
// the manner of RFC 6528: a keyed hash of the four-tuple offset by a 4 µs
// clock tick, so simultaneous connections to distinct peers start far apart
// while reincarnations of the same tuple still advance. The result is clamped
// to [1, 1<<31) as the handshake logic compares ISS and UNA in serial
// arithmetic around it.
func (stk *Stack) initialSeq(id ConnID) Value {
	h, err := blake2s.New256(stk.isnSecret[:])
	if err != nil {
		panic(err) // key size is fixed at compile time
	}
	var four [4]byte
	four = id.LocalAddr.As4()
	h.Write(four[:])
	four = id.RemoteAddr.As4()
	h.Write(four[:])
	var ports [4]byte
	binary.BigEndian.PutUint16(ports[0:2], id.LocalPort)
	binary.BigEndian.PutUint16(ports[2:4], id.RemotePort)
	h.Write(ports[:])
	sum := h.Sum(nil)

	base := binary.BigEndian.Uint32(sum[:4])
	base += uint32(stk.now().UnixNano() / 4000)
	return Value(base%(1<<31-1) + 1)
}
