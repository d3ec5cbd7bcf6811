// Package ipv4 provides IPv4 header accessors over raw byte slices and the
// TCP pseudo-header checksum coverage defined in RFC 793.
package ipv4

import (
	"encoding/binary"

	"github.com/soypat/rawtcp"
)

const (
	sizeHeader = 20

	// ProtoTCP is the IPv4 protocol field value for TCP payloads.
	ProtoTCP = 6

	// Version is the version field value of all IPv4 packets.
	Version = 4
)

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than 20.
// Users should still call [Frame.ValidateSize] before working
// with the payload of a frame to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{buf: nil}, rawtcp.ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an IPv4 packet and provides methods for
// manipulating, validating and retrieving fields and payload data. See [RFC791].
//
// [RFC791]: https://tools.ietf.org/html/rfc791
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ifrm Frame) RawData() []byte { return ifrm.buf }

func (ifrm Frame) ihl() uint8 { return ifrm.buf[0] & 0xf }

// Version returns the version field of the IPv4 header. Is 4 for valid IPv4 packets.
func (ifrm Frame) Version() uint8 { return ifrm.buf[0] >> 4 }

// SetVersionAndIHL sets the version and IHL fields in the IPv4 header. Version should always be 4.
func (ifrm Frame) SetVersionAndIHL(version, IHL uint8) { ifrm.buf[0] = version<<4 | IHL&0xf }

// HeaderLength returns the length of the IPv4 header as calculated using IHL. It includes IP options.
func (ifrm Frame) HeaderLength() int {
	return int(ifrm.ihl()) * 4
}

// TotalLength defines the entire packet size in bytes, including IP header and data.
func (ifrm Frame) TotalLength() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[2:4])
}

// SetTotalLength sets TotalLength field. See [Frame.TotalLength].
func (ifrm Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(ifrm.buf[2:4], tl) }

// ID is an identification field primarily used for uniquely
// identifying the group of fragments of a single IP datagram.
func (ifrm Frame) ID() uint16 { return binary.BigEndian.Uint16(ifrm.buf[4:6]) }

// SetID sets ID field. See [Frame.ID].
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.buf[4:6], id) }

// TTL is the eight-bit time to live field. Routers decrement it by one
// per hop and discard the packet when it hits zero.
func (ifrm Frame) TTL() uint8 { return ifrm.buf[8] }

// SetTTL sets the IP frame's TTL field. See [Frame.TTL].
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.buf[8] = ttl }

// Protocol field defines the protocol used in the data portion of the IP datagram. TCP is 6.
func (ifrm Frame) Protocol() uint8 { return ifrm.buf[9] }

// SetProtocol sets protocol field. See [Frame.Protocol].
func (ifrm Frame) SetProtocol(proto uint8) { ifrm.buf[9] = proto }

// CRC returns the cyclic-redundancy-check (checksum) field of the IPv4 header.
func (ifrm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[10:12])
}

// SetCRC sets the CRC field of the IP packet. See [Frame.CRC].
func (ifrm Frame) SetCRC(cs uint16) {
	binary.BigEndian.PutUint16(ifrm.buf[10:12], cs)
}

// CalculateHeaderCRC calculates the CRC for this IPv4 frame.
// The checksum field itself is excluded from the calculation.
func (ifrm Frame) CalculateHeaderCRC() uint16 {
	var crc rawtcp.CRC791
	crc.WriteEven(ifrm.buf[0:10])
	crc.WriteEven(ifrm.buf[12:20])
	return crc.Sum16()
}

// SourceAddr returns pointer to the source address field of the IPv4 header.
func (ifrm Frame) SourceAddr() *[4]byte {
	return (*[4]byte)(ifrm.buf[12:16])
}

// DestinationAddr returns pointer to the destination address field of the IPv4 header.
func (ifrm Frame) DestinationAddr() *[4]byte {
	return (*[4]byte)(ifrm.buf[16:20])
}

// Payload returns the contents of the IPv4 packet past the header, including IP options.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panics.
func (ifrm Frame) Payload() []byte {
	return ifrm.buf[ifrm.HeaderLength():ifrm.TotalLength()]
}

// ClearHeader zeros out the header contents.
func (ifrm Frame) ClearHeader() {
	for i := range ifrm.buf[:sizeHeader] {
		ifrm.buf[i] = 0
	}
}

// ValidateSize checks the frame's size fields against the actual buffer
// backing the frame. It returns a non-nil error on finding an inconsistency.
func (ifrm Frame) ValidateSize() error {
	hlen := ifrm.HeaderLength()
	tlen := int(ifrm.TotalLength())
	if hlen < sizeHeader || hlen > tlen || tlen > len(ifrm.buf) {
		return rawtcp.ErrShortBuffer
	}
	return nil
}

// CRCWriteTCPPseudo writes the TCP pseudo-header of this frame to the running checksum,
// as required by RFC 793: source address, destination address, a zero-padded
// protocol octet and the length of the TCP segment.
func (ifrm Frame) CRCWriteTCPPseudo(crc *rawtcp.CRC791) {
	CRCWriteTCPPseudo(crc, *ifrm.SourceAddr(), *ifrm.DestinationAddr(), ifrm.TotalLength()-uint16(ifrm.HeaderLength()))
}

// CRCWriteTCPPseudo writes a TCP pseudo-header to the running checksum for a
// segment of tcpLength bytes exchanged between src and dst. It is the
// free-standing form of [Frame.CRCWriteTCPPseudo] for use on the send path
// where no IPv4 header exists yet.
func CRCWriteTCPPseudo(crc *rawtcp.CRC791, src, dst [4]byte, tcpLength uint16) {
	crc.WriteEven(src[:])
	crc.WriteEven(dst[:])
	crc.AddUint16(ProtoTCP)
	crc.AddUint16(tcpLength)
}
