package rawtcp

import "testing"

func TestCRC791(t *testing.T) {
	// RFC 1071 worked example: words 0x0001 0xf203 0xf4f5 0xf6f7 sum to
	// 0xddf2 before inversion.
	var crc CRC791
	crc.WriteEven([]byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7})
	if got := crc.Sum16(); got != ^uint16(0xddf2) {
		t.Errorf("Sum16 = %#04x, want %#04x", got, ^uint16(0xddf2))
	}
}

func TestCRC791OddPayload(t *testing.T) {
	// An odd trailing byte is padded with zeros in the low octet.
	var a CRC791
	sum := a.PayloadSum16([]byte{0x12, 0x34, 0x56})
	var b CRC791
	b.WriteEven([]byte{0x12, 0x34, 0x56, 0x00})
	if sum != b.Sum16() {
		t.Errorf("odd payload sum = %#04x, want %#04x", sum, b.Sum16())
	}
}

func TestCRC791AddEquivalence(t *testing.T) {
	var a, b CRC791
	a.AddUint32(0xdeadbeef)
	b.AddUint16(0xdead)
	b.AddUint16(0xbeef)
	if a.Sum16() != b.Sum16() {
		t.Error("AddUint32 is not equivalent to two AddUint16 calls")
	}
	a.Reset()
	if a.Sum16() != 0xffff {
		t.Errorf("zero state Sum16 = %#04x, want 0xffff", a.Sum16())
	}
}
