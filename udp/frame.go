// Package udp implements byte-exact encode/decode of UDP datagrams
// (RFC 768), including the pseudo-header checksum.
package udp

import (
	"encoding/binary"
	"errors"

	"github.com/packetwright/netsuite/netwire"
	"github.com/packetwright/netsuite/ipv4"
)

const sizeHeader = 8

// NewFrame returns a Frame viewing buf. An error is returned if buf is
// shorter than the fixed 8-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame is a view over a byte slice holding a UDP datagram.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the Frame was constructed from.
func (ufrm Frame) RawData() []byte { return ufrm.buf }

// SourcePort returns the sending port.
func (ufrm Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(ufrm.buf[0:2]) }

// SetSourcePort sets the sending port.
func (ufrm Frame) SetSourcePort(p uint16) { binary.BigEndian.PutUint16(ufrm.buf[0:2], p) }

// DestinationPort returns the receiving port.
func (ufrm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(ufrm.buf[2:4]) }

// SetDestinationPort sets the receiving port.
func (ufrm Frame) SetDestinationPort(p uint16) { binary.BigEndian.PutUint16(ufrm.buf[2:4], p) }

// Length returns the UDP header+payload length field.
func (ufrm Frame) Length() uint16 { return binary.BigEndian.Uint16(ufrm.buf[4:6]) }

// SetLength sets the UDP header+payload length field.
func (ufrm Frame) SetLength(l uint16) { binary.BigEndian.PutUint16(ufrm.buf[4:6], l) }

// Checksum returns the checksum field.
func (ufrm Frame) Checksum() uint16 { return binary.BigEndian.Uint16(ufrm.buf[6:8]) }

// SetChecksum sets the checksum field.
func (ufrm Frame) SetChecksum(cs uint16) { binary.BigEndian.PutUint16(ufrm.buf[6:8], cs) }

// Payload returns the data following the header, bounded by Length.
func (ufrm Frame) Payload() []byte { return ufrm.buf[sizeHeader:ufrm.Length()] }

// ClearHeader zeros the fixed-size header portion of the frame.
func (ufrm Frame) ClearHeader() {
	for i := range ufrm.buf[:sizeHeader] {
		ufrm.buf[i] = 0
	}
}

// CalculateChecksum computes the UDP checksum over the IPv4 pseudo-header
// (source, destination, zero, protocol, UDP length) followed by this
// segment, with the checksum field read as whatever is currently there --
// callers must zero bytes 6:8 before calling this to recompute. A zero
// result is substituted with 0xFFFF.
func (ufrm Frame) CalculateChecksum(ip ipv4.Frame) uint16 {
	var crc netwire.CRC791
	crc.Write(ip.SourceAddr()[:])
	crc.Write(ip.DestinationAddr()[:])
	crc.AddUint16(uint16(ipv4.ProtoUDP))
	crc.AddUint16(ufrm.Length())
	crc.Write(ufrm.buf[:ufrm.Length()])
	return netwire.NeverZero(crc.Sum16())
}

// VerifyChecksum reports whether the segment's checksum field is consistent
// with its contents given the enclosing IPv4 header.
func (ufrm Frame) VerifyChecksum(ip ipv4.Frame) bool {
	var crc netwire.CRC791
	crc.Write(ip.SourceAddr()[:])
	crc.Write(ip.DestinationAddr()[:])
	crc.AddUint16(uint16(ipv4.ProtoUDP))
	crc.AddUint16(ufrm.Length())
	crc.Write(ufrm.buf[:ufrm.Length()])
	return crc.Sum16() == 0
}

// Fields is the plain-value representation of a UDP datagram used by
// [Build] and returned by [Frame.Fields].
type Fields struct {
	SourcePort      uint16
	DestinationPort uint16
	Payload         []byte
}

// Build serializes f into dst (grown as needed). The checksum is left
// uncalculated (zero) since it depends on the enclosing IPv4 pseudo-header;
// callers should call [Frame.CalculateChecksum] once the segment has been
// placed inside its IPv4 packet. This is the inverse of [Disassemble].
func Build(dst []byte, f Fields) (Frame, error) {
	total := sizeHeader + len(f.Payload)
	if total > 0xffff {
		return Frame{}, errors.New("udp: datagram too large")
	}
	if cap(dst) < total {
		dst = make([]byte, total)
	} else {
		dst = dst[:total]
	}
	ufrm := Frame{buf: dst}
	ufrm.ClearHeader()
	ufrm.SetSourcePort(f.SourcePort)
	ufrm.SetDestinationPort(f.DestinationPort)
	ufrm.SetLength(uint16(total))
	copy(dst[sizeHeader:], f.Payload)
	return ufrm, nil
}

// Disassemble parses buf into a Frame view; equivalent to [NewFrame].
func Disassemble(buf []byte) (Frame, error) { return NewFrame(buf) }

// Fields extracts the plain-value representation. Payload aliases the
// frame's backing buffer.
func (ufrm Frame) Fields() Fields {
	return Fields{
		SourcePort:      ufrm.SourcePort(),
		DestinationPort: ufrm.DestinationPort(),
		Payload:         ufrm.Payload(),
	}
}

var (
	errShort  = errors.New("udp: short buffer")
	errBadLen = errors.New("udp: bad length field")
)

// ValidateSize checks the frame's declared length against the actual
// buffer, appending any inconsistency found to v.
func (ufrm Frame) ValidateSize(v *netwire.Validator) {
	l := ufrm.Length()
	if l < sizeHeader {
		v.AddError(errBadLen)
	}
	if int(l) > len(ufrm.buf) {
		v.AddError(errShort)
	}
}
