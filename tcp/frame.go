// Package tcp implements byte-exact encode/decode of TCP segment headers
// (RFC 9293), including the pseudo-header checksum. It covers header
// construction and parsing only; no connection state machine.
package tcp

import (
	"encoding/binary"
	"errors"

	"github.com/packetwright/netsuite/ipv4"
	"github.com/packetwright/netsuite/netwire"
)

// NewFrame returns a Frame viewing buf. An error is returned if buf is
// shorter than the fixed 20-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame is a view over a byte slice holding a TCP segment.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the Frame was constructed from.
func (tfrm Frame) RawData() []byte { return tfrm.buf }

// SourcePort returns the sending port.
func (tfrm Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[0:2]) }

// SetSourcePort sets the sending port.
func (tfrm Frame) SetSourcePort(p uint16) { binary.BigEndian.PutUint16(tfrm.buf[0:2], p) }

// DestinationPort returns the receiving port.
func (tfrm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[2:4]) }

// SetDestinationPort sets the receiving port.
func (tfrm Frame) SetDestinationPort(p uint16) { binary.BigEndian.PutUint16(tfrm.buf[2:4], p) }

// Seq returns the sequence number.
func (tfrm Frame) Seq() uint32 { return binary.BigEndian.Uint32(tfrm.buf[4:8]) }

// SetSeq sets the sequence number.
func (tfrm Frame) SetSeq(v uint32) { binary.BigEndian.PutUint32(tfrm.buf[4:8], v) }

// Ack returns the acknowledgement number.
func (tfrm Frame) Ack() uint32 { return binary.BigEndian.Uint32(tfrm.buf[8:12]) }

// SetAck sets the acknowledgement number.
func (tfrm Frame) SetAck(v uint32) { binary.BigEndian.PutUint32(tfrm.buf[8:12], v) }

// offsetAndFlags returns the raw 13th/14th header bytes (data offset packed
// with the 9 control bits).
func (tfrm Frame) offsetAndFlags() uint16 { return binary.BigEndian.Uint16(tfrm.buf[12:14]) }

// DataOffset returns the header length in 32-bit words (minimum 5).
func (tfrm Frame) DataOffset() uint8 { return uint8(tfrm.offsetAndFlags() >> 12) }

// HeaderLength returns DataOffset*4, the byte offset to the payload.
func (tfrm Frame) HeaderLength() int { return int(tfrm.DataOffset()) * 4 }

// Flags returns the 9 control bits (NS, CWR, ECE, URG, ACK, PSH, RST, SYN, FIN).
func (tfrm Frame) Flags() Flags { return Flags(tfrm.offsetAndFlags() & 0x1ff) }

// SetOffsetAndFlags sets the data offset (in 32-bit words) and control bits.
func (tfrm Frame) SetOffsetAndFlags(dataOffsetWords uint8, flags Flags) {
	v := uint16(dataOffsetWords)<<12 | uint16(flags)&0x1ff
	binary.BigEndian.PutUint16(tfrm.buf[12:14], v)
}

// Window returns the receive window size.
func (tfrm Frame) Window() uint16 { return binary.BigEndian.Uint16(tfrm.buf[14:16]) }

// SetWindow sets the receive window size.
func (tfrm Frame) SetWindow(w uint16) { binary.BigEndian.PutUint16(tfrm.buf[14:16], w) }

// Checksum returns the checksum field.
func (tfrm Frame) Checksum() uint16 { return binary.BigEndian.Uint16(tfrm.buf[16:18]) }

// SetChecksum sets the checksum field.
func (tfrm Frame) SetChecksum(cs uint16) { binary.BigEndian.PutUint16(tfrm.buf[16:18], cs) }

// UrgentPointer returns the urgent pointer field.
func (tfrm Frame) UrgentPointer() uint16 { return binary.BigEndian.Uint16(tfrm.buf[18:20]) }

// SetUrgentPointer sets the urgent pointer field.
func (tfrm Frame) SetUrgentPointer(v uint16) { binary.BigEndian.PutUint16(tfrm.buf[18:20], v) }

// Options returns the variable-length options section.
func (tfrm Frame) Options() []byte { return tfrm.buf[sizeHeader:tfrm.HeaderLength()] }

// Payload returns the data following the header to the end of the buffer.
// Callers must slice the enclosing IPv4 payload to the segment length
// before calling NewFrame, since TCP carries no explicit segment length.
func (tfrm Frame) Payload() []byte { return tfrm.buf[tfrm.HeaderLength():] }

// ClearHeader zeros the fixed-size header portion of the frame.
func (tfrm Frame) ClearHeader() {
	for i := range tfrm.buf[:sizeHeader] {
		tfrm.buf[i] = 0
	}
}

// CalculateChecksum computes the TCP checksum over the IPv4 pseudo-header
// (source, destination, zero, protocol, TCP segment length) followed by
// this segment. Callers must zero bytes 16:18 before calling this to
// recompute. A zero result is substituted with 0xFFFF.
func (tfrm Frame) CalculateChecksum(ip ipv4.Frame) uint16 {
	var crc netwire.CRC791
	crc.Write(ip.SourceAddr()[:])
	crc.Write(ip.DestinationAddr()[:])
	crc.AddUint16(uint16(ipv4.ProtoTCP))
	crc.AddUint16(uint16(len(tfrm.buf)))
	crc.Write(tfrm.buf)
	return netwire.NeverZero(crc.Sum16())
}

// VerifyChecksum reports whether the segment's checksum field is consistent
// with its contents given the enclosing IPv4 header.
func (tfrm Frame) VerifyChecksum(ip ipv4.Frame) bool {
	var crc netwire.CRC791
	crc.Write(ip.SourceAddr()[:])
	crc.Write(ip.DestinationAddr()[:])
	crc.AddUint16(uint16(ipv4.ProtoTCP))
	crc.AddUint16(uint16(len(tfrm.buf)))
	crc.Write(tfrm.buf)
	return crc.Sum16() == 0
}

// Fields is the plain-value representation of a TCP header used by [Build]
// and returned by [Frame.Fields].
type Fields struct {
	SourcePort      uint16
	DestinationPort uint16
	Seq            uint32
	Ack            uint32
	Flags          Flags
	Window         uint16
	UrgentPointer  uint16
	Options        []byte // length must be a multiple of 4, <= 40
	Payload        []byte
}

// Build serializes f into dst (grown as needed). The checksum is left
// uncalculated (zero) since it depends on the enclosing IPv4 pseudo-header.
// This is the inverse of [Disassemble].
func Build(dst []byte, f Fields) (Frame, error) {
	if len(f.Options)%4 != 0 {
		return Frame{}, errors.New("tcp: options length must be a multiple of 4")
	}
	words := 5 + len(f.Options)/4
	if words > 15 {
		return Frame{}, errors.New("tcp: options too long")
	}
	hdrLen := words * 4
	total := hdrLen + len(f.Payload)
	if cap(dst) < total {
		dst = make([]byte, total)
	} else {
		dst = dst[:total]
	}
	tfrm := Frame{buf: dst}
	tfrm.ClearHeader()
	tfrm.SetSourcePort(f.SourcePort)
	tfrm.SetDestinationPort(f.DestinationPort)
	tfrm.SetSeq(f.Seq)
	tfrm.SetAck(f.Ack)
	tfrm.SetOffsetAndFlags(uint8(words), f.Flags)
	tfrm.SetWindow(f.Window)
	tfrm.SetUrgentPointer(f.UrgentPointer)
	copy(dst[sizeHeader:], f.Options)
	copy(dst[hdrLen:], f.Payload)
	return tfrm, nil
}

// Disassemble parses buf into a Frame view; equivalent to [NewFrame].
func Disassemble(buf []byte) (Frame, error) { return NewFrame(buf) }

// Fields extracts the plain-value representation. Options and Payload
// alias the frame's backing buffer.
func (tfrm Frame) Fields() Fields {
	return Fields{
		SourcePort:      tfrm.SourcePort(),
		DestinationPort: tfrm.DestinationPort(),
		Seq:             tfrm.Seq(),
		Ack:             tfrm.Ack(),
		Flags:           tfrm.Flags(),
		Window:          tfrm.Window(),
		UrgentPointer:   tfrm.UrgentPointer(),
		Options:         tfrm.Options(),
		Payload:         tfrm.Payload(),
	}
}

var (
	errShort     = errors.New("tcp: short buffer")
	errBadOffset = errors.New("tcp: data offset invalid")
	errZeroPort  = errors.New("tcp: zero port")
)

// ValidateSize checks the frame's declared data offset against the actual
// buffer length, appending any inconsistency found to v.
func (tfrm Frame) ValidateSize(v *netwire.Validator) {
	off := tfrm.HeaderLength()
	if off < sizeHeader {
		v.AddError(errBadOffset)
	}
	if off > len(tfrm.buf) {
		v.AddError(errShort)
	}
}

// ValidateExceptCRC performs ValidateSize plus a zero-port check, but does
// not verify the checksum.
func (tfrm Frame) ValidateExceptCRC(v *netwire.Validator) {
	tfrm.ValidateSize(v)
	if tfrm.SourcePort() == 0 || tfrm.DestinationPort() == 0 {
		v.AddError(errZeroPort)
	}
}
