// Package icmpv4 implements byte-exact encode/decode of ICMP messages
// (RFC 792), most usefully the echo request/reply pair.
package icmpv4

import (
	"encoding/binary"
	"errors"

	"github.com/packetwright/netsuite/netwire"
)

const sizeHeader = 8

// Type is the ICMP message type octet.
type Type uint8

const (
	TypeEchoReply Type = 0
	TypeEcho      Type = 8

	TypeDestinationUnreachable Type = 3
	TypeSourceQuench           Type = 4
	TypeRedirect               Type = 5

	TypeTimeExceeded     Type = 11
	TypeParameterProblem Type = 12

	TypeTimestamp      Type = 13
	TypeTimestampReply Type = 14
)

func (t Type) String() string {
	switch t {
	case TypeEchoReply:
		return "echo reply"
	case TypeEcho:
		return "echo"
	case TypeDestinationUnreachable:
		return "destination unreachable"
	case TypeTimeExceeded:
		return "time exceeded"
	default:
		return "Type(?)"
	}
}

// CodeDestinationUnreachable refines [TypeDestinationUnreachable].
type CodeDestinationUnreachable uint8

const (
	CodeNetUnreachable CodeDestinationUnreachable = iota
	CodeHostUnreachable
	CodeProtoUnreachable
	CodePortUnreachable
	CodeFragNeededAndDFSet
	CodeSourceRouteFailed
)

var errShort = errors.New("icmpv4: short buffer")

// NewFrame returns a Frame viewing buf. An error is returned if buf is
// shorter than the fixed 8-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame is a view over a byte slice holding an ICMP message.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the Frame was constructed from.
func (frm Frame) RawData() []byte { return frm.buf }

// Type returns the message type octet.
func (frm Frame) Type() Type { return Type(frm.buf[0]) }

// SetType sets the message type octet.
func (frm Frame) SetType(t Type) { frm.buf[0] = uint8(t) }

// Code returns the type-specific code octet.
func (frm Frame) Code() uint8 { return frm.buf[1] }

// SetCode sets the type-specific code octet.
func (frm Frame) SetCode(code uint8) { frm.buf[1] = code }

// Checksum returns the checksum field.
func (frm Frame) Checksum() uint16 { return binary.BigEndian.Uint16(frm.buf[2:4]) }

// SetChecksum sets the checksum field.
func (frm Frame) SetChecksum(cs uint16) { binary.BigEndian.PutUint16(frm.buf[2:4], cs) }

// CalculateChecksum computes the RFC 792 checksum over the whole message
// with the checksum field treated as zero.
func (frm Frame) CalculateChecksum() uint16 {
	var crc netwire.CRC791
	crc.AddUint16(binary.BigEndian.Uint16(frm.buf[0:2]))
	crc.Write(frm.buf[4:])
	return crc.Sum16()
}

// VerifyChecksum reports whether the checksum field matches the message
// contents.
func (frm Frame) VerifyChecksum() bool {
	var crc netwire.CRC791
	crc.Write(frm.buf)
	return crc.Sum16() == 0
}

// ValidateSize appends a structural error to v when the buffer cannot
// hold the fixed header.
func (frm Frame) ValidateSize(v *netwire.Validator) {
	if len(frm.buf) < sizeHeader {
		v.AddError(errShort)
	}
}

// Echo is the echo request/reply view of a Frame: identifier and sequence
// number in the rest-of-header word, payload after.
type Echo struct {
	Frame
}

// Identifier returns the echo identifier (bytes 4:6).
func (frm Echo) Identifier() uint16 { return binary.BigEndian.Uint16(frm.buf[4:6]) }

// SetIdentifier sets the echo identifier.
func (frm Echo) SetIdentifier(id uint16) { binary.BigEndian.PutUint16(frm.buf[4:6], id) }

// SequenceNumber returns the echo sequence number (bytes 6:8).
func (frm Echo) SequenceNumber() uint16 { return binary.BigEndian.Uint16(frm.buf[6:8]) }

// SetSequenceNumber sets the echo sequence number.
func (frm Echo) SetSequenceNumber(seq uint16) { binary.BigEndian.PutUint16(frm.buf[6:8], seq) }

// Data returns the echo payload.
func (frm Echo) Data() []byte { return frm.buf[8:] }

// BuildEcho serializes an echo request (or reply, when reply is set) into
// dst with the checksum filled in.
func BuildEcho(dst []byte, reply bool, id, seq uint16, data []byte) (Echo, error) {
	total := sizeHeader + len(data)
	if cap(dst) < total {
		dst = make([]byte, total)
	} else {
		dst = dst[:total]
	}
	frm := Echo{Frame{buf: dst}}
	t := TypeEcho
	if reply {
		t = TypeEchoReply
	}
	frm.SetType(t)
	frm.SetCode(0)
	frm.SetIdentifier(id)
	frm.SetSequenceNumber(seq)
	copy(dst[sizeHeader:], data)
	frm.SetChecksum(0)
	frm.SetChecksum(frm.CalculateChecksum())
	return frm, nil
}
