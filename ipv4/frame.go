// Package ipv4 implements byte-exact encode/decode of IPv4 headers
// (RFC 791), including the Internet checksum.
package ipv4

import (
	"encoding/binary"
	"errors"
	"net/netip"

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

// Frame is a view over a byte slice holding an IPv4 packet.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the Frame was constructed from.
func (ifrm Frame) RawData() []byte { return ifrm.buf }

// HeaderLength returns IHL*4, the byte offset to the payload.
func (ifrm Frame) HeaderLength() int { return int(ifrm.ihl()) * 4 }

func (ifrm Frame) ihl() uint8     { return ifrm.buf[0] & 0xf }
func (ifrm Frame) version() uint8 { return ifrm.buf[0] >> 4 }

// VersionAndIHL returns the version (always 4 for a valid frame) and the
// Internet Header Length in 32-bit words.
func (ifrm Frame) VersionAndIHL() (version, ihl uint8) {
	v := ifrm.buf[0]
	return v >> 4, v & 0xf
}

// SetVersionAndIHL sets the version/IHL byte.
func (ifrm Frame) SetVersionAndIHL(version, ihl uint8) { ifrm.buf[0] = version<<4 | ihl&0xf }

// ToS returns the DSCP/ECN octet.
func (ifrm Frame) ToS() ToS { return ToS(ifrm.buf[1]) }

// SetToS sets the DSCP/ECN octet.
func (ifrm Frame) SetToS(tos ToS) { ifrm.buf[1] = byte(tos) }

// TotalLength returns the entire packet size, header plus payload.
func (ifrm Frame) TotalLength() uint16 { return binary.BigEndian.Uint16(ifrm.buf[2:4]) }

// SetTotalLength sets the total length field.
func (ifrm Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(ifrm.buf[2:4], tl) }

// ID returns the fragment identification field.
func (ifrm Frame) ID() uint16 { return binary.BigEndian.Uint16(ifrm.buf[4:6]) }

// SetID sets the fragment identification field.
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.buf[4:6], id) }

// Flags returns the fragmentation flags and offset.
func (ifrm Frame) Flags() Flags { return Flags(binary.BigEndian.Uint16(ifrm.buf[6:8])) }

// SetFlags sets the fragmentation flags and offset.
func (ifrm Frame) SetFlags(f Flags) { binary.BigEndian.PutUint16(ifrm.buf[6:8], uint16(f)) }

// TTL returns the time-to-live field.
func (ifrm Frame) TTL() uint8 { return ifrm.buf[8] }

// SetTTL sets the time-to-live field.
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.buf[8] = ttl }

// Protocol returns the encapsulated transport protocol.
func (ifrm Frame) Protocol() Protocol { return Protocol(ifrm.buf[9]) }

// SetProtocol sets the encapsulated transport protocol.
func (ifrm Frame) SetProtocol(p Protocol) { ifrm.buf[9] = uint8(p) }

// Checksum returns the header checksum field.
func (ifrm Frame) Checksum() uint16 { return binary.BigEndian.Uint16(ifrm.buf[10:12]) }

// SetChecksum sets the header checksum field.
func (ifrm Frame) SetChecksum(cs uint16) { binary.BigEndian.PutUint16(ifrm.buf[10:12], cs) }

// SourceAddr returns the source IPv4 address.
func (ifrm Frame) SourceAddr() *[4]byte { return (*[4]byte)(ifrm.buf[12:16]) }

// SetSourceAddr sets the source IPv4 address.
func (ifrm Frame) SetSourceAddr(a [4]byte) { copy(ifrm.buf[12:16], a[:]) }

// DestinationAddr returns the destination IPv4 address.
func (ifrm Frame) DestinationAddr() *[4]byte { return (*[4]byte)(ifrm.buf[16:20]) }

// SetDestinationAddr sets the destination IPv4 address.
func (ifrm Frame) SetDestinationAddr(a [4]byte) { copy(ifrm.buf[16:20], a[:]) }

// Options returns the variable-length options section, (IHL-5)*4 bytes.
func (ifrm Frame) Options() []byte {
	return ifrm.buf[sizeHeader:ifrm.HeaderLength()]
}

// SetOptions copies opts into the header's options section. The caller
// must have already sized the header (via SetVersionAndIHL) to fit len(opts)
// rounded up to a multiple of 4.
func (ifrm Frame) SetOptions(opts []byte) { copy(ifrm.buf[sizeHeader:], opts) }

// Payload returns the data following the header, bounded by TotalLength.
func (ifrm Frame) Payload() []byte {
	off := ifrm.HeaderLength()
	return ifrm.buf[off:ifrm.TotalLength()]
}

// ClearHeader zeros the fixed-size header portion of the frame.
func (ifrm Frame) ClearHeader() {
	for i := range ifrm.buf[:sizeHeader] {
		ifrm.buf[i] = 0
	}
}

// CalculateHeaderChecksum computes the Internet checksum over the header
// (bytes 0..HeaderLength, including options) with the checksum field itself
// read as whatever is currently there -- callers recomputing a checksum
// must zero bytes 10:12 first. A zero result is folded to 0xFFFF so the
// field never reads as "no checksum computed".
func (ifrm Frame) CalculateHeaderChecksum() uint16 {
	var crc netwire.CRC791
	hl := ifrm.HeaderLength()
	crc.Write(ifrm.buf[0:hl])
	return netwire.NeverZero(crc.Sum16())
}

// VerifyHeaderChecksum reports whether the header's checksum field is
// consistent with its contents: summing the header as 16-bit words,
// checksum field included, must fold to the all-ones value.
func (ifrm Frame) VerifyHeaderChecksum() bool {
	var crc netwire.CRC791
	crc.Write(ifrm.buf[0:ifrm.HeaderLength()])
	return crc.Sum16() == 0
}

// crcWritePseudo feeds the UDP/TCP pseudo-header (source, destination,
// zero, protocol, segment length) into crc.
func (ifrm Frame) crcWritePseudo(crc *netwire.CRC791, segmentLen uint16) {
	crc.Write(ifrm.SourceAddr()[:])
	crc.Write(ifrm.DestinationAddr()[:])
	crc.AddUint16(uint16(ifrm.Protocol()))
	crc.AddUint16(segmentLen)
}

// Fields is the plain-value representation of an IPv4 header used by
// [Build] and returned by [Frame.Fields].
type Fields struct {
	ToS         ToS
	ID          uint16
	Flags       Flags
	TTL         uint8
	Protocol    Protocol
	Source      [4]byte
	Destination [4]byte
	Options     []byte // length must be a multiple of 4, <= 40
	Payload     []byte
}

// Build serializes f into dst (grown as needed), computes IHL and total
// length, and fills in the header checksum. This is the inverse of
// [Disassemble].
func Build(dst []byte, f Fields) (Frame, error) {
	if len(f.Options)%4 != 0 {
		return Frame{}, errors.New("ipv4: options length must be a multiple of 4")
	}
	ihl := 5 + len(f.Options)/4
	if ihl > 15 {
		return Frame{}, errors.New("ipv4: options too long")
	}
	hdrLen := ihl * 4
	total := hdrLen + len(f.Payload)
	if total > 0xffff {
		return Frame{}, errors.New("ipv4: packet too large")
	}
	if cap(dst) < total {
		dst = make([]byte, total)
	} else {
		dst = dst[:total]
	}
	ifrm := Frame{buf: dst}
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, uint8(ihl))
	ifrm.SetToS(f.ToS)
	ifrm.SetTotalLength(uint16(total))
	ifrm.SetID(f.ID)
	ifrm.SetFlags(f.Flags)
	ifrm.SetTTL(f.TTL)
	ifrm.SetProtocol(f.Protocol)
	ifrm.SetSourceAddr(f.Source)
	ifrm.SetDestinationAddr(f.Destination)
	ifrm.SetOptions(f.Options)
	copy(dst[hdrLen:], f.Payload)
	ifrm.SetChecksum(ifrm.CalculateHeaderChecksum())
	return ifrm, nil
}

// Disassemble parses buf into a Frame view; equivalent to [NewFrame].
func Disassemble(buf []byte) (Frame, error) { return NewFrame(buf) }

// Fields extracts the plain-value representation of the header. Options
// and Payload alias the frame's backing buffer.
func (ifrm Frame) Fields() Fields {
	return Fields{
		ToS:         ifrm.ToS(),
		ID:          ifrm.ID(),
		Flags:       ifrm.Flags(),
		TTL:         ifrm.TTL(),
		Protocol:    ifrm.Protocol(),
		Source:      *ifrm.SourceAddr(),
		Destination: *ifrm.DestinationAddr(),
		Options:     ifrm.Options(),
		Payload:     ifrm.Payload(),
	}
}

func (ifrm Frame) String() string {
	src := netip.AddrFrom4(*ifrm.SourceAddr())
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	return ifrm.Protocol().String() + " " + src.String() + " -> " + dst.String()
}

var (
	errShort      = errors.New("ipv4: short buffer")
	errBadTL      = errors.New("ipv4: bad total length")
	errBadIHL     = errors.New("ipv4: bad IHL (<5)")
	errBadVersion = errors.New("ipv4: bad version field")
	errEvil       = errors.New("ipv4: evil bit set")
)

// ValidateSize checks the frame's declared sizes against the actual buffer
// length, appending any inconsistency found to v. Callers must not slice
// Options or Payload of a frame that fails validation: both index the
// buffer by the IHL and total-length fields checked here.
func (ifrm Frame) ValidateSize(v *netwire.Validator) {
	ihl := ifrm.ihl()
	tl := ifrm.TotalLength()
	if tl < sizeHeader || int(tl) < ifrm.HeaderLength() {
		v.AddError(errBadTL)
	}
	if int(tl) > len(ifrm.buf) {
		v.AddError(errShort)
	}
	if ihl < 5 {
		v.AddError(errBadIHL)
	}
}

// ValidateExceptCRC performs ValidateSize plus version and (optionally)
// evil-bit checks, but does not verify the header checksum.
func (ifrm Frame) ValidateExceptCRC(v *netwire.Validator) {
	ifrm.ValidateSize(v)
	if ifrm.version() != 4 {
		v.AddError(errBadVersion)
	}
	if v.Flags()&netwire.ValidateEvilBit != 0 && ifrm.Flags().IsEvil() {
		v.AddError(errEvil)
	}
}
