// Package ethernet implements byte-exact encode/decode of IEEE 802.3
// Ethernet II frames, including 802.1Q/802.1ad VLAN tag detection.
package ethernet

import (
	"encoding/binary"
	"errors"

	"github.com/packetwright/netsuite/netwire"
)

// NewFrame returns a Frame viewing buf. An error is returned if buf is
// shorter than the minimum untagged header size (14 bytes); callers must
// still call [Frame.ValidateSize] before trusting VLAN/payload bounds.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderNoVLAN {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame is a view over a byte slice holding an Ethernet II frame (first
// byte is the destination address; no preamble or FCS trailer included).
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the Frame was constructed from.
func (efrm Frame) RawData() []byte { return efrm.buf }

// HeaderLength returns 14 for an untagged frame, 18 if a VLAN tag is present.
func (efrm Frame) HeaderLength() int {
	if efrm.IsVLAN() {
		return sizeHeaderVLAN
	}
	return sizeHeaderNoVLAN
}

// Payload returns the data following the header, sized using EtherTypeOrSize
// when that field holds an 802.3 length rather than an EtherType.
func (efrm Frame) Payload() []byte {
	hl := efrm.HeaderLength()
	et := efrm.EtherTypeOrSize()
	if et.IsSize() {
		return efrm.buf[hl : hl+int(et)]
	}
	return efrm.buf[hl:]
}

// DestinationHardwareAddr returns the destination MAC address.
func (efrm Frame) DestinationHardwareAddr() *[6]byte { return (*[6]byte)(efrm.buf[0:6]) }

// SetDestinationHardwareAddr sets the destination MAC address.
func (efrm Frame) SetDestinationHardwareAddr(addr [6]byte) { copy(efrm.buf[0:6], addr[:]) }

// IsBroadcast reports whether the destination address is ff:ff:ff:ff:ff:ff.
func (efrm Frame) IsBroadcast() bool {
	d := efrm.buf[0:6]
	return d[0] == 0xff && d[1] == 0xff && d[2] == 0xff && d[3] == 0xff && d[4] == 0xff && d[5] == 0xff
}

// SourceHardwareAddr returns the source MAC address.
func (efrm Frame) SourceHardwareAddr() *[6]byte { return (*[6]byte)(efrm.buf[6:12]) }

// SetSourceHardwareAddr sets the source MAC address.
func (efrm Frame) SetSourceHardwareAddr(addr [6]byte) { copy(efrm.buf[6:12], addr[:]) }

// EtherTypeOrSize returns the raw 12:14 field. Callers should check
// [Type.IsSize] before interpreting it as an EtherType.
func (efrm Frame) EtherTypeOrSize() Type {
	return Type(binary.BigEndian.Uint16(efrm.buf[12:14]))
}

// SetEtherType sets the 12:14 field.
func (efrm Frame) SetEtherType(v Type) { binary.BigEndian.PutUint16(efrm.buf[12:14], uint16(v)) }

// IsVLAN reports whether the frame carries an 802.1Q/802.1ad tag, detected
// from the wire value of bytes 12:14 rather than any out-of-band flag, per
// the invariant that a tagged frame is always 4 bytes longer than untagged.
func (efrm Frame) IsVLAN() bool {
	et := efrm.EtherTypeOrSize()
	return et == TypeVLAN || et == TypeServiceVLAN
}

// VLANTag returns the VLAN tag field (bytes 14:16). Only meaningful if
// [Frame.IsVLAN] is true.
func (efrm Frame) VLANTag() VLANTag { return VLANTag(binary.BigEndian.Uint16(efrm.buf[14:16])) }

// SetVLANTag sets the VLAN tag field (bytes 14:16).
func (efrm Frame) SetVLANTag(vt VLANTag) { binary.BigEndian.PutUint16(efrm.buf[14:16], uint16(vt)) }

// VLANEtherType returns the real EtherType carried after the VLAN tag
// (bytes 16:18). Only meaningful if [Frame.IsVLAN] is true.
func (efrm Frame) VLANEtherType() Type { return Type(binary.BigEndian.Uint16(efrm.buf[16:18])) }

// SetVLANEtherType sets the real EtherType carried after the VLAN tag.
func (efrm Frame) SetVLANEtherType(et Type) { binary.BigEndian.PutUint16(efrm.buf[16:18], uint16(et)) }

// ClearHeader zeros the fixed-size header portion of the frame.
func (efrm Frame) ClearHeader() {
	for i := range efrm.buf[:efrm.HeaderLength()] {
		efrm.buf[i] = 0
	}
}

// Fields is the plain-value, order-independent representation of an
// Ethernet frame used by [Build] and returned by [Frame.Fields]. Round
// tripping through Build then Fields reproduces the original value.
type Fields struct {
	Destination [6]byte
	Source      [6]byte
	VLAN        *VLANTag // nil for an untagged frame
	EtherType   Type     // real payload EtherType (carried as VLANEtherType on the wire if VLAN != nil)
	Payload     []byte
}

// Build serializes f into dst (grown as needed) and returns the resulting
// Frame view. This is the inverse of [Disassemble].
func Build(dst []byte, f Fields) (Frame, error) {
	hdrLen := sizeHeaderNoVLAN
	if f.VLAN != nil {
		hdrLen = sizeHeaderVLAN
	}
	total := hdrLen + len(f.Payload)
	if cap(dst) < total {
		dst = make([]byte, total)
	} else {
		dst = dst[:total]
	}
	efrm := Frame{buf: dst}
	efrm.SetDestinationHardwareAddr(f.Destination)
	efrm.SetSourceHardwareAddr(f.Source)
	if f.VLAN != nil {
		efrm.SetVLAN(*f.VLAN, f.EtherType)
	} else {
		efrm.SetEtherType(f.EtherType)
	}
	copy(dst[hdrLen:], f.Payload)
	return efrm, nil
}

// SetVLAN sets the EtherType field to TypeVLAN and writes the tag plus
// inner EtherType in one call.
func (efrm Frame) SetVLAN(tag VLANTag, innerType Type) {
	efrm.SetEtherType(TypeVLAN)
	efrm.SetVLANTag(tag)
	efrm.SetVLANEtherType(innerType)
}

// Disassemble parses buf into a Frame view; equivalent to [NewFrame] but
// named to mirror the encode/decode pair used throughout this module.
func Disassemble(buf []byte) (Frame, error) { return NewFrame(buf) }

// Fields extracts the plain-value representation of the frame. Payload
// aliases the frame's backing buffer.
func (efrm Frame) Fields() Fields {
	f := Fields{
		Destination: *efrm.DestinationHardwareAddr(),
		Source:      *efrm.SourceHardwareAddr(),
		Payload:     efrm.Payload(),
	}
	if efrm.IsVLAN() {
		vt := efrm.VLANTag()
		f.VLAN = &vt
		f.EtherType = efrm.VLANEtherType()
	} else {
		f.EtherType = efrm.EtherTypeOrSize()
	}
	return f
}

var errShort = errors.New("ethernet: frame shorter than minimum header")
var errShortVLAN = errors.New("ethernet: frame too short for VLAN header")

// ValidateSize checks the frame's declared sizes against the actual buffer
// length, appending any inconsistency found to v. Callers must not slice
// Payload or read the VLAN fields of a frame that fails validation.
func (efrm Frame) ValidateSize(v *netwire.Validator) {
	if efrm.IsVLAN() && len(efrm.buf) < sizeHeaderVLAN {
		v.AddError(errShortVLAN)
		return
	}
	sz := efrm.EtherTypeOrSize()
	if sz.IsSize() && len(efrm.buf) < efrm.HeaderLength()+int(sz) {
		v.AddError(errShort)
	}
}
