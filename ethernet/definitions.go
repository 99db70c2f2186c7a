package ethernet

import (
	"strconv"

	"github.com/packetwright/netsuite/netwire"
)

const (
	sizeHeaderNoVLAN = 14
	sizeHeaderVLAN   = 18
)

// Type is an alias of [netwire.EtherType] kept local so callers of this
// package don't need to import netwire for the common case.
type Type = netwire.EtherType

// Re-exported well-known EtherType values.
const (
	TypeIPv4        = netwire.EtherTypeIPv4
	TypeARP         = netwire.EtherTypeARP
	TypeIPv6        = netwire.EtherTypeIPv6
	TypeVLAN        = netwire.EtherTypeVLAN
	TypeServiceVLAN = netwire.EtherTypeServiceVLAN
)

// AppendAddr appends the colon-separated hex text representation of hwAddr
// to dst, e.g. "aa:bb:cc:dd:ee:ff".
func AppendAddr(dst []byte, hwAddr [6]byte) []byte {
	for i, b := range hwAddr {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst
}

// BroadcastAddr returns the all-ones ff:ff:ff:ff:ff:ff hardware address.
func BroadcastAddr() [6]byte {
	return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// VLANTag holds the priority (PCP), drop-eligible indicator (DEI) and VLAN
// ID bits of an 802.1Q tag.
type VLANTag uint16

// DropEligibleIndicator reports the DEI bit.
func (vt VLANTag) DropEligibleIndicator() bool { return vt&(1<<3) != 0 }

// PriorityCodePoint returns the 3-bit 802.1p class-of-service field.
func (vt VLANTag) PriorityCodePoint() uint8 { return uint8(vt & 0b111) }

// VLANIdentifier returns the 12-bit VLAN ID field.
func (vt VLANTag) VLANIdentifier() uint16 { return uint16(vt) >> 4 }
