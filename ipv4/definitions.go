package ipv4

import "github.com/packetwright/netsuite/netwire"

const sizeHeader = 20

// Protocol is an alias of [netwire.IPProto].
type Protocol = netwire.IPProto

const (
	ProtoICMP = netwire.IPProtoICMP
	ProtoTCP  = netwire.IPProtoTCP
	ProtoUDP  = netwire.IPProtoUDP
)

// ToS represents the Type-of-Service octet: 6 bits DSCP, 2 bits ECN.
type ToS uint8

// DSCP returns the Differentiated Services Code Point.
func (tos ToS) DSCP() uint8 { return uint8(tos) >> 2 }

// ECN returns the Explicit Congestion Notification bits.
func (tos ToS) ECN() uint8 { return uint8(tos) & 0b11 }

// Flags holds the 3-bit fragmentation flags plus the 13-bit fragment offset
// that together make up the IPv4 header's 4th 16-bit word.
type Flags uint16

// IsEvil reports RFC 3514's reserved "evil" bit.
func (f Flags) IsEvil() bool { return f&0x8000 != 0 }

// DontFragment reports the DF bit.
func (f Flags) DontFragment() bool { return f&0x4000 != 0 }

// MoreFragments reports the MF bit.
func (f Flags) MoreFragments() bool { return f&0x2000 != 0 }

// FragmentOffset returns the 13-bit fragment offset, in units of 8 bytes.
func (f Flags) FragmentOffset() uint16 { return uint16(f) & 0x1fff }

// NewFlags packs fragmentation flags and a fragment offset (in 8-byte
// units) into a single Flags value.
func NewFlags(dontFragment, moreFragments bool, fragOffset uint16) Flags {
	var f Flags
	if dontFragment {
		f |= 0x4000
	}
	if moreFragments {
		f |= 0x2000
	}
	f |= Flags(fragOffset & 0x1fff)
	return f
}
