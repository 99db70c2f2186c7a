// Package netwire holds the small set of primitives shared by the raw-packet
// codecs: the running Internet checksum (RFC 791), a multi-error validator
// used by every Frame's ValidateSize method, and the EtherType/IPProto enums
// that tie Ethernet, IPv4, UDP and TCP together.
package netwire

import "encoding/binary"

// EtherType identifies the payload protocol carried by an Ethernet frame.
type EtherType uint16

// IsSize reports whether et is actually the IEEE 802.3 payload length field
// rather than an EtherType; values <=1500 are lengths, not types.
func (et EtherType) IsSize() bool { return et <= 1500 }

func (et EtherType) String() string {
	if s, ok := etherTypeNames[et]; ok {
		return s
	}
	return "EtherType(0x" + hex16(uint16(et)) + ")"
}

// Well-known EtherType values used by this module.
const (
	EtherTypeIPv4         EtherType = 0x0800
	EtherTypeARP          EtherType = 0x0806
	EtherTypeIPv6         EtherType = 0x86DD
	EtherTypeVLAN         EtherType = 0x8100
	EtherTypeServiceVLAN  EtherType = 0x88A8
	minEthernetPayload              = 46
)

var etherTypeNames = map[EtherType]string{
	EtherTypeIPv4:        "IPv4",
	EtherTypeARP:         "ARP",
	EtherTypeIPv6:        "IPv6",
	EtherTypeVLAN:        "VLAN",
	EtherTypeServiceVLAN: "ServiceVLAN",
}

// IPProto identifies the transport-layer protocol carried by an IPv4 payload.
type IPProto uint8

const (
	IPProtoICMP IPProto = 1
	IPProtoTCP  IPProto = 6
	IPProtoUDP  IPProto = 17
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	default:
		return "IPProto(" + hex16(uint16(p)) + ")"
	}
}

func hex16(v uint16) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[v>>12&0xf], digits[v>>8&0xf], digits[v>>4&0xf], digits[v&0xf]})
}

// CRC791 implements the Internet checksum algorithm described in RFC 791
// §3.1 and used unmodified by IPv4, UDP and TCP: ones'-complement sum of the
// message interpreted as 16-bit big-endian words, carries folded back in.
//
// The zero value is ready to use.
type CRC791 struct {
	sum uint32
}

// Write adds buf to the running sum as big-endian 16-bit words. An odd
// trailing byte is padded on the right with a zero byte, so only the last
// buffer written into a sum may have odd length.
func (c *CRC791) Write(buf []byte) {
	n := len(buf) &^ 1
	for i := 0; i < n; i += 2 {
		c.sum += uint32(binary.BigEndian.Uint16(buf[i:]))
	}
	if len(buf)&1 != 0 {
		c.sum += uint32(buf[len(buf)-1]) << 8
	}
}

// AddUint16 folds a single big-endian 16-bit word into the running sum.
func (c *CRC791) AddUint16(v uint16) { c.sum += uint32(v) }

// AddUint32 folds a 32-bit value into the running sum as two 16-bit words.
func (c *CRC791) AddUint32(v uint32) {
	c.AddUint16(uint16(v >> 16))
	c.AddUint16(uint16(v))
}

// Sum16 folds carries and returns the ones'-complement of the running sum.
// A zero result is returned as 0; the IPv4 header, UDP and TCP checksum
// calculations in this module pass it through [NeverZero].
func (c *CRC791) Sum16() uint16 {
	sum := c.sum
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// Reset zeros the running sum so the value may be reused.
func (c *CRC791) Reset() { c.sum = 0 }

// NeverZero substitutes 0xFFFF for a zero checksum, as required for UDP and
// TCP where a literal zero field means "no checksum computed".
func NeverZero(sum16 uint16) uint16 {
	if sum16 == 0 {
		return 0xFFFF
	}
	return sum16
}

// Validator accumulates zero or more structural errors found while checking
// a Frame's size and field invariants. Every raw-packet Frame type exposes a
// ValidateSize(*Validator) method that appends to one of these instead of
// returning early, so a single pass can report every problem found.
type Validator struct {
	errs  []error
	flags ValidatorFlags
}

// ValidatorFlags customizes optional, stricter checks a caller can opt into.
type ValidatorFlags uint8

const (
	// ValidateEvilBit rejects IPv4 packets with RFC 3514's reserved "evil"
	// bit set. Off by default: almost no real traffic sets it deliberately
	// and most stacks ignore it.
	ValidateEvilBit ValidatorFlags = 1 << iota
)

// Flags returns the optional-check flags configured on the validator.
func (v *Validator) Flags() ValidatorFlags { return v.flags }

// SetFlags configures which optional, stricter checks ValidateExceptCRC
// methods should perform.
func (v *Validator) SetFlags(f ValidatorFlags) { v.flags = f }

// AddError appends a non-nil error to the validator's error list.
func (v *Validator) AddError(err error) {
	if err != nil {
		v.errs = append(v.errs, err)
	}
}

// HasError reports whether any error has been recorded.
func (v *Validator) HasError() bool { return len(v.errs) > 0 }

// ErrPop returns and clears the first recorded error, or nil if none.
func (v *Validator) ErrPop() error {
	if len(v.errs) == 0 {
		return nil
	}
	err := v.errs[0]
	v.errs = v.errs[1:]
	if len(v.errs) == 0 {
		v.errs = nil
	}
	return err
}

// Errs returns every error recorded since the last Reset.
func (v *Validator) Errs() []error { return v.errs }

// Reset clears all recorded errors, readying the validator for reuse.
func (v *Validator) Reset() { v.errs = v.errs[:0] }
