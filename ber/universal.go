package ber

import (
	"errors"
	"math"

	"github.com/packetwright/netsuite/twoscomplement"
)

var (
	errBadBoolLength   = errors.New("ber: BOOLEAN content must be exactly one octet")
	errBadNullLength   = errors.New("ber: NULL content must be empty")
	errEmptyBitString  = errors.New("ber: BIT STRING content must carry an unused-bits octet")
	errBadUnusedBits   = errors.New("ber: unused-bits count out of range")
	errEmptyInteger    = errors.New("ber: INTEGER content must not be empty")
	errBadOID          = errors.New("ber: malformed OBJECT IDENTIFIER")
	errRealDecimalForm = errors.New("ber: ISO-6093 decimal REAL encoding not supported")
	errRealReservedFmt = errors.New("ber: reserved REAL binary exponent format")
)

// EncodeBoolean returns the BER encoding of a BOOLEAN. Per X.690 §8.2, any
// non-zero octet means true on decode, but an encoder must emit 0xFF.
func EncodeBoolean(v bool) Element {
	b := byte(0x00)
	if v {
		b = 0xff
	}
	return Element{Identity: Identity{ClassUniversal, Primitive, TagBoolean}, Content: []byte{b}}
}

// DecodeBoolean interprets e's content as a BOOLEAN.
func DecodeBoolean(e Element) (bool, error) {
	if len(e.Content) != 1 {
		return false, errBadBoolLength
	}
	return e.Content[0] != 0, nil
}

// EncodeInteger returns the BER encoding of an INTEGER using the minimum
// number of content octets (see [twoscomplement.MinBytes]).
func EncodeInteger(v int64) Element {
	return Element{Identity: Identity{ClassUniversal, Primitive, TagInteger}, Content: encodeSignedContent(v)}
}

// DecodeInteger interprets e's content as an INTEGER.
func DecodeInteger(e Element) (int64, error) { return decodeSignedContent(e.Content) }

// EncodeEnumerated is identical to [EncodeInteger] but tags the result
// ENUMERATED.
func EncodeEnumerated(v int64) Element {
	return Element{Identity: Identity{ClassUniversal, Primitive, TagEnumerated}, Content: encodeSignedContent(v)}
}

// DecodeEnumerated interprets e's content as an ENUMERATED value.
func DecodeEnumerated(e Element) (int64, error) { return decodeSignedContent(e.Content) }

func encodeSignedContent(v int64) []byte {
	n := twoscomplement.MinBytes(v)
	buf := make([]byte, n)
	u := twoscomplement.ToComplement(v, n*8)
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	return buf
}

func decodeSignedContent(content []byte) (int64, error) {
	if len(content) == 0 {
		return 0, errEmptyInteger
	}
	var u uint64
	for _, b := range content {
		u = u<<8 | uint64(b)
	}
	return twoscomplement.FromComplement(u, len(content)*8), nil
}

// EncodeNull returns the BER encoding of NULL.
func EncodeNull() Element {
	return Element{Identity: Identity{ClassUniversal, Primitive, TagNull}}
}

// DecodeNull checks that e is a valid NULL encoding.
func DecodeNull(e Element) error {
	if len(e.Content) != 0 {
		return errBadNullLength
	}
	return nil
}

// EncodeOctetString returns the BER encoding of an OCTET STRING.
func EncodeOctetString(b []byte) Element {
	return Element{Identity: Identity{ClassUniversal, Primitive, TagOctetString}, Content: b}
}

// DecodeOctetString interprets e's content as an OCTET STRING. The returned
// slice aliases e.Content.
func DecodeOctetString(e Element) ([]byte, error) { return e.Content, nil }

// BitString is a BER BIT STRING: Bytes holds the full octets and
// UnusedBits (0-7) the count of low-order padding bits in the last byte
// that are not part of the value.
type BitString struct {
	Bytes      []byte
	UnusedBits int
}

// EncodeBitString returns the BER encoding of a BIT STRING.
func EncodeBitString(bs BitString) Element {
	content := make([]byte, 1+len(bs.Bytes))
	content[0] = byte(bs.UnusedBits)
	copy(content[1:], bs.Bytes)
	return Element{Identity: Identity{ClassUniversal, Primitive, TagBitString}, Content: content}
}

// DecodeBitString interprets e's content as a BIT STRING.
func DecodeBitString(e Element) (BitString, error) {
	if len(e.Content) == 0 {
		return BitString{}, errEmptyBitString
	}
	unused := int(e.Content[0])
	if unused > 7 || (unused > 0 && len(e.Content) == 1) {
		return BitString{}, errBadUnusedBits
	}
	return BitString{Bytes: e.Content[1:], UnusedBits: unused}, nil
}

// EncodeObjectIdentifier returns the BER encoding of an OBJECT IDENTIFIER.
// The first two arcs are packed into a single subidentifier as 40*X + Y, the
// convention X.690 §8.19.4 describes and leaves no alternative for encoders
// to choose between (the first arc is always 0, 1, or 2, and the packing is
// the standard's own rule rather than an implementation choice).
func EncodeObjectIdentifier(arcs []uint64) (Element, error) {
	if len(arcs) < 2 {
		return Element{}, errBadOID
	}
	if arcs[0] > 2 || (arcs[0] < 2 && arcs[1] >= 40) {
		return Element{}, errBadOID
	}
	var content []byte
	content = appendBase128(content, 40*arcs[0]+arcs[1])
	for _, a := range arcs[2:] {
		content = appendBase128(content, a)
	}
	return Element{Identity: Identity{ClassUniversal, Primitive, TagObjectIdentifier}, Content: content}, nil
}

// DecodeObjectIdentifier interprets e's content as an OBJECT IDENTIFIER,
// unpacking the first subidentifier back into its two leading arcs.
func DecodeObjectIdentifier(e Element) ([]uint64, error) {
	if len(e.Content) == 0 {
		return nil, errBadOID
	}
	subs, err := decodeBase128List(e.Content)
	if err != nil {
		return nil, err
	}
	first := subs[0]
	var a, b uint64
	if first < 40 {
		a, b = 0, first
	} else if first < 80 {
		a, b = 1, first-40
	} else {
		a, b = 2, first-80
	}
	arcs := make([]uint64, 0, len(subs)+1)
	arcs = append(arcs, a, b)
	arcs = append(arcs, subs[1:]...)
	return arcs, nil
}

func appendBase128(dst []byte, v uint64) []byte {
	var groups []byte
	groups = append(groups, byte(v&0x7f))
	v >>= 7
	for v > 0 {
		groups = append(groups, byte(v&0x7f)|0x80)
		v >>= 7
	}
	for i := len(groups) - 1; i >= 0; i-- {
		dst = append(dst, groups[i])
	}
	return dst
}

func decodeBase128List(data []byte) ([]uint64, error) {
	var out []uint64
	var cur uint64
	started := false
	for _, b := range data {
		started = true
		cur = cur<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			out = append(out, cur)
			cur = 0
			started = false
		}
	}
	if started {
		return nil, errBadOID
	}
	return out, nil
}

// EncodeSequence returns the BER encoding of a SEQUENCE whose members are
// elems, encoded in order.
func EncodeSequence(elems []Element) Element {
	return Element{Identity: Identity{ClassUniversal, Constructed, TagSequence}, Content: concatElements(elems)}
}

// DecodeSequence parses e's content as a SEQUENCE's member elements.
func DecodeSequence(e Element) ([]Element, error) { return Decode(e.Content) }

// EncodeSet returns the BER encoding of a SET whose members are elems.
func EncodeSet(elems []Element) Element {
	return Element{Identity: Identity{ClassUniversal, Constructed, TagSet}, Content: concatElements(elems)}
}

// DecodeSet parses e's content as a SET's member elements.
func DecodeSet(e Element) ([]Element, error) { return Decode(e.Content) }

func concatElements(elems []Element) []byte {
	var buf []byte
	for _, e := range elems {
		buf = Append(buf, e)
	}
	return buf
}

// Real special values, the non-binary, non-decimal first-octet bit
// patterns of X.690 §8.5.6-8.5.9.
const (
	realPlusInfinity  = 0x40
	realMinusInfinity = 0x41
	realNaN           = 0x42
	realMinusZero     = 0x43
)

// EncodeReal returns the binary-format BER encoding of a REAL value (base
// 2, as produced by Go's float64), or the special-value encoding for zero,
// the infinities, and NaN. The ISO-6093 decimal character form is not
// produced; [DecodeReal] rejects it on input.
func EncodeReal(v float64) Element {
	id := Identity{ClassUniversal, Primitive, TagReal}
	switch {
	case v == 0 && !math.Signbit(v):
		return Element{Identity: id}
	case math.IsInf(v, 1):
		return Element{Identity: id, Content: []byte{realPlusInfinity}}
	case math.IsInf(v, -1):
		return Element{Identity: id, Content: []byte{realMinusInfinity}}
	case math.IsNaN(v):
		return Element{Identity: id, Content: []byte{realNaN}}
	case v == 0 && math.Signbit(v):
		return Element{Identity: id, Content: []byte{realMinusZero}}
	}
	sign := byte(0)
	if v < 0 {
		sign = 1
		v = -v
	}
	mantissa := math.Float64bits(v)
	exp := int((mantissa>>52)&0x7ff) - 1075 // unbias, then account for the implicit 52 fraction bits
	frac := mantissa & ((1 << 52) - 1)
	frac |= 1 << 52 // restore the implicit leading 1
	// Strip trailing zero bits from the mantissa so the encoding is compact.
	for frac != 0 && frac&1 == 0 {
		frac >>= 1
		exp++
	}
	expBytes := encodeSignedContent(int64(exp))
	first := byte(0x80) | sign<<6 // base 2, scaling factor 0
	var expLenField byte
	switch len(expBytes) {
	case 1:
		expLenField = 0x00
	case 2:
		expLenField = 0x01
	case 3:
		expLenField = 0x02
	default:
		expLenField = 0x03
	}
	first |= expLenField
	content := make([]byte, 0, 2+len(expBytes)+8)
	content = append(content, first)
	if expLenField == 0x03 {
		content = append(content, byte(len(expBytes)))
	}
	content = append(content, expBytes...)
	mbuf := make([]byte, 8)
	n := 8
	m := frac
	for m > 0 {
		n--
		mbuf[n] = byte(m)
		m >>= 8
	}
	content = append(content, mbuf[n:]...)
	return Element{Identity: id, Content: content}
}

// DecodeReal interprets e's content as a REAL value.
func DecodeReal(e Element) (float64, error) {
	if len(e.Content) == 0 {
		return 0, nil
	}
	first := e.Content[0]
	if first&0x80 == 0 {
		if first&0x40 != 0 {
			switch first {
			case realPlusInfinity:
				return math.Inf(1), nil
			case realMinusInfinity:
				return math.Inf(-1), nil
			case realNaN:
				return math.NaN(), nil
			case realMinusZero:
				return math.Copysign(0, -1), nil
			}
			return 0, errRealReservedFmt
		}
		return 0, errRealDecimalForm
	}
	// Bits 5-4 select the base (2, 8, 16); bits 3-2 are the binary
	// scaling factor F.
	var baseLog2 int
	switch (first >> 4) & 0x3 {
	case 0:
		baseLog2 = 1
	case 1:
		baseLog2 = 3
	case 2:
		baseLog2 = 4
	default:
		return 0, errRealReservedFmt
	}
	scale := int((first >> 2) & 0x3)
	sign := (first >> 6) & 1
	rest := e.Content[1:]
	var expLen int
	switch first & 0x3 {
	case 0:
		expLen = 1
	case 1:
		expLen = 2
	case 2:
		expLen = 3
	default:
		if len(rest) == 0 {
			return 0, errRealReservedFmt
		}
		expLen = int(rest[0])
		rest = rest[1:]
	}
	if expLen > len(rest) {
		return 0, errRealReservedFmt
	}
	exp, err := decodeSignedContent(rest[:expLen])
	if err != nil {
		return 0, err
	}
	mantissaBytes := rest[expLen:]
	var mantissa uint64
	for _, b := range mantissaBytes {
		mantissa = mantissa<<8 | uint64(b)
	}
	// value = sign * mantissa * 2^F * base^exponent
	v := float64(mantissa) * math.Pow(2, float64(scale)) * math.Pow(2, float64(exp)*float64(baseLog2))
	if sign != 0 {
		v = -v
	}
	return v, nil
}
