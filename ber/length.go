package ber

import "errors"

var (
	errTruncatedLength  = errors.New("ber: truncated length")
	errLengthOverflow   = errors.New("ber: length overflow")
	errReservedLength   = errors.New("ber: reserved length form 0xff")
	errIndefiniteOnPrim = errors.New("ber: indefinite length on primitive encoding")
)

// lenIndefinite is the sentinel returned by decodeLength when the
// indefinite-length form (0x80) was read: the content runs until an EOC
// (00 00) marker, only legal for constructed encodings.
const lenIndefinite = -1

// decodeLength consumes a length field from the front of data, returning the
// decoded length (or lenIndefinite) and the remaining bytes.
func decodeLength(data []byte) (int, []byte, error) {
	if len(data) == 0 {
		return 0, nil, errTruncatedLength
	}
	first := data[0]
	data = data[1:]
	if first == 0x80 {
		return lenIndefinite, data, nil
	}
	if first == 0xff {
		return 0, nil, errReservedLength
	}
	if first&0x80 == 0 {
		// Short form: the length is the low 7 bits directly.
		return int(first), data, nil
	}
	// Long form: low 7 bits of the first octet give the number of
	// following length octets, big-endian.
	n := int(first & 0x7f)
	if n > len(data) {
		return 0, nil, errTruncatedLength
	}
	if n > 8 {
		return 0, nil, errLengthOverflow
	}
	var length uint64
	for i := 0; i < n; i++ {
		length = length<<8 | uint64(data[i])
	}
	if length > 0x7fffffff {
		return 0, nil, errLengthOverflow
	}
	return int(length), data[n:], nil
}

// appendLength appends the shortest definite-form encoding of n to dst.
func appendLength(dst []byte, n int) []byte {
	if n < 0 {
		panic("ber: negative length")
	}
	if n < 0x80 {
		return append(dst, byte(n))
	}
	var buf [8]byte
	i := len(buf)
	v := uint64(n)
	for v > 0 {
		i--
		buf[i] = byte(v)
		v >>= 8
	}
	dst = append(dst, 0x80|byte(len(buf)-i))
	return append(dst, buf[i:]...)
}
