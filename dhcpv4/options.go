package dhcpv4

import (
	"encoding/binary"
	"errors"
)

// Option is a single (code, data) pair from a DHCP option stream. Data
// never includes the length byte; Pad and End carry no data.
type Option struct {
	Code OptNum
	Data []byte
}

// OptionSet is an open, insertion-ordered registry of options: unknown
// codes round-trip byte-exact, and encoding preserves the order options
// were added in, per RFC 2132's TLV stream semantics.
type OptionSet struct {
	order []OptNum
	byCode map[OptNum]Option
}

// NewOptionSet returns an empty OptionSet.
func NewOptionSet() OptionSet {
	return OptionSet{byCode: make(map[OptNum]Option)}
}

// Set inserts or replaces the option with the given code, preserving its
// original position in the insertion order if already present. Data longer
// than the 255 bytes a single length byte can describe is rejected, so a
// stored option always encodes without truncation.
func (s *OptionSet) Set(opt Option) error {
	if len(opt.Data) > 255 {
		return errOptionTooLong
	}
	if s.byCode == nil {
		s.byCode = make(map[OptNum]Option)
	}
	if _, ok := s.byCode[opt.Code]; !ok {
		s.order = append(s.order, opt.Code)
	}
	s.byCode[opt.Code] = opt
	return nil
}

// Get returns the option with the given code, if present.
func (s OptionSet) Get(code OptNum) (Option, bool) {
	opt, ok := s.byCode[code]
	return opt, ok
}

// Delete removes the option with the given code, if present.
func (s *OptionSet) Delete(code OptNum) {
	if _, ok := s.byCode[code]; !ok {
		return
	}
	delete(s.byCode, code)
	for i, c := range s.order {
		if c == code {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Codes returns the option codes in insertion order.
func (s OptionSet) Codes() []OptNum { return s.order }

// Len reports the number of options in the set.
func (s OptionSet) Len() int { return len(s.order) }

// AppendOptions appends the TLV encoding of every option in s, in
// insertion order, followed by the End option, to dst.
func AppendOptions(dst []byte, s OptionSet) []byte {
	for _, code := range s.order {
		opt := s.byCode[code]
		dst = append(dst, byte(opt.Code), byte(len(opt.Data)))
		dst = append(dst, opt.Data...)
	}
	return append(dst, byte(OptEnd))
}

var (
	errOptionTooLong = errors.New("dhcpv4: option data exceeds 255 bytes")
	errOptionNotFit  = errors.New("dhcpv4: option data has wrong length for its type")
)

// DecodeOptions parses a raw TLV option stream (as returned by
// [Frame.OptionsPayload]) into an OptionSet.
func DecodeOptions(raw []byte) (OptionSet, error) {
	s := NewOptionSet()
	ptr := 0
	for ptr < len(raw) {
		code := OptNum(raw[ptr])
		if code == OptEnd {
			break
		}
		if code == OptPad {
			ptr++
			continue
		}
		if ptr+1 >= len(raw) {
			return OptionSet{}, errDHCPBadOption
		}
		length := int(raw[ptr+1])
		if ptr+2+length > len(raw) {
			return OptionSet{}, errDHCPBadOption
		}
		data := make([]byte, length)
		copy(data, raw[ptr+2:ptr+2+length])
		s.Set(Option{Code: code, Data: data})
		ptr += 2 + length
	}
	return s, nil
}

//
// Typed formatters. Each pair converts between an in-memory Go value and
// the on-wire byte string for a given option code.
//

// IPv4Option builds an Option carrying a single 4-byte address.
func IPv4Option(code OptNum, ip [4]byte) Option { return Option{code, append([]byte(nil), ip[:]...)} }

// DecodeIPv4 interprets an option's data as a single 4-byte address.
func DecodeIPv4(opt Option) (ip [4]byte, err error) {
	if len(opt.Data) != 4 {
		return ip, errOptionNotFit
	}
	copy(ip[:], opt.Data)
	return ip, nil
}

// IPv4ListOption builds an Option carrying a list of 4-byte addresses.
func IPv4ListOption(code OptNum, ips [][4]byte) Option {
	data := make([]byte, 0, len(ips)*4)
	for _, ip := range ips {
		data = append(data, ip[:]...)
	}
	return Option{code, data}
}

// DecodeIPv4List interprets an option's data as a list of 4-byte addresses.
func DecodeIPv4List(opt Option) ([][4]byte, error) {
	if len(opt.Data)%4 != 0 {
		return nil, errOptionNotFit
	}
	out := make([][4]byte, len(opt.Data)/4)
	for i := range out {
		copy(out[i][:], opt.Data[i*4:i*4+4])
	}
	return out, nil
}

// Uint8Option builds a single-byte Option.
func Uint8Option(code OptNum, v uint8) Option { return Option{code, []byte{v}} }

// DecodeUint8 interprets an option's data as a single byte.
func DecodeUint8(opt Option) (uint8, error) {
	if len(opt.Data) != 1 {
		return 0, errOptionNotFit
	}
	return opt.Data[0], nil
}

// Uint16Option builds a 2-byte big-endian Option.
func Uint16Option(code OptNum, v uint16) Option {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, v)
	return Option{code, data}
}

// DecodeUint16 interprets an option's data as a big-endian uint16.
func DecodeUint16(opt Option) (uint16, error) {
	if len(opt.Data) != 2 {
		return 0, errOptionNotFit
	}
	return binary.BigEndian.Uint16(opt.Data), nil
}

// Uint32Option builds a 4-byte big-endian Option.
func Uint32Option(code OptNum, v uint32) Option {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, v)
	return Option{code, data}
}

// DecodeUint32 interprets an option's data as a big-endian uint32.
func DecodeUint32(opt Option) (uint32, error) {
	if len(opt.Data) != 4 {
		return 0, errOptionNotFit
	}
	return binary.BigEndian.Uint32(opt.Data), nil
}

// StringOption builds an Option carrying raw ASCII/UTF-8 text.
func StringOption(code OptNum, s string) Option { return Option{code, []byte(s)} }

// DecodeString interprets an option's data as text.
func DecodeString(opt Option) (string, error) { return string(opt.Data), nil }

// ByteListOption builds an Option carrying an arbitrary byte list (e.g. a
// Parameter Request List of option codes).
func ByteListOption(code OptNum, b []byte) Option {
	return Option{code, append([]byte(nil), b...)}
}

// DecodeByteList interprets an option's data as a raw byte list.
func DecodeByteList(opt Option) ([]byte, error) { return opt.Data, nil }

// BoolOption builds a single-byte boolean Option (0 or 1).
func BoolOption(code OptNum, v bool) Option {
	b := byte(0)
	if v {
		b = 1
	}
	return Option{code, []byte{b}}
}

// DecodeBool interprets an option's data as a boolean.
func DecodeBool(opt Option) (bool, error) {
	if len(opt.Data) != 1 {
		return false, errOptionNotFit
	}
	return opt.Data[0] != 0, nil
}

// PolicyFilter is one (address, mask) pair of option 21 (Policy Filter).
type PolicyFilter struct {
	Address [4]byte
	Mask    [4]byte
}

// PolicyFilterOption builds an Option carrying a list of policy filters,
// 8 bytes each.
func PolicyFilterOption(code OptNum, filters []PolicyFilter) Option {
	data := make([]byte, 0, len(filters)*8)
	for _, f := range filters {
		data = append(data, f.Address[:]...)
		data = append(data, f.Mask[:]...)
	}
	return Option{code, data}
}

// DecodePolicyFilter interprets an option's data as a list of policy
// filters.
func DecodePolicyFilter(opt Option) ([]PolicyFilter, error) {
	if len(opt.Data)%8 != 0 {
		return nil, errOptionNotFit
	}
	out := make([]PolicyFilter, len(opt.Data)/8)
	for i := range out {
		copy(out[i].Address[:], opt.Data[i*8:i*8+4])
		copy(out[i].Mask[:], opt.Data[i*8+4:i*8+8])
	}
	return out, nil
}
