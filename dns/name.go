package dns

import "strings"

// Name is a DNS domain name held in uncompressed wire form: length-prefixed
// labels terminated by a zero byte. The zero value is the root name.
type Name struct {
	data []byte // wire-form labels; nil means root
}

// NewName parses a dotted domain string. A single "." (or empty string)
// yields the root name.
func NewName(s string) (Name, error) {
	var n Name
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return n, nil
	}
	for _, label := range strings.Split(s, ".") {
		if err := n.AddLabel(label); err != nil {
			return Name{}, err
		}
	}
	return n, nil
}

// MustNewName is NewName for static names in tests and tables.
func MustNewName(s string) Name {
	n, err := NewName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// AddLabel appends one label to the name.
func (n *Name) AddLabel(label string) error {
	if len(label) == 0 || strings.ContainsRune(label, '.') {
		return errInvalidName
	}
	if len(label) > maxLabelLen {
		return errLabelTooLong
	}
	if len(n.data)+1+len(label)+1 > maxNameLen {
		return errNameTooLong
	}
	n.data = append(n.data, byte(len(label)))
	n.data = append(n.data, label...)
	return nil
}

// IsRoot reports whether the name has no labels.
func (n Name) IsRoot() bool { return len(n.data) == 0 }

// Len returns the encoded length including the terminating zero byte.
func (n Name) Len() int { return len(n.data) + 1 }

// String renders the name in rooted dotted form ("www.go.dev.", "." for
// the root).
func (n Name) String() string {
	if n.IsRoot() {
		return "."
	}
	var sb strings.Builder
	n.visitLabels(func(label []byte) {
		sb.Write(label)
		sb.WriteByte('.')
	})
	return sb.String()
}

// Canonical returns the lower-cased unrooted dotted form used as a lookup
// key ("www.go.dev").
func (n Name) Canonical() string {
	s := n.String()
	return strings.ToLower(strings.TrimSuffix(s, "."))
}

// Labels returns the name's labels in order.
func (n Name) Labels() []string {
	var out []string
	n.visitLabels(func(label []byte) { out = append(out, string(label)) })
	return out
}

func (n Name) visitLabels(fn func(label []byte)) {
	for off := 0; off < len(n.data); {
		l := int(n.data[off])
		off++
		fn(n.data[off : off+l])
		off += l
	}
}

// Equal compares two names case-insensitively, per RFC 1035 §2.3.3.
func (n Name) Equal(other Name) bool {
	if len(n.data) != len(other.data) {
		return false
	}
	return strings.EqualFold(string(n.data), string(other.data))
}

// AppendTo appends the name's uncompressed wire encoding to dst. Outbound
// messages are never compressed.
func (n Name) AppendTo(dst []byte) []byte {
	dst = append(dst, n.data...)
	return append(dst, 0)
}

// decodeName reads one possibly-compressed name starting at off. msg must
// be the complete original message, since compression pointers are
// absolute offsets into it. The returned next is the offset just past the
// name's bytes at the original position (pointers consume two bytes
// regardless of how much they expand to).
func decodeName(msg []byte, off int) (n Name, next int, err error) {
	next, err = appendDecodedName(&n, msg, off, 0)
	return n, next, err
}

func appendDecodedName(n *Name, msg []byte, off, depth int) (next int, err error) {
	if depth > maxPointerDepth {
		return 0, errPointerDepth
	}
	for {
		if off >= len(msg) {
			return 0, errTruncated
		}
		b := int(msg[off])
		switch {
		case b == 0:
			return off + 1, nil
		case b&0xc0 == 0xc0:
			if off+1 >= len(msg) {
				return 0, errTruncated
			}
			ptr := (b&0x3f)<<8 | int(msg[off+1])
			if ptr >= off {
				// RFC 1035 pointers only reference earlier positions.
				return 0, errPointerForward
			}
			if _, err := appendDecodedName(n, msg, ptr, depth+1); err != nil {
				return 0, err
			}
			return off + 2, nil
		case b&0xc0 != 0:
			return 0, errInvalidName
		default:
			if off+1+b > len(msg) {
				return 0, errTruncated
			}
			if err := n.AddLabel(string(msg[off+1 : off+1+b])); err != nil {
				return 0, err
			}
			off += 1 + b
		}
	}
}
