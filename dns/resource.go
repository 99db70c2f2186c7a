package dns

import "encoding/binary"

// Question is one query: a name, a type, and a class.
type Question struct {
	Name  Name
	Type  Type
	Class Class
}

func (q Question) appendTo(dst []byte) []byte {
	dst = q.Name.AppendTo(dst)
	dst = binary.BigEndian.AppendUint16(dst, uint16(q.Type))
	return binary.BigEndian.AppendUint16(dst, uint16(q.Class))
}

func decodeQuestion(msg []byte, off int) (Question, int, error) {
	var q Question
	name, off, err := decodeName(msg, off)
	if err != nil {
		return q, 0, err
	}
	if off+4 > len(msg) {
		return q, 0, errTruncated
	}
	q.Name = name
	q.Type = Type(binary.BigEndian.Uint16(msg[off:]))
	q.Class = Class(binary.BigEndian.Uint16(msg[off+2:]))
	return q, off + 4, nil
}

// Resource is one resource record. Data holds the rdata; for types whose
// rdata is itself a (possibly compressed) name -- NS, CNAME, PTR -- the
// decoder canonicalizes Data to the uncompressed wire form, so re-encoding
// a decoded message is always self-contained.
type Resource struct {
	Name  Name
	Type  Type
	Class Class
	TTL   uint32
	Data  []byte
}

// NewAResource builds an A record.
func NewAResource(name Name, ttl uint32, addr [4]byte) Resource {
	return Resource{Name: name, Type: TypeA, Class: ClassINET, TTL: ttl, Data: append([]byte(nil), addr[:]...)}
}

// NewAAAAResource builds an AAAA record.
func NewAAAAResource(name Name, ttl uint32, addr [16]byte) Resource {
	return Resource{Name: name, Type: TypeAAAA, Class: ClassINET, TTL: ttl, Data: append([]byte(nil), addr[:]...)}
}

// NewPTRResource builds a PTR record pointing at target.
func NewPTRResource(name Name, ttl uint32, target Name) Resource {
	return Resource{Name: name, Type: TypePTR, Class: ClassINET, TTL: ttl, Data: target.AppendTo(nil)}
}

// IPv4 interprets the rdata as an A record address.
func (r Resource) IPv4() ([4]byte, bool) {
	var out [4]byte
	if r.Type != TypeA || len(r.Data) != 4 {
		return out, false
	}
	copy(out[:], r.Data)
	return out, true
}

// IPv6 interprets the rdata as an AAAA record address.
func (r Resource) IPv6() ([16]byte, bool) {
	var out [16]byte
	if r.Type != TypeAAAA || len(r.Data) != 16 {
		return out, false
	}
	copy(out[:], r.Data)
	return out, true
}

// TargetName interprets the rdata as a name (PTR, CNAME, NS).
func (r Resource) TargetName() (Name, bool) {
	switch r.Type {
	case TypePTR, TypeCNAME, TypeNS:
		n, _, err := decodeName(r.Data, 0)
		if err != nil {
			return Name{}, false
		}
		return n, true
	}
	return Name{}, false
}

func (r Resource) appendTo(dst []byte) ([]byte, error) {
	if len(r.Data) > 0xffff {
		return nil, errMessageTooLarge
	}
	dst = r.Name.AppendTo(dst)
	dst = binary.BigEndian.AppendUint16(dst, uint16(r.Type))
	dst = binary.BigEndian.AppendUint16(dst, uint16(r.Class))
	dst = binary.BigEndian.AppendUint32(dst, r.TTL)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(r.Data)))
	return append(dst, r.Data...), nil
}

// nameRData reports whether a type's rdata is a single, possibly
// compressed, domain name.
func nameRData(t Type) bool {
	return t == TypeNS || t == TypeCNAME || t == TypePTR
}

func decodeResource(msg []byte, off int) (Resource, int, error) {
	var r Resource
	name, off, err := decodeName(msg, off)
	if err != nil {
		return r, 0, err
	}
	if off+10 > len(msg) {
		return r, 0, errTruncated
	}
	r.Name = name
	r.Type = Type(binary.BigEndian.Uint16(msg[off:]))
	r.Class = Class(binary.BigEndian.Uint16(msg[off+2:]))
	r.TTL = binary.BigEndian.Uint32(msg[off+4:])
	length := int(binary.BigEndian.Uint16(msg[off+8:]))
	off += 10
	if off+length > len(msg) {
		return r, 0, errTruncated
	}
	if nameRData(r.Type) {
		// Decompress now while the back-reference is still available.
		target, _, err := decodeName(msg, off)
		if err != nil {
			return r, 0, err
		}
		r.Data = target.AppendTo(nil)
	} else {
		r.Data = append([]byte(nil), msg[off:off+length]...)
	}
	return r, off + length, nil
}
