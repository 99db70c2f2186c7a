// Package dhcpv4 implements the DHCPv4 wire protocol (RFC 2131/2132): the
// BOOTP packet codec, the option registry, the address pool, the expiry
// scheduler, and the server state machine.
package dhcpv4

import (
	"encoding/binary"
	"errors"

	"github.com/packetwright/netsuite/netwire"
)

const (
	sizeCHAddr   = 16
	sizeSName    = 64
	sizeBootFile = 128
	sizeHeader   = 28 + sizeCHAddr // op..chaddr, 44 bytes

	// MagicCookie is the 4-byte sequence marking the start of the DHCP
	// options stream.
	MagicCookie uint32 = 0x63825363

	DefaultClientPort = 68
	DefaultServerPort = 67
)

var (
	errSmallFrame    = errors.New("dhcpv4: frame smaller than BOOTP header")
	errNoCookie      = errors.New("dhcpv4: magic cookie not found")
	errDHCPBadOption = errors.New("dhcpv4: option length exceeds payload")
)

// NewFrame returns a Frame viewing buf, locating the magic cookie by
// scanning forward from the end of the fixed header. Per RFC 2131 the
// cookie is not guaranteed to sit at a fixed offset: the sname or file
// fields may be overloaded by option 52 to carry additional options,
// shifting the cookie earlier than the traditional byte 236.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader+4 {
		return Frame{}, errSmallFrame
	}
	cookieOff, err := findCookie(buf)
	if err != nil {
		return Frame{}, err
	}
	return Frame{buf: buf, cookieOff: cookieOff}, nil
}

// findCookie scans for the magic cookie starting at the end of the fixed
// header, the earliest position it could legally appear.
func findCookie(buf []byte) (int, error) {
	var want [4]byte
	binary.BigEndian.PutUint32(want[:], MagicCookie)
	limit := sizeHeader + sizeSName + sizeBootFile
	if limit > len(buf)-4 {
		limit = len(buf) - 4
	}
	for off := sizeHeader; off <= limit; off++ {
		if buf[off] == want[0] && buf[off+1] == want[1] && buf[off+2] == want[2] && buf[off+3] == want[3] {
			return off, nil
		}
	}
	return 0, errNoCookie
}

// Frame is a view over a byte slice holding a BOOTP packet plus its DHCP
// option stream.
type Frame struct {
	buf       []byte
	cookieOff int
}

// RawData returns the underlying slice the Frame was constructed from.
func (frm Frame) RawData() []byte { return frm.buf }

func (frm Frame) Op() Op      { return Op(frm.buf[0]) }
func (frm Frame) SetOp(op Op) { frm.buf[0] = byte(op) }

func (frm Frame) HType() uint8         { return frm.buf[1] }
func (frm Frame) SetHType(v uint8)     { frm.buf[1] = v }
func (frm Frame) HLen() uint8          { return frm.buf[2] }
func (frm Frame) SetHLen(v uint8)      { frm.buf[2] = v }
func (frm Frame) Hops() uint8          { return frm.buf[3] }
func (frm Frame) SetHops(v uint8)      { frm.buf[3] = v }

// XID is the transaction ID, unique and constant for a request/response
// exchange.
func (frm Frame) XID() uint32       { return binary.BigEndian.Uint32(frm.buf[4:8]) }
func (frm Frame) SetXID(xid uint32) { binary.BigEndian.PutUint32(frm.buf[4:8], xid) }

func (frm Frame) Secs() uint16        { return binary.BigEndian.Uint16(frm.buf[8:10]) }
func (frm Frame) SetSecs(secs uint16) { binary.BigEndian.PutUint16(frm.buf[8:10], secs) }

func (frm Frame) Flags() Flags         { return Flags(binary.BigEndian.Uint16(frm.buf[10:12])) }
func (frm Frame) SetFlags(flags Flags) { binary.BigEndian.PutUint16(frm.buf[10:12], uint16(flags)) }

// CIAddr is the client IP address, zero until the client has one.
func (frm Frame) CIAddr() *[4]byte { return (*[4]byte)(frm.buf[12:16]) }

// YIAddr is "your" (client) IP address, offered or assigned by the server.
func (frm Frame) YIAddr() *[4]byte { return (*[4]byte)(frm.buf[16:20]) }

// SIAddr is the next server to use in bootstrap (DHCPOFFER/DHCPACK).
func (frm Frame) SIAddr() *[4]byte { return (*[4]byte)(frm.buf[20:24]) }

// GIAddr is the relay agent (gateway) IP address.
func (frm Frame) GIAddr() *[4]byte { return (*[4]byte)(frm.buf[24:28]) }

// CHAddrAs6 returns the first 6 bytes of CHAddr, the common Ethernet case.
func (frm Frame) CHAddrAs6() *[6]byte { return (*[6]byte)(frm.buf[28 : 28+6]) }

// CHAddr is the client hardware address, up to 16 bytes.
func (frm Frame) CHAddr() *[16]byte { return (*[16]byte)(frm.buf[28:44]) }

// MagicCookie returns the decoded magic cookie; always [MagicCookie] for a
// Frame constructed via [NewFrame].
func (frm Frame) MagicCookie() uint32 {
	return binary.BigEndian.Uint32(frm.buf[frm.cookieOff:])
}

// OptionsPayload returns the TLV option stream following the magic cookie.
func (frm Frame) OptionsPayload() []byte { return frm.buf[frm.cookieOff+4:] }

// ClearHeader zeros the fixed BOOTP header (not sname/file/options).
func (frm Frame) ClearHeader() {
	for i := range frm.buf[:sizeHeader] {
		frm.buf[i] = 0
	}
}

// ForEachOption iterates the TLV option stream, invoking fn with each
// option's code and raw data. Code 0 (Pad) carries no length byte and is
// skipped; code 255 (End) terminates iteration. A nil fn only validates
// the stream's structure.
func (frm Frame) ForEachOption(fn func(code OptNum, data []byte) error) error {
	buf := frm.OptionsPayload()
	ptr := 0
	for ptr < len(buf) {
		code := OptNum(buf[ptr])
		if code == OptEnd {
			return nil
		}
		if code == OptPad {
			ptr++
			continue
		}
		if ptr+1 >= len(buf) {
			return errDHCPBadOption
		}
		length := int(buf[ptr+1])
		if ptr+2+length > len(buf) {
			return errDHCPBadOption
		}
		if fn != nil {
			if err := fn(code, buf[ptr+2:ptr+2+length]); err != nil {
				return err
			}
		}
		ptr += 2 + length
	}
	return nil
}

// ValidateSize checks that the option stream is well-formed, appending any
// error found to v.
func (frm Frame) ValidateSize(v *netwire.Validator) {
	if err := frm.ForEachOption(nil); err != nil {
		v.AddError(err)
	}
}

// Fields is the plain-value representation of a BOOTP header used by
// [Build] and returned by [Frame.Fields]. Options is the pre-encoded TLV
// stream (built via [AppendOptions]), not including the magic cookie.
type Fields struct {
	Op       Op
	HType    uint8
	HLen     uint8
	Hops     uint8
	XID      uint32
	Secs     uint16
	Flags    Flags
	CIAddr   [4]byte
	YIAddr   [4]byte
	SIAddr   [4]byte
	GIAddr   [4]byte
	CHAddr   [16]byte
	SName    [64]byte
	File     [128]byte
	Options  []byte
}

// Build serializes f into dst (grown as needed), placing the magic cookie
// immediately after the fixed sname/file fields (no option overloading).
func Build(dst []byte, f Fields) Frame {
	total := sizeHeader + sizeSName + sizeBootFile + 4 + len(f.Options)
	if cap(dst) < total {
		dst = make([]byte, total)
	} else {
		dst = dst[:total]
	}
	frm := Frame{buf: dst, cookieOff: sizeHeader + sizeSName + sizeBootFile}
	frm.ClearHeader()
	frm.SetOp(f.Op)
	frm.SetHType(f.HType)
	frm.SetHLen(f.HLen)
	frm.SetHops(f.Hops)
	frm.SetXID(f.XID)
	frm.SetSecs(f.Secs)
	frm.SetFlags(f.Flags)
	*frm.CIAddr() = f.CIAddr
	*frm.YIAddr() = f.YIAddr
	*frm.SIAddr() = f.SIAddr
	*frm.GIAddr() = f.GIAddr
	*frm.CHAddr() = f.CHAddr
	copy(dst[sizeHeader:sizeHeader+sizeSName], f.SName[:])
	copy(dst[sizeHeader+sizeSName:sizeHeader+sizeSName+sizeBootFile], f.File[:])
	binary.BigEndian.PutUint32(dst[frm.cookieOff:], MagicCookie)
	copy(dst[frm.cookieOff+4:], f.Options)
	return frm
}

// Disassemble parses buf into a Frame view; equivalent to [NewFrame].
func Disassemble(buf []byte) (Frame, error) { return NewFrame(buf) }

// Fields extracts the plain-value representation. Options aliases the
// frame's backing buffer. SName and File are not extracted and come back
// zeroed.
func (frm Frame) Fields() Fields {
	return Fields{
		Op: frm.Op(), HType: frm.HType(), HLen: frm.HLen(), Hops: frm.Hops(),
		XID: frm.XID(), Secs: frm.Secs(), Flags: frm.Flags(),
		CIAddr: *frm.CIAddr(), YIAddr: *frm.YIAddr(), SIAddr: *frm.SIAddr(), GIAddr: *frm.GIAddr(),
		CHAddr:  *frm.CHAddr(),
		Options: frm.OptionsPayload(),
	}
}
