package dns

import "encoding/binary"

// Header is the fixed 12-byte message prefix: identification, packed
// flags, and the four section counts.
type Header struct {
	ID      uint16
	Flags   HeaderFlags
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

func (h Header) appendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, h.ID)
	dst = binary.BigEndian.AppendUint16(dst, uint16(h.Flags))
	dst = binary.BigEndian.AppendUint16(dst, h.QDCount)
	dst = binary.BigEndian.AppendUint16(dst, h.ANCount)
	dst = binary.BigEndian.AppendUint16(dst, h.NSCount)
	return binary.BigEndian.AppendUint16(dst, h.ARCount)
}

func decodeHeader(msg []byte) (Header, error) {
	if len(msg) < SizeHeader {
		return Header{}, errShortMessage
	}
	return Header{
		ID:      binary.BigEndian.Uint16(msg[0:]),
		Flags:   HeaderFlags(binary.BigEndian.Uint16(msg[2:])),
		QDCount: binary.BigEndian.Uint16(msg[4:]),
		ANCount: binary.BigEndian.Uint16(msg[6:]),
		NSCount: binary.BigEndian.Uint16(msg[8:]),
		ARCount: binary.BigEndian.Uint16(msg[10:]),
	}, nil
}

// Message is a complete DNS message. The header counts are derived from
// the section slices on encode.
type Message struct {
	ID    uint16
	Flags HeaderFlags

	Questions   []Question
	Answers     []Resource
	Authorities []Resource
	Additionals []Resource
}

// maxSectionDecode bounds each section's decoded entry count; a hostile
// header can claim 65535 records it never carries.
const maxSectionDecode = 256

// DecodeMessage parses a complete wire message, expanding compression
// pointers against msg itself.
func DecodeMessage(msg []byte) (Message, error) {
	h, err := decodeHeader(msg)
	if err != nil {
		return Message{}, err
	}
	if h.QDCount > maxSectionDecode || h.ANCount > maxSectionDecode ||
		h.NSCount > maxSectionDecode || h.ARCount > maxSectionDecode {
		return Message{}, errResourceCount
	}
	m := Message{ID: h.ID, Flags: h.Flags}
	off := SizeHeader
	for i := 0; i < int(h.QDCount); i++ {
		var q Question
		q, off, err = decodeQuestion(msg, off)
		if err != nil {
			return Message{}, err
		}
		m.Questions = append(m.Questions, q)
	}
	for _, sec := range []struct {
		count int
		dst   *[]Resource
	}{
		{int(h.ANCount), &m.Answers},
		{int(h.NSCount), &m.Authorities},
		{int(h.ARCount), &m.Additionals},
	} {
		for i := 0; i < sec.count; i++ {
			var r Resource
			r, off, err = decodeResource(msg, off)
			if err != nil {
				return Message{}, err
			}
			*sec.dst = append(*sec.dst, r)
		}
	}
	return m, nil
}

// AppendTo appends the message's wire encoding to dst. Names are emitted
// uncompressed.
func (m Message) AppendTo(dst []byte) ([]byte, error) {
	if len(m.Questions) > 0xffff || len(m.Answers) > 0xffff ||
		len(m.Authorities) > 0xffff || len(m.Additionals) > 0xffff {
		return nil, errMessageTooLarge
	}
	h := Header{
		ID:      m.ID,
		Flags:   m.Flags,
		QDCount: uint16(len(m.Questions)),
		ANCount: uint16(len(m.Answers)),
		NSCount: uint16(len(m.Authorities)),
		ARCount: uint16(len(m.Additionals)),
	}
	dst = h.appendTo(dst)
	for _, q := range m.Questions {
		dst = q.appendTo(dst)
	}
	var err error
	for _, sec := range [][]Resource{m.Answers, m.Authorities, m.Additionals} {
		for _, r := range sec {
			if dst, err = r.appendTo(dst); err != nil {
				return nil, err
			}
		}
	}
	return dst, nil
}

// NewQuery builds a single-question query message.
func NewQuery(id uint16, q Question, recursionDesired bool) Message {
	return Message{
		ID:        id,
		Flags:     NewQueryFlags(OpCodeQuery, recursionDesired),
		Questions: []Question{q},
	}
}
