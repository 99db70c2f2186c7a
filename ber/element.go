package ber

import "errors"

// maxNestingDepth bounds recursive indefinite-length decoding so a
// maliciously crafted stream of nested constructed values with no EOC
// cannot exhaust the stack.
const maxNestingDepth = 64

// Element is the decoded identifier/length/content triple BER builds every
// value from. Content holds the raw octets; interpreting them as a concrete
// Go value is the job of the per-type Decode functions in universal.go.
type Element struct {
	Identity Identity
	Content  []byte
}

var (
	errTruncatedContent = errors.New("ber: truncated content")
	errNestingTooDeep    = errors.New("ber: nesting too deep")
	errEOCWithoutOpener  = errors.New("ber: end-of-contents marker without opener")
)

// Decode parses a sequence of top-level BER elements from data, returning
// every element found. It is the entry point for decoding a complete BER
// stream (e.g. the contents of an LDAP PDU or a standalone encoded value).
func Decode(data []byte) ([]Element, error) {
	var elems []Element
	for len(data) > 0 {
		if len(data) >= 2 && data[0] == 0 && data[1] == 0 {
			return nil, errEOCWithoutOpener
		}
		e, rest, err := decodeOne(data, 0)
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		data = rest
	}
	return elems, nil
}

// decodeOne decodes a single element (identifier, length, content) from the
// front of data, returning it and the remaining bytes. depth tracks
// recursion through indefinite-length constructed values.
func decodeOne(data []byte, depth int) (Element, []byte, error) {
	if depth > maxNestingDepth {
		return Element{}, nil, errNestingTooDeep
	}
	id, rest, err := decodeIdentity(data)
	if err != nil {
		return Element{}, nil, err
	}
	n, rest2, err := decodeLength(rest)
	if err != nil {
		return Element{}, nil, err
	}
	if n != lenIndefinite {
		if n > len(rest2) {
			return Element{}, nil, errTruncatedContent
		}
		return Element{Identity: id, Content: rest2[:n:n]}, rest2[n:], nil
	}
	if id.PC == Primitive {
		return Element{}, nil, errIndefiniteOnPrim
	}
	// Indefinite form: the content is every encoded sub-element up to (but
	// not including) the EOC marker (identifier 0x00, length 0x00).
	contentStart := rest2
	cur := rest2
	for {
		if len(cur) < 2 {
			return Element{}, nil, errTruncatedContent
		}
		if cur[0] == 0 && cur[1] == 0 {
			content := contentStart[:len(contentStart)-len(cur)]
			return Element{Identity: id, Content: content}, cur[2:], nil
		}
		_, next, err := decodeOne(cur, depth+1)
		if err != nil {
			return Element{}, nil, err
		}
		cur = next
	}
}

// Append appends e's wire encoding (identifier, definite-form length,
// content) to dst. Constructed elements built via [EncodeSequence] or
// [EncodeSet] already carry their assembled content.
func Append(dst []byte, e Element) []byte {
	dst = appendIdentity(dst, e.Identity)
	dst = appendLength(dst, len(e.Content))
	return append(dst, e.Content...)
}

// Encode returns e's wire encoding as a new slice.
func Encode(e Element) []byte {
	return Append(make([]byte, 0, len(e.Content)+4), e)
}
