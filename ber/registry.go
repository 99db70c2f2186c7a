package ber

import "fmt"

// Value is the decoded, semantically-typed result of [Interpret]: one of
// bool, int64 (INTEGER/ENUMERATED), [BitString], []byte (OCTET STRING),
// nil (NULL), []uint64 (OBJECT IDENTIFIER), []Element (SEQUENCE/SET),
// float64 (REAL), or [Unknown] for anything this package does not
// recognize.
type Value any

// Unknown wraps an element whose class or tag this package's registry has
// no formatter for. Callers that need to round-trip or pass through
// unrecognized tags (e.g. LDAP's context-specific choices) use this instead
// of an error.
type Unknown struct {
	Identity Identity
	Content  []byte
}

// Interpret decodes e's content into a concrete Go value using the
// universal-class formatter keyed by e.Identity.Tag, mirroring a tag-keyed
// codec registry. Non-universal-class elements, and universal tags this
// package does not implement, come back as [Unknown] rather than an error:
// the caller's own higher-level schema (e.g. an LDAP message definition)
// is what gives those tags meaning.
func Interpret(e Element) (Value, error) {
	if e.Identity.Class != ClassUniversal {
		return Unknown{e.Identity, e.Content}, nil
	}
	switch e.Identity.Tag {
	case TagBoolean:
		return DecodeBoolean(e)
	case TagInteger:
		return DecodeInteger(e)
	case TagEnumerated:
		return DecodeEnumerated(e)
	case TagNull:
		return nil, DecodeNull(e)
	case TagOctetString:
		return DecodeOctetString(e)
	case TagBitString:
		return DecodeBitString(e)
	case TagObjectIdentifier:
		return DecodeObjectIdentifier(e)
	case TagReal:
		return DecodeReal(e)
	case TagSequence:
		return DecodeSequence(e)
	case TagSet:
		return DecodeSet(e)
	case TagUTF8String, TagPrintableString, TagIA5String, TagNumericString,
		TagT61String, TagVideotexString, TagGraphicString, TagVisibleString,
		TagGeneralString, TagUniversalString, TagBMPString, TagCharacterString,
		TagUTCTime, TagGeneralizedTime:
		return e.Content, nil
	default:
		return Unknown{e.Identity, e.Content}, nil
	}
}

func (u Unknown) String() string {
	return fmt.Sprintf("Unknown{%s tag=%d len=%d}", u.Identity.Class, u.Identity.Tag, len(u.Content))
}
