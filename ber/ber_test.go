package ber

import (
	"bytes"
	"math"
	"testing"
)

func TestIdentityRoundTripShortTag(t *testing.T) {
	id := Identity{ClassContext, Constructed, 12}
	buf := appendIdentity(nil, id)
	got, rest, err := decodeIdentity(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != id || len(rest) != 0 {
		t.Fatalf("got %+v rest %v, want %+v", got, rest, id)
	}
}

func TestIdentityRoundTripLongTag(t *testing.T) {
	id := Identity{ClassApplication, Primitive, 1000}
	buf := appendIdentity(nil, id)
	got, rest, err := decodeIdentity(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != id || len(rest) != 0 {
		t.Fatalf("got %+v rest %v, want %+v", got, rest, id)
	}
}

func TestLengthRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 0x7f, 0x80, 0xff, 300, 1 << 20} {
		buf := appendLength(nil, n)
		got, rest, err := decodeLength(buf)
		if err != nil {
			t.Fatal(err)
		}
		if got != n || len(rest) != 0 {
			t.Fatalf("n=%d: got %d rest %v", n, got, rest)
		}
	}
}

func TestBooleanRoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		e := EncodeBoolean(v)
		got, err := DecodeBoolean(e)
		if err != nil || got != v {
			t.Fatalf("v=%v: got %v, err %v", v, got, err)
		}
	}
	// Any non-zero octet must decode true, per X.690 §8.2.2.
	got, err := DecodeBoolean(Element{Content: []byte{0x01}})
	if err != nil || !got {
		t.Fatalf("non-0xff true octet: got %v, %v", got, err)
	}
}

func TestIntegerRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 127, 128, -128, -129, 32767, -32768, 1 << 40, -(1 << 40)} {
		e := EncodeInteger(v)
		got, err := DecodeInteger(e)
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Fatalf("v=%d: got %d", v, got)
		}
	}
}

func TestKnownIntegerEncoding(t *testing.T) {
	// X.690 §8.3.2 worked examples: 0 -> 00, 127 -> 7F, 128 -> 00 80, -128 -> 80.
	cases := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x00, 0x80}},
		{-128, []byte{0x80}},
		{-1, []byte{0xff}},
	}
	for _, c := range cases {
		got := EncodeInteger(c.v).Content
		if !bytes.Equal(got, c.want) {
			t.Fatalf("v=%d: got % x, want % x", c.v, got, c.want)
		}
	}
}

func TestNullRoundTrip(t *testing.T) {
	e := EncodeNull()
	if err := DecodeNull(e); err != nil {
		t.Fatal(err)
	}
	if err := DecodeNull(Element{Content: []byte{0}}); err == nil {
		t.Fatal("expected error for non-empty NULL content")
	}
}

func TestOctetStringRoundTrip(t *testing.T) {
	want := []byte("hello ber")
	e := EncodeOctetString(want)
	got, err := DecodeOctetString(e)
	if err != nil || !bytes.Equal(got, want) {
		t.Fatalf("got %v err %v", got, err)
	}
}

func TestBitStringRoundTrip(t *testing.T) {
	want := BitString{Bytes: []byte{0x6e, 0x5d, 0xc0}, UnusedBits: 6}
	e := EncodeBitString(want)
	got, err := DecodeBitString(e)
	if err != nil {
		t.Fatal(err)
	}
	if got.UnusedBits != want.UnusedBits || !bytes.Equal(got.Bytes, want.Bytes) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestObjectIdentifierRoundTrip(t *testing.T) {
	// 1.2.840.113549 (RSADSI), a standard worked example.
	arcs := []uint64{1, 2, 840, 113549}
	e, err := EncodeObjectIdentifier(arcs)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d}
	if !bytes.Equal(e.Content, want) {
		t.Fatalf("got % x want % x", e.Content, want)
	}
	got, err := DecodeObjectIdentifier(e)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(arcs) {
		t.Fatalf("got %v want %v", got, arcs)
	}
	for i := range arcs {
		if got[i] != arcs[i] {
			t.Fatalf("got %v want %v", got, arcs)
		}
	}
}

func TestSequenceRoundTrip(t *testing.T) {
	members := []Element{EncodeInteger(1), EncodeBoolean(true), EncodeOctetString([]byte("x"))}
	seq := EncodeSequence(members)
	if seq.Identity.PC != Constructed || seq.Identity.Tag != TagSequence {
		t.Fatalf("unexpected identity %+v", seq.Identity)
	}
	got, err := DecodeSequence(seq)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(members) {
		t.Fatalf("got %d members, want %d", len(got), len(members))
	}
	for i, m := range members {
		if got[i].Identity != m.Identity || !bytes.Equal(got[i].Content, m.Content) {
			t.Fatalf("member %d: got %+v want %+v", i, got[i], m)
		}
	}
}

func TestWireRoundTripViaDecode(t *testing.T) {
	seq := EncodeSequence([]Element{EncodeInteger(42), EncodeBoolean(false)})
	wire := Encode(seq)
	elems, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if len(elems) != 1 {
		t.Fatalf("got %d top-level elements, want 1", len(elems))
	}
	inner, err := DecodeSequence(elems[0])
	if err != nil {
		t.Fatal(err)
	}
	v, err := DecodeInteger(inner[0])
	if err != nil || v != 42 {
		t.Fatalf("got %d, err %v", v, err)
	}
}

func TestIndefiniteLengthDecode(t *testing.T) {
	// Constructed SEQUENCE, indefinite length, containing one INTEGER(7),
	// terminated by an EOC marker.
	inner := Encode(EncodeInteger(7))
	wire := append([]byte{0x30, 0x80}, inner...)
	wire = append(wire, 0x00, 0x00)
	elems, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if len(elems) != 1 || elems[0].Identity.Tag != TagSequence {
		t.Fatalf("got %+v", elems)
	}
	members, err := DecodeSequence(elems[0])
	if err != nil || len(members) != 1 {
		t.Fatalf("members=%v err=%v", members, err)
	}
	v, err := DecodeInteger(members[0])
	if err != nil || v != 7 {
		t.Fatalf("got %d err %v", v, err)
	}
}

func TestIndefiniteLengthOnPrimitiveRejected(t *testing.T) {
	_, _, err := decodeOne([]byte{0x04, 0x80}, 0)
	if err != errIndefiniteOnPrim {
		t.Fatalf("got %v, want errIndefiniteOnPrim", err)
	}
}

func TestEOCWithoutOpenerRejected(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x00})
	if err != errEOCWithoutOpener {
		t.Fatalf("got %v, want errEOCWithoutOpener", err)
	}
}

func TestTruncatedContentRejected(t *testing.T) {
	_, err := Decode([]byte{0x02, 0x04, 0x01, 0x02})
	if err != errTruncatedContent {
		t.Fatalf("got %v, want errTruncatedContent", err)
	}
}

func TestRealRoundTripBinary(t *testing.T) {
	for _, v := range []float64{1.0, -1.0, 0.5, 3.25, 1e10, -1e-10, 17} {
		e := EncodeReal(v)
		got, err := DecodeReal(e)
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Fatalf("v=%v: got %v", v, got)
		}
	}
}

func TestRealSpecialValues(t *testing.T) {
	cases := []float64{0, math.Inf(1), math.Inf(-1), math.NaN()}
	for _, v := range cases {
		e := EncodeReal(v)
		got, err := DecodeReal(e)
		if err != nil {
			t.Fatal(err)
		}
		if math.IsNaN(v) {
			if !math.IsNaN(got) {
				t.Fatalf("got %v, want NaN", got)
			}
			continue
		}
		if got != v {
			t.Fatalf("got %v want %v", got, v)
		}
	}
}

func TestRealDecimalFormRejected(t *testing.T) {
	_, err := DecodeReal(Element{Content: []byte{0x03, '1'}})
	if err != errRealDecimalForm {
		t.Fatalf("got %v, want errRealDecimalForm", err)
	}
}

func TestInterpretDispatch(t *testing.T) {
	v, err := Interpret(EncodeInteger(5))
	if err != nil {
		t.Fatal(err)
	}
	if i, ok := v.(int64); !ok || i != 5 {
		t.Fatalf("got %v (%T)", v, v)
	}

	v, err = Interpret(Element{Identity: Identity{ClassContext, Primitive, 0}, Content: []byte{1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(Unknown); !ok {
		t.Fatalf("got %T, want Unknown", v)
	}
}

func TestRealAlternateBaseAndScale(t *testing.T) {
	// base 16 (bits 5-4 = 10), scale F=0, 1-byte exponent 1, mantissa 2:
	// value = 2 * 16^1 = 32.
	got, err := DecodeReal(Element{Content: []byte{0xA0, 0x01, 0x02}})
	if err != nil {
		t.Fatal(err)
	}
	if got != 32 {
		t.Fatalf("base-16: got %v, want 32", got)
	}
	// base 8 (bits 5-4 = 01), scale F=2, exponent 1, mantissa 3:
	// value = 3 * 2^2 * 8^1 = 96.
	got, err = DecodeReal(Element{Content: []byte{0x98, 0x01, 0x03}})
	if err != nil {
		t.Fatal(err)
	}
	if got != 96 {
		t.Fatalf("base-8 scaled: got %v, want 96", got)
	}
}

func TestIntegerDecodeWiderThanMinimal(t *testing.T) {
	// FF 80 is -128 over 16 bits; decoders accept non-minimal encodings.
	got, err := DecodeInteger(Element{Content: []byte{0xff, 0x80}})
	if err != nil {
		t.Fatal(err)
	}
	if got != -128 {
		t.Fatalf("got %d, want -128", got)
	}
}
