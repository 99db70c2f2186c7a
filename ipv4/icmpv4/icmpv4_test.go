package icmpv4

import (
	"bytes"
	"testing"
)

func TestEchoBuildParse(t *testing.T) {
	payload := []byte("ping payload")
	frm, err := BuildEcho(nil, false, 0xBEEF, 7, payload)
	if err != nil {
		t.Fatal(err)
	}
	if frm.Type() != TypeEcho || frm.Code() != 0 {
		t.Errorf("type/code = %v/%d", frm.Type(), frm.Code())
	}
	if !frm.VerifyChecksum() {
		t.Error("checksum does not verify")
	}

	parsed, err := NewFrame(frm.RawData())
	if err != nil {
		t.Fatal(err)
	}
	echo := Echo{parsed}
	if echo.Identifier() != 0xBEEF || echo.SequenceNumber() != 7 {
		t.Errorf("id/seq = %#x/%d", echo.Identifier(), echo.SequenceNumber())
	}
	if !bytes.Equal(echo.Data(), payload) {
		t.Errorf("payload %q", echo.Data())
	}
}

func TestChecksumIdempotent(t *testing.T) {
	a, _ := BuildEcho(nil, true, 1, 2, []byte{1, 2, 3})
	b, _ := BuildEcho(nil, true, 1, 2, []byte{1, 2, 3})
	if !bytes.Equal(a.RawData(), b.RawData()) {
		t.Error("two builds differ")
	}
}

func TestCorruptChecksumDetected(t *testing.T) {
	frm, _ := BuildEcho(nil, false, 1, 1, []byte{0xAA})
	frm.RawData()[8] ^= 0xFF
	if frm.VerifyChecksum() {
		t.Error("corrupted message passed verification")
	}
}

func TestShortBuffer(t *testing.T) {
	if _, err := NewFrame(make([]byte, 7)); err == nil {
		t.Error("expected error for short buffer")
	}
}
