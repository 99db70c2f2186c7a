package dns

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNameString(t *testing.T) {
	var name Name
	domain := "foo.bar.org"
	labels := strings.Split(domain, ".")
	for i, label := range labels {
		if err := name.AddLabel(label); err != nil {
			t.Fatal(err)
		}
		if got := name.String(); got != strings.Join(labels[:i+1], ".")+"." {
			t.Fatalf("unexpected name string %q", got)
		}
	}
	if name.Canonical() != domain {
		t.Errorf("canonical = %q", name.Canonical())
	}
}

func TestNameRoot(t *testing.T) {
	root := MustNewName(".")
	if !root.IsRoot() || root.String() != "." || root.Len() != 1 {
		t.Fatalf("root: %q len=%d", root.String(), root.Len())
	}
	if got := root.AppendTo(nil); !bytes.Equal(got, []byte{0}) {
		t.Fatalf("root encoding %v", got)
	}
}

func TestNameAppendDecode(t *testing.T) {
	const domain = "foo.bar.org"
	name, err := NewName(domain)
	if err != nil {
		t.Fatal(err)
	}
	b := name.AppendTo(nil)
	if len(b) != name.Len() {
		t.Fatalf("encoded length %d, want %d", len(b), name.Len())
	}
	if b[len(b)-1] != 0 {
		t.Fatalf("missing terminator: %v", b)
	}

	name2, next, err := decodeName(b, 0)
	if err != nil {
		t.Fatal(err)
	}
	if next != len(b) {
		t.Errorf("decode consumed %d bytes, want %d", next, len(b))
	}
	if !name2.Equal(name) {
		t.Errorf("round-trip %q != %q", name2.String(), name.String())
	}

	const wire = "\x03www\x02go\x03dev\x00"
	name3, _, err := decodeName([]byte(wire), 0)
	if err != nil {
		t.Fatal(err)
	}
	if name3.String() != "www.go.dev." {
		t.Errorf("decoded %q", name3.String())
	}
	if got := name3.AppendTo(nil); string(got) != wire {
		t.Errorf("re-encode %q, want %q", got, wire)
	}
}

func TestNameCaseInsensitiveEqual(t *testing.T) {
	a := MustNewName("Example.COM")
	b := MustNewName("example.com")
	if !a.Equal(b) {
		t.Error("names differing only in case compare unequal")
	}
}

func TestNameInvalid(t *testing.T) {
	if _, err := NewName(strings.Repeat("a", 64) + ".org"); !errors.Is(err, errLabelTooLong) {
		t.Errorf("long label: %v", err)
	}
	long := strings.Repeat("abcdefg.", 40) // > 255 bytes encoded
	if _, err := NewName(long); !errors.Is(err, errNameTooLong) {
		t.Errorf("long name: %v", err)
	}
	if _, _, err := decodeName([]byte("\x03ab"), 0); !errors.Is(err, errTruncated) {
		t.Errorf("truncated: %v", err)
	}
}

// TestNameDecompression exercises a compressed PTR-style layout: the
// pointer c0 0c expands to the name stored at offset 12.
func TestNameDecompression(t *testing.T) {
	msg := make([]byte, 12)
	msg = append(msg, []byte("\x03www\x07example\x03com\x00")...)
	ptrOff := len(msg)
	msg = append(msg, 0xc0, 0x0c)

	name, next, err := decodeName(msg, ptrOff)
	if err != nil {
		t.Fatal(err)
	}
	if next != ptrOff+2 {
		t.Errorf("pointer consumed %d bytes, want 2", next-ptrOff)
	}
	if name.String() != "www.example.com." {
		t.Errorf("decompressed %q", name.String())
	}

	// Partial name ending in a pointer.
	tail := append([]byte("\x04mail"), 0xc0, 16)
	tailOff := len(msg)
	msg = append(msg, tail...)
	name2, _, err := decodeName(msg, tailOff)
	if err != nil {
		t.Fatal(err)
	}
	if name2.String() != "mail.example.com." {
		t.Errorf("tail-compressed %q", name2.String())
	}
}

// TestNamePointerChainDepth builds a chain of pointers deeper than the
// cap and expects rejection rather than unbounded recursion.
func TestNamePointerChainDepth(t *testing.T) {
	msg := []byte("\x01a\x00")
	for i := 0; i < maxPointerDepth+4; i++ {
		prev := len(msg) - 2
		if i == 0 {
			prev = 0
		}
		msg = append(msg, 0xc0|byte(prev>>8), byte(prev))
	}
	_, _, err := decodeName(msg, len(msg)-2)
	if !errors.Is(err, errPointerDepth) {
		t.Fatalf("deep chain: %v", err)
	}
}

func TestNameForwardPointerRejected(t *testing.T) {
	// Pointer at offset 0 referencing offset 2 (later bytes).
	msg := []byte{0xc0, 0x02, 0x01, 'a', 0x00}
	if _, _, err := decodeName(msg, 0); !errors.Is(err, errPointerForward) {
		t.Fatalf("forward pointer: %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{
		ID:    123,
		Flags: NewQueryFlags(OpCodeQuery, true).AsResponse(RCodeSuccess),
		Questions: []Question{
			{Name: MustNewName("www.go.dev"), Type: TypeA, Class: ClassINET},
		},
		Answers: []Resource{
			NewAResource(MustNewName("www.go.dev"), 256, [4]byte{1, 2, 3, 4}),
			NewAAAAResource(MustNewName("www.go.dev"), 512, [16]byte{0xfe, 0x80}),
		},
		Authorities: []Resource{
			NewPTRResource(MustNewName("4.3.2.1.in-addr.arpa"), 60, MustNewName("www.go.dev")),
		},
	}
	wire, err := msg.AppendTo(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeMessage(wire)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != msg.ID || got.Flags != msg.Flags {
		t.Errorf("header mismatch: %+v", got)
	}
	if len(got.Questions) != 1 || !got.Questions[0].Name.Equal(msg.Questions[0].Name) {
		t.Errorf("questions: %+v", got.Questions)
	}
	if len(got.Answers) != 2 {
		t.Fatalf("answers: %d", len(got.Answers))
	}
	if ip, ok := got.Answers[0].IPv4(); !ok || ip != ([4]byte{1, 2, 3, 4}) {
		t.Errorf("A rdata: %v %v", ip, ok)
	}
	if ip6, ok := got.Answers[1].IPv6(); !ok || ip6[0] != 0xfe {
		t.Errorf("AAAA rdata: %v %v", ip6, ok)
	}
	target, ok := got.Authorities[0].TargetName()
	if !ok || target.String() != "www.go.dev." {
		t.Errorf("PTR target: %q %v", target.String(), ok)
	}
	// Re-encoding a compression-free message is byte-identical.
	wire2, err := got.AppendTo(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(wire, wire2) {
		t.Error("re-encode not byte-identical")
	}
}

// TestDecodeCapturedResponse decodes a real captured A response whose
// answer name is the compression pointer c0 0c.
func TestDecodeCapturedResponse(t *testing.T) {
	data := []byte{
		0x84, 0x05, 0x81, 0x80, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x0b, 0x77, 0x68, 0x69,
		0x74, 0x74, 0x69, 0x6c, 0x65, 0x61, 0x6b, 0x73, 0x03, 0x63, 0x6f, 0x6d, 0x00, 0x00, 0x01, 0x00,
		0x01, 0xc0, 0x0c, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x1e, 0xaf, 0x00, 0x04, 0xc6, 0x31, 0x17,
		0x91, 0x00, 0x00, 0x29, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != 0x8405 {
		t.Errorf("id = %#x", msg.ID)
	}
	if !msg.Flags.IsResponse() || !msg.Flags.RecursionDesired() {
		t.Errorf("flags = %#x", uint16(msg.Flags))
	}
	if len(msg.Questions) != 1 || msg.Questions[0].Name.Canonical() != "whittileaks.com" {
		t.Fatalf("questions: %+v", msg.Questions)
	}
	if len(msg.Answers) != 1 {
		t.Fatalf("answers: %d", len(msg.Answers))
	}
	if !msg.Answers[0].Name.Equal(msg.Questions[0].Name) {
		t.Errorf("answer name %q", msg.Answers[0].Name.String())
	}
	if ip, ok := msg.Answers[0].IPv4(); !ok || ip != ([4]byte{0xc6, 0x31, 0x17, 0x91}) {
		t.Errorf("answer rdata %v", ip)
	}
	if len(msg.Additionals) != 1 || msg.Additionals[0].Type != TypeOPT {
		t.Errorf("additionals: %+v", msg.Additionals)
	}
}

func TestDecodeHostileCounts(t *testing.T) {
	var h Header
	h.QDCount = 0xffff
	wire := h.appendTo(nil)
	if _, err := DecodeMessage(wire); !errors.Is(err, errResourceCount) {
		t.Fatalf("hostile counts: %v", err)
	}
}

func TestDecodeShort(t *testing.T) {
	if _, err := DecodeMessage([]byte{1, 2, 3}); !errors.Is(err, errShortMessage) {
		t.Fatalf("short: %v", err)
	}
}
