package ethernet

import (
	"bytes"
	"testing"
)

func TestBuildDisassembleRoundTrip(t *testing.T) {
	cases := []Fields{
		{
			Destination: [6]byte{1, 2, 3, 4, 5, 6},
			Source:      [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
			EtherType:   TypeIPv4,
			Payload:     []byte("hello"),
		},
		{
			Destination: BroadcastAddr(),
			Source:      [6]byte{1, 1, 1, 1, 1, 1},
			VLAN:        vlanPtr(VLANTag(42)),
			EtherType:   TypeIPv4,
			Payload:     []byte{1, 2, 3, 4},
		},
	}
	for i, f := range cases {
		efrm, err := Build(nil, f)
		if err != nil {
			t.Fatalf("case %d: build: %v", i, err)
		}
		parsed, err := Disassemble(efrm.RawData())
		if err != nil {
			t.Fatalf("case %d: disassemble: %v", i, err)
		}
		got := parsed.Fields()
		if got.Destination != f.Destination || got.Source != f.Source || got.EtherType != f.EtherType {
			t.Fatalf("case %d: fields mismatch: got %+v want %+v", i, got, f)
		}
		if !bytes.Equal(got.Payload, f.Payload) {
			t.Fatalf("case %d: payload mismatch: got %v want %v", i, got.Payload, f.Payload)
		}
		if (got.VLAN == nil) != (f.VLAN == nil) {
			t.Fatalf("case %d: VLAN presence mismatch", i)
		}
		if f.VLAN != nil && *got.VLAN != *f.VLAN {
			t.Fatalf("case %d: VLAN tag mismatch: got %v want %v", i, *got.VLAN, *f.VLAN)
		}
	}
}

func vlanPtr(v VLANTag) *VLANTag { return &v }

func TestIsVLANDetectedFromWire(t *testing.T) {
	f := Fields{EtherType: TypeIPv4, VLAN: vlanPtr(7)}
	efrm, _ := Build(nil, f)
	if !efrm.IsVLAN() {
		t.Fatal("expected IsVLAN true based on wire bytes, not a flag")
	}
	if efrm.HeaderLength() != sizeHeaderVLAN {
		t.Fatalf("expected VLAN header length %d, got %d", sizeHeaderVLAN, efrm.HeaderLength())
	}
}
