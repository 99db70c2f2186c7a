package dhcpv4

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/packetwright/netsuite/ethernet"
	"github.com/packetwright/netsuite/ipv4"
	"github.com/packetwright/netsuite/udp"
)

func testConfig() ServerConfig {
	return ServerConfig{
		ServerIP: [4]byte{192, 168, 10, 1},
		Network:  [4]byte{192, 168, 10, 0},
		Mask:     [4]byte{255, 255, 255, 0},
	}
}

func mustServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	sv, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sv.sched.Shutdown() })
	return sv
}

// exchange pushes the client's next frame into the server and the server's
// reply (if any) back into the client.
func exchange(t *testing.T, cl *Client, sv *Server) []byte {
	t.Helper()
	var buf [2048]byte
	n, err := cl.Encapsulate(buf[:])
	if err != nil {
		t.Fatal("client encapsulate:", err)
	} else if n == 0 {
		t.Fatal("client had nothing to send")
	}
	reply, err := sv.HandleEthernet(buf[:n])
	if err != nil {
		t.Fatal("server handle:", err)
	}
	if reply != nil {
		if err := cl.Demux(reply); err != nil {
			t.Fatal("client demux:", err)
		}
	}
	return reply
}

func TestClientServerDORA(t *testing.T) {
	sv := mustServer(t, testConfig())
	var cl Client
	err := cl.BeginRequest(0x12345678, RequestConfig{
		HardwareAddr:         [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01},
		Hostname:             "workstation",
		ParameterRequestList: []OptNum{OptSubnetMask, OptRouters, OptDNSServers},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cl.State() != StateInit {
		t.Fatalf("want INIT, got %s", cl.State())
	}

	// DISCOVER -> OFFER.
	offer := exchange(t, &cl, sv)
	if offer == nil {
		t.Fatal("no OFFER")
	}
	if cl.State() != StateRequesting {
		t.Fatalf("after offer want REQUESTING, got %s", cl.State())
	}
	if cl.AssignedAddr() != ([4]byte{192, 168, 10, 2}) {
		t.Fatalf("offered %v, want 192.168.10.2", cl.AssignedAddr())
	}
	if _, held := sv.OfferFor(MAC{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}, 0x12345678); !held {
		t.Fatal("offer table missing entry")
	}

	// REQUEST -> ACK.
	ack := exchange(t, &cl, sv)
	if ack == nil {
		t.Fatal("no ACK")
	}
	if !cl.Done() {
		t.Fatalf("want BOUND, got %s", cl.State())
	}
	if _, held := sv.OfferFor(MAC{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}, 0x12345678); held {
		t.Fatal("offer entry not promoted to lease")
	}
	leases := sv.Leases()
	if len(leases) != 1 || leases[0].IP != cl.AssignedAddr() || leases[0].Name != "workstation" {
		t.Fatalf("lease table %v", leases)
	}
}

// decodeReply peels a server frame down to its BOOTP payload.
func decodeReply(t *testing.T, frame []byte) (Frame, OptionSet) {
	t.Helper()
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if !ifrm.VerifyHeaderChecksum() {
		t.Error("reply IPv4 header checksum does not verify")
	}
	ufrm, err := udp.NewFrame(ifrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if !ufrm.VerifyChecksum(ifrm) {
		t.Error("reply UDP checksum does not verify")
	}
	dfrm, err := NewFrame(ufrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	opts, err := DecodeOptions(dfrm.OptionsPayload())
	if err != nil {
		t.Fatal(err)
	}
	return dfrm, opts
}

func TestOfferContents(t *testing.T) {
	cfg := testConfig()
	cfg.Routers = [][4]byte{{192, 168, 10, 254}}
	cfg.DNSServers = [][4]byte{{8, 8, 8, 8}}
	sv := mustServer(t, cfg)

	var cl Client
	cl.BeginRequest(0x12345678, RequestConfig{
		HardwareAddr:         [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01},
		ParameterRequestList: []OptNum{OptSubnetMask, OptRouters, OptDNSServers},
	})
	var buf [2048]byte
	n, _ := cl.Encapsulate(buf[:])
	reply, err := sv.HandleEthernet(buf[:n])
	if err != nil || reply == nil {
		t.Fatal("no offer:", err)
	}
	dfrm, opts := decodeReply(t, reply)

	if dfrm.Op() != OpBootReply {
		t.Errorf("op = %s", dfrm.Op())
	}
	if *dfrm.YIAddr() != ([4]byte{192, 168, 10, 2}) {
		t.Errorf("yiaddr = %v", *dfrm.YIAddr())
	}
	if *dfrm.SIAddr() != cfg.ServerIP {
		t.Errorf("siaddr = %v", *dfrm.SIAddr())
	}
	if mt, _ := opts.Get(OptMessageType); len(mt.Data) != 1 || MessageType(mt.Data[0]) != MsgOffer {
		t.Errorf("message type option = %v", mt.Data)
	}
	wantIP := func(code OptNum, want [4]byte) {
		t.Helper()
		opt, ok := opts.Get(code)
		if !ok {
			t.Errorf("option %d missing", code)
			return
		}
		got, err := DecodeIPv4(opt)
		if err != nil || got != want {
			t.Errorf("option %d = %v, want %v", code, opt.Data, want)
		}
	}
	wantIP(OptSubnetMask, [4]byte{255, 255, 255, 0})
	wantIP(OptServerIdentifier, cfg.ServerIP)
	wantIP(OptBroadcastAddr, [4]byte{192, 168, 10, 255})
	wantIP(OptRouters, [4]byte{192, 168, 10, 254})
	wantIP(OptDNSServers, [4]byte{8, 8, 8, 8})
	if _, ok := opts.Get(OptIPLeaseTime); !ok {
		t.Error("lease time option missing")
	}
	if _, ok := opts.Get(OptRenewalTimeT1); !ok {
		t.Error("renewal T1 option missing")
	}
}

func TestAckCarriesLeaseTime(t *testing.T) {
	sv := mustServer(t, testConfig())
	var cl Client
	cl.BeginRequest(7, RequestConfig{HardwareAddr: [6]byte{1, 2, 3, 4, 5, 6}})
	exchange(t, &cl, sv)
	ack := exchange(t, &cl, sv)
	_, opts := decodeReply(t, ack)
	if mt, _ := opts.Get(OptMessageType); len(mt.Data) != 1 || MessageType(mt.Data[0]) != MsgAck {
		t.Fatalf("message type = %v, want ACK", mt.Data)
	}
	lt, ok := opts.Get(OptIPLeaseTime)
	if !ok {
		t.Fatal("ACK missing lease time")
	}
	secs, err := DecodeUint32(lt)
	if err != nil || secs != 8*24*3600 {
		t.Errorf("lease seconds = %d", secs)
	}
}

func TestMultipleClientsGetDistinctAddrs(t *testing.T) {
	sv := mustServer(t, testConfig())
	seen := make(map[[4]byte]bool)
	for i := byte(1); i <= 3; i++ {
		var cl Client
		cl.BeginRequest(uint32(100+i), RequestConfig{
			HardwareAddr: [6]byte{0, 0, 0, 0, 0, i},
			Hostname:     "host",
		})
		exchange(t, &cl, sv)
		exchange(t, &cl, sv)
		if !cl.Done() {
			t.Fatalf("client %d not bound", i)
		}
		if seen[cl.AssignedAddr()] {
			t.Fatalf("address %v assigned twice", cl.AssignedAddr())
		}
		seen[cl.AssignedAddr()] = true
	}
	if len(sv.Leases()) != 3 {
		t.Errorf("lease count = %d", len(sv.Leases()))
	}
}

func TestRequestDifferentIPReturnsOfferToPool(t *testing.T) {
	sv := mustServer(t, testConfig())
	mac := [6]byte{1, 2, 3, 4, 5, 6}

	var cl Client
	cl.BeginRequest(42, RequestConfig{HardwareAddr: mac})
	var buf [2048]byte
	n, _ := cl.Encapsulate(buf[:])
	offer, _ := sv.HandleEthernet(buf[:n])
	if offer == nil {
		t.Fatal("no offer")
	}
	if err := cl.Demux(offer); err != nil {
		t.Fatal(err)
	}
	offeredIP := cl.AssignedAddr()

	// Hand-build a REQUEST asking for a different address.
	want := [4]byte{192, 168, 10, 50}
	req := buildTestRequest(t, mac, 42, want, sv.cfg.ServerIP)
	ack, err := sv.HandleEthernet(req)
	if err != nil {
		t.Fatal(err)
	}
	if ack == nil {
		t.Fatal("no ack")
	}
	dfrm, _ := decodeReply(t, ack)
	if *dfrm.YIAddr() != want {
		t.Fatalf("yiaddr = %v, want %v", *dfrm.YIAddr(), want)
	}
	// The originally offered address must be allocatable again.
	rec, ok := sv.pool.GetIP("", MAC{9, 9, 9, 9, 9, 9}, &offeredIP)
	if !ok || rec.IP != offeredIP {
		t.Fatalf("offered address %v not back in pool", offeredIP)
	}
}

func TestRequestForAnotherServerDropped(t *testing.T) {
	sv := mustServer(t, testConfig())
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	var cl Client
	cl.BeginRequest(43, RequestConfig{HardwareAddr: mac})
	exchange(t, &cl, sv)

	req := buildTestRequest(t, mac, 43, cl.AssignedAddr(), [4]byte{10, 0, 0, 1})
	reply, err := sv.HandleEthernet(req)
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Fatal("server answered a REQUEST addressed to another server")
	}
	if _, held := sv.OfferFor(MAC(mac), 43); held {
		t.Error("offer not released after client chose another server")
	}
}

func TestRequestWithoutOfferDropped(t *testing.T) {
	sv := mustServer(t, testConfig())
	req := buildTestRequest(t, [6]byte{9, 9, 9, 9, 9, 9}, 77, [4]byte{192, 168, 10, 9}, sv.cfg.ServerIP)
	reply, err := sv.HandleEthernet(req)
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Fatal("server ACKed a REQUEST with no offer on file")
	}
}

func TestReleaseReturnsAddress(t *testing.T) {
	sv := mustServer(t, testConfig())
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	var cl Client
	cl.BeginRequest(5, RequestConfig{HardwareAddr: mac})
	exchange(t, &cl, sv)
	exchange(t, &cl, sv)
	leased := cl.AssignedAddr()

	rel := buildTestMessage(t, mac, 5, MsgRelease, nil, nil)
	if _, err := sv.HandleEthernet(rel); err != nil {
		t.Fatal(err)
	}
	if len(sv.Leases()) != 0 {
		t.Fatal("lease not removed on RELEASE")
	}
	// MRU reuse: released address comes back first.
	rec, ok := sv.pool.GetIP("", MAC{7, 7, 7, 7, 7, 7}, nil)
	if !ok || rec.IP != leased {
		t.Fatalf("next allocation = %v, want released %v", rec.IP, leased)
	}
}

func TestDeclineQuarantinesAddress(t *testing.T) {
	sv := mustServer(t, testConfig())
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	var cl Client
	cl.BeginRequest(5, RequestConfig{HardwareAddr: mac})
	exchange(t, &cl, sv)
	exchange(t, &cl, sv)
	declined := cl.AssignedAddr()

	decl := buildTestMessage(t, mac, 5, MsgDecline, &declined, nil)
	if _, err := sv.HandleEthernet(decl); err != nil {
		t.Fatal(err)
	}
	// The declined address must not be allocatable.
	rec, ok := sv.pool.GetIP("", MAC{7, 7, 7, 7, 7, 7}, &declined)
	if ok && rec.IP == declined {
		t.Fatal("declined address re-allocated during quarantine")
	}
}

func TestInformAnswersWithoutAllocation(t *testing.T) {
	sv := mustServer(t, testConfig())
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	ci := [4]byte{192, 168, 10, 77}
	inf := buildTestMessage(t, mac, 6, MsgInform, nil, &ci)
	reply, err := sv.HandleEthernet(inf)
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil {
		t.Fatal("no ACK for INFORM")
	}
	efrm, _ := ethernet.NewFrame(reply)
	ifrm, _ := ipv4.NewFrame(efrm.Payload())
	if *ifrm.DestinationAddr() != ci {
		t.Errorf("INFORM reply destination = %v, want ciaddr %v", *ifrm.DestinationAddr(), ci)
	}
	dfrm, opts := decodeReply(t, reply)
	if *dfrm.YIAddr() != ([4]byte{}) {
		t.Error("INFORM reply allocated an address")
	}
	if mt, _ := opts.Get(OptMessageType); len(mt.Data) != 1 || MessageType(mt.Data[0]) != MsgAck {
		t.Errorf("message type = %v, want ACK", mt.Data)
	}
	if len(sv.Leases()) != 0 {
		t.Error("INFORM created a lease")
	}
}

func TestNonDHCPTrafficIgnored(t *testing.T) {
	sv := mustServer(t, testConfig())
	// ARP frame.
	efrm, _ := ethernet.Build(nil, ethernet.Fields{
		Destination: ethernet.BroadcastAddr(),
		Source:      [6]byte{1, 2, 3, 4, 5, 6},
		EtherType:   ethernet.TypeARP,
		Payload:     bytes.Repeat([]byte{0}, 28),
	})
	if reply, err := sv.HandleEthernet(efrm.RawData()); err != nil || reply != nil {
		t.Errorf("ARP: reply=%v err=%v", reply, err)
	}
	// UDP to the wrong port.
	ufrm, _ := udp.Build(nil, udp.Fields{SourcePort: 1234, DestinationPort: 9999})
	ifrm, _ := ipv4.Build(nil, ipv4.Fields{
		TTL: 64, Protocol: ipv4.ProtoUDP,
		Source: [4]byte{192, 168, 10, 9}, Destination: [4]byte{255, 255, 255, 255},
		Payload: ufrm.RawData(),
	})
	efrm2, _ := ethernet.Build(nil, ethernet.Fields{
		Destination: ethernet.BroadcastAddr(),
		Source:      [6]byte{1, 2, 3, 4, 5, 6},
		EtherType:   ethernet.TypeIPv4,
		Payload:     ifrm.RawData(),
	})
	if reply, err := sv.HandleEthernet(efrm2.RawData()); err != nil || reply != nil {
		t.Errorf("wrong port: reply=%v err=%v", reply, err)
	}
}

func TestServerConfigValidation(t *testing.T) {
	_, err := NewServer(ServerConfig{ServerIP: [4]byte{192, 168, 10, 1}})
	if err == nil {
		t.Error("expected error for zero network")
	}
	_, err = NewServer(ServerConfig{
		ServerIP: [4]byte{10, 0, 0, 1},
		Network:  [4]byte{192, 168, 10, 0},
		Mask:     [4]byte{255, 255, 255, 0},
	})
	if err == nil {
		t.Error("expected error for server address outside network")
	}
}

// buildTestMessage assembles a raw client frame with the given message
// type, optional requested IP (option 50), and optional ciaddr.
func buildTestMessage(t *testing.T, mac [6]byte, xid uint32, mt MessageType, reqIP *[4]byte, ciaddr *[4]byte) []byte {
	t.Helper()
	opts := NewOptionSet()
	opts.Set(Uint8Option(OptMessageType, uint8(mt)))
	if reqIP != nil {
		opts.Set(IPv4Option(OptRequestedIPAddress, *reqIP))
	}
	var chaddr [16]byte
	copy(chaddr[:], mac[:])
	f := Fields{
		Op: OpBootRequest, HType: 1, HLen: 6, XID: xid,
		CHAddr:  chaddr,
		Options: AppendOptions(nil, opts),
	}
	if ciaddr != nil {
		f.CIAddr = *ciaddr
	}
	bootp := Build(nil, f)
	ufrm, err := udp.Build(nil, udp.Fields{
		SourcePort: DefaultClientPort, DestinationPort: DefaultServerPort,
		Payload: bootp.RawData(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ifrm, err := ipv4.Build(nil, ipv4.Fields{
		TTL: 64, Protocol: ipv4.ProtoUDP,
		Destination: [4]byte{255, 255, 255, 255},
		Payload:     ufrm.RawData(),
	})
	if err != nil {
		t.Fatal(err)
	}
	efrm, err := ethernet.Build(nil, ethernet.Fields{
		Destination: ethernet.BroadcastAddr(),
		Source:      mac,
		EtherType:   ethernet.TypeIPv4,
		Payload:     ifrm.RawData(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return efrm.RawData()
}

// buildTestRequest assembles a REQUEST with option 50 and a server
// identifier (54).
func buildTestRequest(t *testing.T, mac [6]byte, xid uint32, reqIP, serverID [4]byte) []byte {
	t.Helper()
	opts := NewOptionSet()
	opts.Set(Uint8Option(OptMessageType, uint8(MsgRequest)))
	opts.Set(IPv4Option(OptRequestedIPAddress, reqIP))
	opts.Set(IPv4Option(OptServerIdentifier, serverID))
	var chaddr [16]byte
	copy(chaddr[:], mac[:])
	bootp := Build(nil, Fields{
		Op: OpBootRequest, HType: 1, HLen: 6, XID: xid,
		CHAddr:  chaddr,
		Options: AppendOptions(nil, opts),
	})
	ufrm, _ := udp.Build(nil, udp.Fields{
		SourcePort: DefaultClientPort, DestinationPort: DefaultServerPort,
		Payload: bootp.RawData(),
	})
	ifrm, _ := ipv4.Build(nil, ipv4.Fields{
		TTL: 64, Protocol: ipv4.ProtoUDP,
		Destination: [4]byte{255, 255, 255, 255},
		Payload:     ufrm.RawData(),
	})
	efrm, _ := ethernet.Build(nil, ethernet.Fields{
		Destination: ethernet.BroadcastAddr(),
		Source:      mac,
		EtherType:   ethernet.TypeIPv4,
		Payload:     ifrm.RawData(),
	})
	return efrm.RawData()
}

// TestMalformedFramesDropped feeds frames whose declared lengths exceed
// the captured bytes; the receive path must return an error (the caller
// drops and continues) rather than slicing out of bounds.
func TestMalformedFramesDropped(t *testing.T) {
	sv := mustServer(t, testConfig())

	wrap := func(ipPayload []byte) []byte {
		efrm, err := ethernet.Build(nil, ethernet.Fields{
			Destination: ethernet.BroadcastAddr(),
			Source:      [6]byte{1, 2, 3, 4, 5, 6},
			EtherType:   ethernet.TypeIPv4,
			Payload:     ipPayload,
		})
		if err != nil {
			t.Fatal(err)
		}
		return efrm.RawData()
	}

	// IPv4 total length claims more bytes than were captured.
	truncated := make([]byte, 20)
	truncated[0] = 0x45
	binary.BigEndian.PutUint16(truncated[2:4], 200)
	truncated[9] = byte(ipv4.ProtoUDP)
	if reply, err := sv.HandleEthernet(wrap(truncated)); err == nil || reply != nil {
		t.Errorf("oversized total length: reply=%v err=%v", reply, err)
	}

	// IHL points past the total length.
	badIHL := make([]byte, 24)
	badIHL[0] = 0x4f // IHL 15 -> 60-byte header
	binary.BigEndian.PutUint16(badIHL[2:4], 24)
	badIHL[9] = byte(ipv4.ProtoUDP)
	if reply, err := sv.HandleEthernet(wrap(badIHL)); err == nil || reply != nil {
		t.Errorf("IHL beyond total length: reply=%v err=%v", reply, err)
	}

	// UDP length field claims more than the enclosing IPv4 payload holds.
	badUDP := make([]byte, 8)
	binary.BigEndian.PutUint16(badUDP[2:4], DefaultServerPort)
	binary.BigEndian.PutUint16(badUDP[4:6], 100)
	ifrm, err := ipv4.Build(nil, ipv4.Fields{
		TTL: 64, Protocol: ipv4.ProtoUDP,
		Source: [4]byte{192, 168, 10, 9}, Destination: [4]byte{255, 255, 255, 255},
		Payload: badUDP,
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply, err := sv.HandleEthernet(wrap(ifrm.RawData())); err == nil || reply != nil {
		t.Errorf("oversized UDP length: reply=%v err=%v", reply, err)
	}
}
