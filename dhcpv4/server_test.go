package dhcpv4

import (
	"path/filepath"
	"testing"
	"time"
)

// TestOfferHoldExpiry verifies that an offer with no matching REQUEST is
// released back to the free list after the hold time.
func TestOfferHoldExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.OfferHoldTime = 20 * time.Millisecond
	sv := mustServer(t, cfg)
	mac := [6]byte{1, 2, 3, 4, 5, 6}

	var cl Client
	cl.BeginRequest(9, RequestConfig{HardwareAddr: mac})
	var buf [2048]byte
	n, _ := cl.Encapsulate(buf[:])
	offer, err := sv.HandleEthernet(buf[:n])
	if err != nil || offer == nil {
		t.Fatal("no offer:", err)
	}
	if err := cl.Demux(offer); err != nil {
		t.Fatal(err)
	}
	offered := cl.AssignedAddr()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, held := sv.OfferFor(MAC(mac), 9); !held {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("offer still held after hold time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Offered address must be allocatable again.
	sv.mu.Lock()
	rec, ok := sv.pool.GetIP("", MAC{7, 7, 7, 7, 7, 7}, &offered)
	sv.mu.Unlock()
	if !ok || rec.IP != offered {
		t.Fatalf("expired offer's address %v not back in pool", offered)
	}
}

// TestLeaseExpiryMatchesIP verifies the renewed-lease guard: a stale
// expiry timer must not tear down a lease that has since moved to a
// different address.
func TestLeaseExpiryMatchesIP(t *testing.T) {
	sv := mustServer(t, testConfig())
	mac := MAC{1, 2, 3, 4, 5, 6}
	oldRec := Record{Name: "h", MAC: mac, IP: [4]byte{192, 168, 10, 2}}
	newRec := Record{Name: "h", MAC: mac, IP: [4]byte{192, 168, 10, 3}}

	sv.mu.Lock()
	sv.clients = append(sv.clients, newRec)
	sv.mu.Unlock()

	// Fire the stale timer's action directly.
	sv.releaseClient(oldRec)

	if len(sv.Leases()) != 1 {
		t.Fatal("stale expiry removed a renewed lease")
	}
	// The matching timer does remove it.
	sv.releaseClient(newRec)
	if len(sv.Leases()) != 0 {
		t.Fatal("matching expiry did not remove lease")
	}
}

func TestListingGate(t *testing.T) {
	sv := mustServer(t, testConfig())
	denied := [6]byte{0xBA, 0xD0, 0, 0, 0, 1}
	sv.pool.AddListing(MAC(denied))

	var cl Client
	cl.BeginRequest(11, RequestConfig{HardwareAddr: denied})
	var buf [2048]byte
	n, _ := cl.Encapsulate(buf[:])
	reply, err := sv.HandleEthernet(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Fatal("deny-listed MAC received an offer")
	}

	// Allow mode: only listed MACs served.
	sv.pool.ToggleMode()
	cl.Reset()
	cl.BeginRequest(12, RequestConfig{HardwareAddr: denied})
	n, _ = cl.Encapsulate(buf[:])
	reply, err = sv.HandleEthernet(buf[:n])
	if err != nil || reply == nil {
		t.Fatal("allow-listed MAC not served:", err)
	}
	cl.Reset()
	cl.BeginRequest(13, RequestConfig{HardwareAddr: [6]byte{5, 5, 5, 5, 5, 5}})
	n, _ = cl.Encapsulate(buf[:])
	reply, err = sv.HandleEthernet(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Fatal("unlisted MAC served in allow mode")
	}
}

func TestReservationHonored(t *testing.T) {
	sv := mustServer(t, testConfig())
	mac := MAC{1, 2, 3, 4, 5, 6}
	want := [4]byte{192, 168, 10, 200}
	sv.pool.Reserve(Record{Name: "printer", MAC: mac, IP: want})

	var cl Client
	cl.BeginRequest(21, RequestConfig{HardwareAddr: mac, RequestedAddr: [4]byte{192, 168, 10, 5}})
	exchange(t, &cl, sv)
	if cl.AssignedAddr() != want {
		t.Fatalf("reserved client offered %v, want %v", cl.AssignedAddr(), want)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhcp-state.yaml")

	cfg := testConfig()
	cfg.Broadcast = true
	cfg.LeaseTime = 2 * time.Hour
	cfg.Routers = [][4]byte{{192, 168, 10, 254}}
	sv := mustServer(t, cfg)
	resMAC := MAC{0xAA, 0, 0, 0, 0, 1}
	sv.pool.Reserve(Record{MAC: resMAC, IP: [4]byte{192, 168, 10, 100}})
	sv.pool.AddListing(MAC{0xBB, 0, 0, 0, 0, 2})

	if err := sv.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path, ServerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.sched.Shutdown()
	got := loaded.Config()
	if got.ServerIP != cfg.ServerIP || got.Network != cfg.Network || got.Mask != cfg.Mask {
		t.Errorf("addressing not restored: %+v", got)
	}
	if !got.Broadcast {
		t.Error("broadcast flag not restored")
	}
	if got.LeaseTime != 2*time.Hour {
		t.Errorf("lease time = %v", got.LeaseTime)
	}
	if rec, ok := loaded.pool.reservations[resMAC]; !ok || rec.IP != ([4]byte{192, 168, 10, 100}) {
		t.Errorf("reservation not restored: %v", loaded.pool.reservations)
	}
	if _, ok := loaded.pool.listing[MAC{0xBB, 0, 0, 0, 0, 2}]; !ok {
		t.Error("listing not restored")
	}
	if opt, ok := loaded.options.Get(OptRouters); !ok || len(opt.Data) != 4 {
		t.Error("requested-option table not restored")
	}
	if _, ok := loaded.serverOptions.Get(OptServerIdentifier); !ok {
		t.Error("server option table not restored")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := testConfig()
	sv, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sv.sched.Shutdown()
	if sv.Config().ServerIP != cfg.ServerIP {
		t.Error("defaults not applied for missing save file")
	}
}
