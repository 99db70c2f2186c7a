package dhcpv4

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/packetwright/netsuite/ethernet"
)

// savedState is the on-disk document written by [Server.Save]: the scalar
// setup parameters, permanent reservations, the MAC listing, and both
// option tables with their raw wire bytes. Unknown keys in an existing
// file are ignored on load; a document whose version is newer than
// savedStateVersion is refused.
type savedState struct {
	Version       int               `yaml:"version"`
	SetupInfo     savedSetup        `yaml:"setup_info"`
	Reservations  map[string]string `yaml:"reservations"` // mac -> dotted quad
	Listings      savedListings     `yaml:"listings"`
	ServerOptions map[uint8][]byte  `yaml:"server_options"`
	Options       map[uint8][]byte  `yaml:"options"`
}

type savedSetup struct {
	ServerIP      string `yaml:"server_ip"`
	ServerPort    uint16 `yaml:"server_port"`
	ClientPort    uint16 `yaml:"client_port"`
	Network       string `yaml:"network"`
	Mask          string `yaml:"mask"`
	Broadcast     bool   `yaml:"broadcast"`
	OfferHoldTime int64  `yaml:"offer_hold_time"` // seconds
	IPLeaseTime   int64  `yaml:"ipleasetime"`
	RenewalT1     int64  `yaml:"renewalt1"`
	RenewalT2     int64  `yaml:"renewalt2"`
	Interface     string `yaml:"interface"`
}

type savedListings struct {
	MACs []string `yaml:"macs"`
	Mode string   `yaml:"mode"` // "allow" or "deny"
}

const savedStateVersion = 1

var errFutureSchema = errors.New("dhcpv4: save file written by a newer schema version")

func ipString(ip [4]byte) string { return netip.AddrFrom4(ip).String() }

func parseIP4(s string) ([4]byte, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return [4]byte{}, fmt.Errorf("dhcpv4: bad IPv4 literal %q", s)
	}
	return addr.As4(), nil
}

func parseMAC(s string) (MAC, error) {
	var mac MAC
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x",
		&mac[0], &mac[1], &mac[2], &mac[3], &mac[4], &mac[5])
	if err != nil || n != 6 {
		return MAC{}, fmt.Errorf("dhcpv4: bad MAC literal %q", s)
	}
	return mac, nil
}

// Save serializes the server's durable state to path. Offers and live
// leases are deliberately not persisted: both are short-lived commitments
// a restarted server should not honor blindly.
func (sv *Server) Save(path string) error {
	sv.mu.Lock()
	doc := savedState{
		Version: savedStateVersion,
		SetupInfo: savedSetup{
			ServerIP:      ipString(sv.cfg.ServerIP),
			ServerPort:    sv.cfg.ServerPort,
			ClientPort:    sv.cfg.ClientPort,
			Network:       ipString(sv.cfg.Network),
			Mask:          ipString(sv.cfg.Mask),
			Broadcast:     sv.cfg.Broadcast,
			OfferHoldTime: int64(sv.cfg.OfferHoldTime / time.Second),
			IPLeaseTime:   int64(sv.cfg.LeaseTime / time.Second),
			RenewalT1:     int64(sv.cfg.RenewalT1 / time.Second),
			RenewalT2:     int64(sv.cfg.RebindingT2 / time.Second),
			Interface:     sv.cfg.Interface,
		},
		Reservations:  make(map[string]string),
		ServerOptions: make(map[uint8][]byte),
		Options:       make(map[uint8][]byte),
	}
	for mac, rec := range sv.pool.reservations {
		doc.Reservations[string(ethernet.AppendAddr(nil, mac))] = ipString(rec.IP)
	}
	for mac := range sv.pool.listing {
		doc.Listings.MACs = append(doc.Listings.MACs, string(ethernet.AppendAddr(nil, mac)))
	}
	if sv.pool.mode == ListAllow {
		doc.Listings.Mode = "allow"
	} else {
		doc.Listings.Mode = "deny"
	}
	for _, code := range sv.serverOptions.Codes() {
		opt, _ := sv.serverOptions.Get(code)
		doc.ServerOptions[uint8(code)] = opt.Data
	}
	for _, code := range sv.options.Codes() {
		opt, _ := sv.options.Get(code)
		doc.Options[uint8(code)] = opt.Data
	}
	sv.mu.Unlock()

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// Load reconstructs a server from a save file. A missing file is not an
// error: the returned server is built from cfg alone. Fields present in
// cfg override their persisted counterparts when nonzero.
func Load(path string, cfg ServerConfig) (*Server, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewServer(cfg)
	} else if err != nil {
		return nil, err
	}
	var doc savedState
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Version > savedStateVersion {
		return nil, errFutureSchema
	}

	merged, err := doc.mergeInto(cfg)
	if err != nil {
		return nil, err
	}
	sv, err := NewServer(merged)
	if err != nil {
		return nil, err
	}
	for macS, ipS := range doc.Reservations {
		mac, err := parseMAC(macS)
		if err != nil {
			continue
		}
		ip, err := parseIP4(ipS)
		if err != nil {
			continue
		}
		sv.pool.Reserve(Record{MAC: mac, IP: ip})
	}
	for _, macS := range doc.Listings.MACs {
		if mac, err := parseMAC(macS); err == nil {
			sv.pool.AddListing(mac)
		}
	}
	if doc.Listings.Mode == "allow" {
		sv.pool.mode = ListAllow
	}
	for code, data := range doc.ServerOptions {
		if err := sv.RegisterServerOption(Option{Code: OptNum(code), Data: data}); err != nil {
			continue // oversized entry in the document: skip, like bad MACs above
		}
	}
	for code, data := range doc.Options {
		if err := sv.RegisterOption(Option{Code: OptNum(code), Data: data}); err != nil {
			continue
		}
	}
	return sv, nil
}

// mergeInto overlays the persisted setup under cfg: any zero cfg field
// takes the saved value.
func (doc *savedState) mergeInto(cfg ServerConfig) (ServerConfig, error) {
	s := doc.SetupInfo
	var err error
	if cfg.ServerIP == ([4]byte{}) && s.ServerIP != "" {
		if cfg.ServerIP, err = parseIP4(s.ServerIP); err != nil {
			return cfg, err
		}
	}
	if cfg.Network == ([4]byte{}) && s.Network != "" {
		if cfg.Network, err = parseIP4(s.Network); err != nil {
			return cfg, err
		}
	}
	if cfg.Mask == ([4]byte{}) && s.Mask != "" {
		if cfg.Mask, err = parseIP4(s.Mask); err != nil {
			return cfg, err
		}
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = s.ServerPort
	}
	if cfg.ClientPort == 0 {
		cfg.ClientPort = s.ClientPort
	}
	if !cfg.Broadcast {
		cfg.Broadcast = s.Broadcast
	}
	if cfg.OfferHoldTime == 0 && s.OfferHoldTime > 0 {
		cfg.OfferHoldTime = time.Duration(s.OfferHoldTime) * time.Second
	}
	if cfg.LeaseTime == 0 && s.IPLeaseTime > 0 {
		cfg.LeaseTime = time.Duration(s.IPLeaseTime) * time.Second
	}
	if cfg.RenewalT1 == 0 && s.RenewalT1 > 0 {
		cfg.RenewalT1 = time.Duration(s.RenewalT1) * time.Second
	}
	if cfg.RebindingT2 == 0 && s.RenewalT2 > 0 {
		cfg.RebindingT2 = time.Duration(s.RenewalT2) * time.Second
	}
	if cfg.Interface == "" {
		cfg.Interface = s.Interface
	}
	return cfg, nil
}
