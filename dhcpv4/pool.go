package dhcpv4

import (
	"encoding/binary"
)

// MAC is a 6-byte Ethernet hardware address, used as the map key for
// reservations, listings, offers, and leases.
type MAC [6]byte

// ListMode selects how [Pool.listing] gates clients in [Pool.GetIP].
type ListMode uint8

const (
	// ListDeny rejects MACs present in the listing; everyone else is
	// allowed.
	ListDeny ListMode = iota
	// ListAllow admits only MACs present in the listing.
	ListAllow
)

// Record is an allocated address: the hostname supplied by the client (if
// any), its hardware address, and the IPv4 it was given.
type Record struct {
	Name string
	MAC  MAC
	IP   [4]byte
}

// Pool is an IPv4 address pool scoped to one network: an MRU free list, a
// MAC-keyed reservation map, and an allow/deny listing. The invariant
// maintained across every operation is that an address belongs to at most
// one of {free, reserved, leased, unusable}.
type Pool struct {
	Network [4]byte
	Mask    [4]byte

	free         []uint32 // host addresses as big-endian uint32, MRU at index 0
	reservations map[MAC]Record
	listing      map[MAC]struct{}
	mode         ListMode
}

// NewPool returns a Pool for the given network/mask, with its usable host
// range (excluding the network and broadcast addresses) populated into the
// free list in ascending order.
func NewPool(network, mask [4]byte) *Pool {
	p := &Pool{
		Network:      network,
		Mask:         mask,
		reservations: make(map[MAC]Record),
		listing:      make(map[MAC]struct{}),
	}
	netU := binary.BigEndian.Uint32(network[:])
	maskU := binary.BigEndian.Uint32(mask[:])
	bcast := netU | ^maskU
	for h := netU + 1; h < bcast; h++ {
		p.free = append(p.free, h)
	}
	return p
}

// Contains reports whether ip belongs to the pool's network.
func (p *Pool) Contains(ip [4]byte) bool {
	ipU := binary.BigEndian.Uint32(ip[:])
	netU := binary.BigEndian.Uint32(p.Network[:])
	maskU := binary.BigEndian.Uint32(p.Mask[:])
	return ipU&maskU == netU&maskU
}

func u32ToIP(u uint32) [4]byte {
	var ip [4]byte
	binary.BigEndian.PutUint32(ip[:], u)
	return ip
}

// removeFree removes ip from the free list if present, reporting whether
// it was found.
func (p *Pool) removeFree(ip [4]byte) bool {
	target := binary.BigEndian.Uint32(ip[:])
	for i, h := range p.free {
		if h == target {
			p.free = append(p.free[:i], p.free[i+1:]...)
			return true
		}
	}
	return false
}

// Reserve assigns rec.IP permanently to rec.MAC, removing it from the free
// list if present. Re-reserving an already-reserved MAC is a no-op.
// Addresses outside the network, or the network's broadcast address, are
// never moved; a caller that reserves such an address merely records the
// intent.
func (p *Pool) Reserve(rec Record) {
	if _, ok := p.reservations[rec.MAC]; ok {
		return
	}
	p.removeFree(rec.IP)
	p.reservations[rec.MAC] = rec
}

// Unreserve removes mac's reservation. The address is not returned to the
// free list; the caller decides its fate.
func (p *Pool) Unreserve(mac MAC) { delete(p.reservations, mac) }

// AddListing adds mac to the listing set.
func (p *Pool) AddListing(mac MAC) { p.listing[mac] = struct{}{} }

// RemoveListing removes mac from the listing set.
func (p *Pool) RemoveListing(mac MAC) { delete(p.listing, mac) }

// ToggleMode flips the listing mode between allow and deny.
func (p *Pool) ToggleMode() {
	if p.mode == ListDeny {
		p.mode = ListAllow
	} else {
		p.mode = ListDeny
	}
}

// Mode returns the current listing mode.
func (p *Pool) Mode() ListMode { return p.mode }

// GetIP implements the allocation gate of §4.5: listing check, then
// reservation hit, then requested-IP satisfaction, then head-of-free-list
// allocation. It returns false if the client is denied or the pool is
// exhausted.
func (p *Pool) GetIP(clientID string, mac MAC, requestedIP *[4]byte) (Record, bool) {
	_, listed := p.listing[mac]
	if listed && p.mode == ListDeny {
		return Record{}, false
	}
	if !listed && p.mode == ListAllow {
		return Record{}, false
	}
	if rec, ok := p.reservations[mac]; ok {
		return rec, true
	}
	if requestedIP != nil && p.removeFree(*requestedIP) {
		return Record{Name: clientID, MAC: mac, IP: *requestedIP}, true
	}
	if len(p.free) == 0 {
		return Record{}, false
	}
	h := p.free[0]
	p.free = p.free[1:]
	return Record{Name: clientID, MAC: mac, IP: u32ToIP(h)}, true
}

// AddIP returns ip to the head of the free list (MRU reuse) if it belongs
// to the pool's network. An address that is already free or is held by a
// reservation is left where it is.
func (p *Pool) AddIP(ip [4]byte) {
	if !p.Contains(ip) {
		return
	}
	for _, rec := range p.reservations {
		if rec.IP == ip {
			return
		}
	}
	h := binary.BigEndian.Uint32(ip[:])
	for _, f := range p.free {
		if f == h {
			return
		}
	}
	p.free = append([]uint32{h}, p.free...)
}

// FreeLen reports the number of addresses currently available for
// allocation.
func (p *Pool) FreeLen() int { return len(p.free) }
