package dhcpv4

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/packetwright/netsuite/ethernet"
	"github.com/packetwright/netsuite/ipv4"
	"github.com/packetwright/netsuite/netwire"
	"github.com/packetwright/netsuite/udp"
)

// ServerConfig carries everything needed to bring up a Server. Zero fields
// take the defaults documented next to them.
type ServerConfig struct {
	// ServerIP is the address the server identifies itself with (option 54)
	// and sources its replies from. Must lie within Network/Mask.
	ServerIP [4]byte
	// Network and Mask describe the subnet addresses are leased from.
	Network [4]byte
	Mask    [4]byte

	ServerPort uint16 // default 67
	ClientPort uint16 // default 68

	// Broadcast forces replies onto ff:ff:ff:ff:ff:ff regardless of what
	// the client's flags field asks for. Replies to a relay (giaddr) or to
	// a client that filled in ciaddr are still unicast.
	Broadcast bool

	// Interface names the device the raw socket binds to (Linux only).
	Interface string
	// SaveFile, when set, is where Shutdown persists server state.
	SaveFile string

	OfferHoldTime time.Duration // default 60s
	LeaseTime     time.Duration // default 8 days
	RenewalT1     time.Duration // default LeaseTime/2
	RebindingT2   time.Duration // default LeaseTime*7/8
	// QuarantineTime is how long a DECLINEd address stays out of the free
	// list before being returned. Default 1 hour.
	QuarantineTime time.Duration

	Routers    [][4]byte // option 3, appended when requested
	DNSServers [][4]byte // option 6, appended when requested

	Logger *slog.Logger // nil disables logging
}

const (
	defaultOfferHoldTime  = 60 * time.Second
	defaultLeaseTime      = 8 * 24 * time.Hour
	defaultQuarantineTime = time.Hour
)

var (
	errZeroNetwork     = errors.New("dhcpv4: zero network/mask in server config")
	errServerOffSubnet = errors.New("dhcpv4: server address outside configured network")
)

func (cfg *ServerConfig) setDefaults() {
	if cfg.ServerPort == 0 {
		cfg.ServerPort = DefaultServerPort
	}
	if cfg.ClientPort == 0 {
		cfg.ClientPort = DefaultClientPort
	}
	if cfg.OfferHoldTime == 0 {
		cfg.OfferHoldTime = defaultOfferHoldTime
	}
	if cfg.LeaseTime == 0 {
		cfg.LeaseTime = defaultLeaseTime
	}
	if cfg.RenewalT1 == 0 {
		cfg.RenewalT1 = cfg.LeaseTime / 2
	}
	if cfg.RebindingT2 == 0 {
		cfg.RebindingT2 = cfg.LeaseTime / 8 * 7
	}
	if cfg.QuarantineTime == 0 {
		cfg.QuarantineTime = defaultQuarantineTime
	}
}

func (cfg *ServerConfig) validate() error {
	if cfg.Network == ([4]byte{}) || cfg.Mask == ([4]byte{}) {
		return errZeroNetwork
	}
	netU := binary.BigEndian.Uint32(cfg.Network[:])
	maskU := binary.BigEndian.Uint32(cfg.Mask[:])
	svU := binary.BigEndian.Uint32(cfg.ServerIP[:])
	if svU&maskU != netU&maskU {
		return errServerOffSubnet
	}
	return nil
}

// offerKey identifies an outstanding offer by the pair the client echoes
// back in its REQUEST.
type offerKey struct {
	mac MAC
	xid uint32
}

// Server is the DHCPv4 lease allocator: the handler state machine over an
// address pool, an offer table, a lease table, and two option tables, with
// replies emitted as full Ethernet/IPv4/UDP frames.
type Server struct {
	cfg    ServerConfig
	hwaddr [6]byte // bound interface's MAC, source of emitted frames

	mu            sync.Mutex
	pool          *Pool
	sched         *Scheduler
	serverOptions OptionSet // appended to every reply
	options       OptionSet // appended when listed in the client's PRL
	offers        map[offerKey]Record
	clients       []Record

	raw interface{ Close() error } // bound raw socket, if serving
	log *slog.Logger
}

// Close shuts down the bound raw socket, if any, unblocking a running
// Serve loop. The scheduler is left to [Server.Shutdown].
func (sv *Server) Close() error {
	if sv.raw != nil {
		return sv.raw.Close()
	}
	return nil
}

// NewServer validates cfg, builds the address pool, and pre-populates the
// always-sent option table: subnet mask (1), broadcast address (28), server
// identifier (54), lease time (51), renewal T1 (58) and rebinding T2 (59).
// Routers and DNS servers from cfg land in the on-request table and their
// in-network addresses are reserved out of the pool.
func NewServer(cfg ServerConfig) (*Server, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sv := &Server{
		cfg:           cfg,
		pool:          NewPool(cfg.Network, cfg.Mask),
		sched:         NewScheduler(),
		serverOptions: NewOptionSet(),
		options:       NewOptionSet(),
		offers:        make(map[offerKey]Record),
		log:           cfg.Logger,
	}
	netU := binary.BigEndian.Uint32(cfg.Network[:])
	maskU := binary.BigEndian.Uint32(cfg.Mask[:])
	bcast := u32ToIP(netU&maskU | ^maskU)

	sv.serverOptions.Set(IPv4Option(OptSubnetMask, cfg.Mask))
	sv.serverOptions.Set(IPv4Option(OptBroadcastAddr, bcast))
	sv.serverOptions.Set(IPv4Option(OptServerIdentifier, cfg.ServerIP))
	sv.serverOptions.Set(Uint32Option(OptIPLeaseTime, uint32(cfg.LeaseTime/time.Second)))
	sv.serverOptions.Set(Uint32Option(OptRenewalTimeT1, uint32(cfg.RenewalT1/time.Second)))
	sv.serverOptions.Set(Uint32Option(OptRebindingTimeT2, uint32(cfg.RebindingT2/time.Second)))
	sv.pool.removeFree(cfg.ServerIP)

	if len(cfg.Routers) > 0 {
		if err := sv.RegisterOption(IPv4ListOption(OptRouters, cfg.Routers)); err != nil {
			sv.sched.Shutdown()
			return nil, err
		}
	}
	if len(cfg.DNSServers) > 0 {
		if err := sv.RegisterOption(IPv4ListOption(OptDNSServers, cfg.DNSServers)); err != nil {
			sv.sched.Shutdown()
			return nil, err
		}
	}
	return sv, nil
}

// SetHardwareAddr records the MAC the server sources emitted frames from,
// normally the bound interface's address.
func (sv *Server) SetHardwareAddr(hw [6]byte) { sv.hwaddr = hw }

// Config returns a copy of the configuration the server was built with,
// with defaults applied.
func (sv *Server) Config() ServerConfig { return sv.cfg }

// Pool returns the server's address pool. Callers mutating it directly
// must not race with a running receive loop.
func (sv *Server) Pool() *Pool { return sv.pool }

// RegisterServerOption adds an option that is appended to every reply. Any
// in-network addresses the option carries are reserved out of the pool so
// they cannot also be leased.
func (sv *Server) RegisterServerOption(opt Option) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if err := sv.serverOptions.Set(opt); err != nil {
		return err
	}
	sv.reserveOptionAddrs(opt)
	return nil
}

// RegisterOption adds an option that is appended only when the client asks
// for it via the Parameter Request List (55).
func (sv *Server) RegisterOption(opt Option) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if err := sv.options.Set(opt); err != nil {
		return err
	}
	sv.reserveOptionAddrs(opt)
	return nil
}

// reserveOptionAddrs pulls any pool addresses mentioned by an IP-valued
// option (router, DNS server, ...) off the free list. sv.mu held.
func (sv *Server) reserveOptionAddrs(opt Option) {
	if len(opt.Data) == 0 || len(opt.Data)%4 != 0 {
		return
	}
	for i := 0; i+4 <= len(opt.Data); i += 4 {
		var ip [4]byte
		copy(ip[:], opt.Data[i:])
		if sv.pool.Contains(ip) {
			sv.pool.removeFree(ip)
		}
	}
}

// Shutdown persists state when a save file is configured, then stops the
// expiry scheduler, cancelling all pending offer/lease timers.
func (sv *Server) Shutdown() error {
	var err error
	if sv.cfg.SaveFile != "" {
		err = sv.Save(sv.cfg.SaveFile)
	}
	sv.sched.Shutdown()
	return err
}

// HandleEthernet runs one received frame through the full receive path:
// Ethernet, IPv4, UDP, then the BOOTP payload. The returned slice is a
// complete reply frame ready for the raw socket, or nil when the packet is
// not for us or policy says to stay silent. A raw socket delivers
// arbitrary, possibly truncated frames, so every layer's declared sizes
// are validated before its payload is sliced; malformed frames come back
// as errors for the caller to drop.
func (sv *Server) HandleEthernet(frame []byte) ([]byte, error) {
	var vld netwire.Validator
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return nil, err
	}
	efrm.ValidateSize(&vld)
	if vld.HasError() {
		return nil, vld.ErrPop()
	}
	etype := efrm.EtherTypeOrSize()
	if efrm.IsVLAN() {
		etype = efrm.VLANEtherType()
	}
	if etype != ethernet.TypeIPv4 {
		return nil, nil
	}
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		return nil, err
	}
	ifrm.ValidateExceptCRC(&vld)
	if vld.HasError() {
		return nil, vld.ErrPop()
	}
	if ifrm.Protocol() != ipv4.ProtoUDP {
		return nil, nil
	}
	ufrm, err := udp.NewFrame(ifrm.Payload())
	if err != nil {
		return nil, err
	}
	ufrm.ValidateSize(&vld)
	if vld.HasError() {
		return nil, vld.ErrPop()
	}
	if ufrm.DestinationPort() != sv.cfg.ServerPort {
		return nil, nil
	}
	return sv.handleMessage(ufrm.Payload(), *efrm.SourceHardwareAddr())
}

// handleMessage dispatches a BOOTP payload on its DHCP Message Type option
// and wraps any reply in UDP/IPv4/Ethernet.
func (sv *Server) handleMessage(payload []byte, srcMAC [6]byte) ([]byte, error) {
	dfrm, err := NewFrame(payload)
	if err != nil {
		return nil, err
	}
	opts, err := DecodeOptions(dfrm.OptionsPayload())
	if err != nil {
		return nil, err
	}
	var msgType MessageType
	if opt, ok := opts.Get(OptMessageType); ok && len(opt.Data) == 1 {
		msgType = MessageType(opt.Data[0])
	}
	sv.logRecv(msgType, dfrm)

	var reply *replyPlan
	switch msgType {
	case MsgDiscover:
		reply = sv.handleDiscover(dfrm, opts)
	case MsgRequest:
		reply = sv.handleRequest(dfrm, opts)
	case MsgDecline:
		sv.handleDecline(dfrm, opts)
	case MsgRelease:
		sv.handleRelease(dfrm)
	case MsgInform:
		reply = sv.handleInform(dfrm, opts)
	}
	if reply == nil {
		return nil, nil
	}
	return sv.emit(dfrm, reply)
}

// replyPlan is a reply's BOOTP payload plus the addressing decisions made
// by the handler before frame assembly.
type replyPlan struct {
	payload   []byte
	yiaddr    [4]byte
	unicastIP [4]byte // nonzero forces IPv4 unicast to this address
	hops      uint8
	broadcast bool
}

// buildReplyOptions assembles a reply's option stream: message type first,
// then every always-sent option, then each PRL-requested option we have.
// sv.mu held.
func (sv *Server) buildReplyOptions(msgType MessageType, prl []byte) OptionSet {
	out := NewOptionSet()
	out.Set(Uint8Option(OptMessageType, uint8(msgType)))
	for _, code := range sv.serverOptions.Codes() {
		opt, _ := sv.serverOptions.Get(code)
		out.Set(opt)
	}
	for _, code := range prl {
		if opt, ok := sv.options.Get(OptNum(code)); ok {
			out.Set(opt)
		}
	}
	return out
}

func requestedIP(opts OptionSet) *[4]byte {
	if opt, ok := opts.Get(OptRequestedIPAddress); ok {
		if ip, err := DecodeIPv4(opt); err == nil {
			return &ip
		}
	}
	return nil
}

func prlOf(opts OptionSet) []byte {
	if opt, ok := opts.Get(OptParameterRequestList); ok {
		return opt.Data
	}
	return nil
}

func hostnameOf(opts OptionSet) string {
	if opt, ok := opts.Get(OptHostName); ok {
		return string(opt.Data)
	}
	return ""
}

// handleDiscover allocates an address from the pool, registers a
// short-lived offer, and answers with OFFER. A denied client or exhausted
// pool gets silence; the client will re-broadcast and try elsewhere.
func (sv *Server) handleDiscover(dfrm Frame, opts OptionSet) *replyPlan {
	mac := MAC(*dfrm.CHAddrAs6())
	sv.mu.Lock()
	rec, ok := sv.pool.GetIP(hostnameOf(opts), mac, requestedIP(opts))
	if !ok {
		sv.mu.Unlock()
		return nil
	}
	key := offerKey{mac: mac, xid: dfrm.XID()}
	sv.offers[key] = rec
	sv.mu.Unlock()
	sv.sched.Insert(sv.cfg.OfferHoldTime, func() { sv.releaseOffer(key) })

	return sv.plan(MsgOffer, dfrm, opts, rec.IP)
}

// handleRequest promotes a held offer into a lease and answers with ACK.
// Requests addressed to another server, or with no matching offer on file,
// are dropped.
func (sv *Server) handleRequest(dfrm Frame, opts OptionSet) *replyPlan {
	mac := MAC(*dfrm.CHAddrAs6())
	key := offerKey{mac: mac, xid: dfrm.XID()}

	if opt, ok := opts.Get(OptServerIdentifier); ok {
		if sid, err := DecodeIPv4(opt); err == nil && sid != sv.cfg.ServerIP {
			// Client accepted a different server's offer; free ours early.
			sv.releaseOffer(key)
			return nil
		}
	}

	sv.mu.Lock()
	rec, held := sv.offers[key]
	if !held {
		sv.mu.Unlock()
		return nil
	}
	delete(sv.offers, key)

	if name := hostnameOf(opts); name != "" {
		rec.Name = name
	}
	if req := requestedIP(opts); req != nil && *req != rec.IP {
		// Client wants a different address than offered: give the offered
		// one back and try to satisfy the request.
		sv.pool.AddIP(rec.IP)
		newRec, ok := sv.pool.GetIP(rec.Name, mac, req)
		if !ok {
			sv.mu.Unlock()
			return nil
		}
		rec = newRec
	}
	sv.registerClientLocked(rec)
	sv.mu.Unlock()

	return sv.plan(MsgAck, dfrm, opts, rec.IP)
}

// registerClientLocked stores a lease and schedules its expiry. A previous
// lease held by the same MAC is returned to the pool first. sv.mu held.
func (sv *Server) registerClientLocked(rec Record) {
	sv.releaseClientLocked(rec.MAC, nil)
	sv.clients = append(sv.clients, rec)
	expire := rec
	sv.sched.Insert(sv.cfg.LeaseTime, func() { sv.releaseClient(expire) })
}

// releaseClientLocked removes a MAC's lease. When matchIP is non-nil the
// lease is only removed if it still holds that address, preventing a stale
// expiry timer from tearing down a renewed lease. sv.mu held.
func (sv *Server) releaseClientLocked(mac MAC, matchIP *[4]byte) {
	for i, c := range sv.clients {
		if c.MAC != mac {
			continue
		}
		if matchIP != nil && c.IP != *matchIP {
			return
		}
		sv.clients = append(sv.clients[:i], sv.clients[i+1:]...)
		sv.pool.AddIP(c.IP)
		return
	}
}

// releaseOffer fires when an offer's hold time expires without a matching
// REQUEST; a completed handshake leaves the slot empty and this is a no-op.
func (sv *Server) releaseOffer(key offerKey) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if rec, ok := sv.offers[key]; ok {
		delete(sv.offers, key)
		sv.pool.AddIP(rec.IP)
	}
}

// releaseClient fires at lease expiry.
func (sv *Server) releaseClient(rec Record) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.releaseClientLocked(rec.MAC, &rec.IP)
}

// handleRelease returns the client's address to the pool. No reply.
func (sv *Server) handleRelease(dfrm Frame) {
	mac := MAC(*dfrm.CHAddrAs6())
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.releaseClientLocked(mac, nil)
}

// handleDecline quarantines the declined address: it leaves the free list
// now and returns only after the configured quarantine period, on the
// theory that the client saw it in use elsewhere. No reply.
func (sv *Server) handleDecline(dfrm Frame, opts OptionSet) {
	ip := requestedIP(opts)
	if ip == nil {
		if ci := *dfrm.CIAddr(); ci != ([4]byte{}) {
			ip = &ci
		} else {
			return
		}
	}
	quarantined := *ip
	mac := MAC(*dfrm.CHAddrAs6())
	sv.mu.Lock()
	sv.pool.removeFree(quarantined)
	for i, c := range sv.clients {
		if c.MAC == mac && c.IP == quarantined {
			sv.clients = append(sv.clients[:i], sv.clients[i+1:]...)
			break
		}
	}
	sv.mu.Unlock()
	sv.sched.Insert(sv.cfg.QuarantineTime, func() {
		sv.mu.Lock()
		sv.pool.AddIP(quarantined)
		sv.mu.Unlock()
	})
}

// handleInform answers configuration-only queries: ACK with the always-sent
// options, no address allocation, unicast to the client's own address.
func (sv *Server) handleInform(dfrm Frame, opts OptionSet) *replyPlan {
	p := sv.plan(MsgAck, dfrm, opts, [4]byte{})
	p.unicastIP = *dfrm.CIAddr()
	return p
}

// plan fills the reply decisions shared by OFFER/ACK and serializes the
// BOOTP payload.
func (sv *Server) plan(msgType MessageType, dfrm Frame, opts OptionSet, yiaddr [4]byte) *replyPlan {
	p := &replyPlan{
		yiaddr:    yiaddr,
		broadcast: sv.cfg.Broadcast || dfrm.Flags().Broadcast(),
	}
	var flags Flags
	if p.broadcast {
		flags |= FlagBroadcast
	}
	if gi := *dfrm.GIAddr(); gi != ([4]byte{}) {
		p.unicastIP = gi
		p.hops = dfrm.Hops()
	} else if ci := *dfrm.CIAddr(); ci != ([4]byte{}) {
		p.unicastIP = ci
	}

	sv.mu.Lock()
	replyOpts := sv.buildReplyOptions(msgType, prlOf(opts))
	sv.mu.Unlock()

	frm := Build(nil, Fields{
		Op:      OpBootReply,
		HType:   1,
		HLen:    6,
		Hops:    p.hops,
		XID:     dfrm.XID(),
		Flags:   flags,
		YIAddr:  yiaddr,
		SIAddr:  sv.cfg.ServerIP,
		GIAddr:  *dfrm.GIAddr(),
		CHAddr:  *dfrm.CHAddr(),
		Options: AppendOptions(nil, replyOpts),
	})
	p.payload = frm.RawData()
	return p
}

// emit wraps a reply's BOOTP payload in UDP, IPv4 and Ethernet per the
// destination-selection rules: relay (giaddr) first, then the client's own
// address, then broadcast or unicast-to-yiaddr.
func (sv *Server) emit(req Frame, p *replyPlan) ([]byte, error) {
	dstIP := p.unicastIP
	dstMAC := *req.CHAddrAs6()
	if dstIP == ([4]byte{}) {
		if p.broadcast {
			dstIP = [4]byte{255, 255, 255, 255}
			dstMAC = ethernet.BroadcastAddr()
		} else {
			dstIP = p.yiaddr
		}
	}

	ufrm, err := udp.Build(nil, udp.Fields{
		SourcePort:      sv.cfg.ServerPort,
		DestinationPort: sv.cfg.ClientPort,
		Payload:         p.payload,
	})
	if err != nil {
		return nil, err
	}
	ifrm, err := ipv4.Build(nil, ipv4.Fields{
		TTL:         64,
		Protocol:    ipv4.ProtoUDP,
		Source:      sv.cfg.ServerIP,
		Destination: dstIP,
		Payload:     ufrm.RawData(),
	})
	if err != nil {
		return nil, err
	}
	// The UDP checksum covers the pseudo-header, so it can only be filled
	// in once the segment sits inside its IPv4 packet.
	inner, _ := udp.NewFrame(ifrm.Payload())
	inner.SetChecksum(inner.CalculateChecksum(ifrm))

	efrm, err := ethernet.Build(nil, ethernet.Fields{
		Destination: dstMAC,
		Source:      sv.hwaddr,
		EtherType:   ethernet.TypeIPv4,
		Payload:     ifrm.RawData(),
	})
	if err != nil {
		return nil, err
	}
	return efrm.RawData(), nil
}

// OfferFor reports the record currently held for a (mac, xid) pair, if any.
func (sv *Server) OfferFor(mac MAC, xid uint32) (Record, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	rec, ok := sv.offers[offerKey{mac: mac, xid: xid}]
	return rec, ok
}

// Leases returns a snapshot of the active lease table.
func (sv *Server) Leases() []Record {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]Record, len(sv.clients))
	copy(out, sv.clients)
	return out
}

func (sv *Server) logRecv(msgType MessageType, dfrm Frame) {
	if sv.log == nil {
		return
	}
	sv.log.Info("dhcp recv",
		slog.String("type", msgType.String()),
		slog.String("mac", string(ethernet.AppendAddr(nil, *dfrm.CHAddrAs6()))),
		slog.Uint64("xid", uint64(dfrm.XID())),
	)
}
