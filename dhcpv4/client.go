package dhcpv4

import (
	"errors"

	"github.com/packetwright/netsuite/ethernet"
	"github.com/packetwright/netsuite/ipv4"
	"github.com/packetwright/netsuite/netwire"
	"github.com/packetwright/netsuite/udp"
)

// ClientState tracks a client's progress through the DORA handshake.
type ClientState uint8

const (
	// StateInit: request configured, DISCOVER not yet sent.
	StateInit ClientState = iota
	// StateSelecting: DISCOVER sent, waiting on an OFFER.
	StateSelecting
	// StateRequesting: OFFER accepted, REQUEST pending or in flight.
	StateRequesting
	// StateBound: ACK received, address held.
	StateBound
)

func (s ClientState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSelecting:
		return "SELECTING"
	case StateRequesting:
		return "REQUESTING"
	case StateBound:
		return "BOUND"
	default:
		return "ClientState(?)"
	}
}

// RequestConfig parameterizes one address acquisition.
type RequestConfig struct {
	// HardwareAddr is the client's MAC, copied into chaddr and the
	// Ethernet source of emitted frames.
	HardwareAddr [6]byte
	// Hostname, when set, is sent as option 12.
	Hostname string
	// RequestedAddr, when nonzero, is sent as option 50 on DISCOVER.
	RequestedAddr [4]byte
	// ParameterRequestList is the set of option codes the client wants
	// echoed back (option 55).
	ParameterRequestList []OptNum
	// Broadcast sets the BOOTP broadcast flag on outgoing packets.
	Broadcast bool
	// ServerPort/ClientPort default to 67/68.
	ServerPort uint16
	ClientPort uint16
}

// Client drives the DHCP handshake from the client side, producing and
// consuming full Ethernet frames so it can sit directly on a raw socket.
// It is primarily exercised against [Server] in tests.
type Client struct {
	cfg      RequestConfig
	state    ClientState
	xid      uint32
	assigned [4]byte
	serverID [4]byte
	pending  bool // a DISCOVER or REQUEST is ready to encapsulate
}

var (
	errClientBusy   = errors.New("dhcpv4: request already in progress")
	errNotOurReply  = errors.New("dhcpv4: reply xid/chaddr mismatch")
	errNoYIAddr     = errors.New("dhcpv4: reply carries no address")
	errUnexpectedMT = errors.New("dhcpv4: unexpected message type for state")
)

// BeginRequest arms the client to acquire an address under the given
// transaction ID. Encapsulate will then produce the DISCOVER.
func (c *Client) BeginRequest(xid uint32, cfg RequestConfig) error {
	if c.state == StateSelecting || c.state == StateRequesting {
		return errClientBusy
	}
	if len(cfg.Hostname) > 255 || len(cfg.ParameterRequestList) > 255 {
		return errOptionTooLong
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = DefaultServerPort
	}
	if cfg.ClientPort == 0 {
		cfg.ClientPort = DefaultClientPort
	}
	*c = Client{cfg: cfg, xid: xid, state: StateInit, pending: true}
	return nil
}

// Reset abandons any in-progress handshake.
func (c *Client) Reset() { *c = Client{} }

// State returns the client's handshake state.
func (c *Client) State() ClientState { return c.state }

// AssignedAddr returns the address the server granted; only meaningful in
// StateBound (or StateRequesting, where it holds the offered address).
func (c *Client) AssignedAddr() [4]byte { return c.assigned }

// Done reports whether the handshake completed.
func (c *Client) Done() bool { return c.state == StateBound }

// Encapsulate writes the next outbound frame (DISCOVER or REQUEST) into
// dst and returns its length, or 0 when the client has nothing to send.
func (c *Client) Encapsulate(dst []byte) (int, error) {
	if !c.pending {
		return 0, nil
	}
	var msgType MessageType
	opts := NewOptionSet()
	switch c.state {
	case StateInit:
		msgType = MsgDiscover
	case StateRequesting:
		msgType = MsgRequest
	default:
		return 0, nil
	}
	opts.Set(Uint8Option(OptMessageType, uint8(msgType)))
	if c.cfg.Hostname != "" {
		opts.Set(StringOption(OptHostName, c.cfg.Hostname))
	}
	switch c.state {
	case StateInit:
		if c.cfg.RequestedAddr != ([4]byte{}) {
			opts.Set(IPv4Option(OptRequestedIPAddress, c.cfg.RequestedAddr))
		}
	case StateRequesting:
		opts.Set(IPv4Option(OptRequestedIPAddress, c.assigned))
		opts.Set(IPv4Option(OptServerIdentifier, c.serverID))
	}
	if len(c.cfg.ParameterRequestList) > 0 {
		prl := make([]byte, len(c.cfg.ParameterRequestList))
		for i, code := range c.cfg.ParameterRequestList {
			prl[i] = byte(code)
		}
		opts.Set(ByteListOption(OptParameterRequestList, prl))
	}

	var flags Flags
	if c.cfg.Broadcast {
		flags |= FlagBroadcast
	}
	var chaddr [16]byte
	copy(chaddr[:], c.cfg.HardwareAddr[:])
	bootp := Build(nil, Fields{
		Op:      OpBootRequest,
		HType:   1,
		HLen:    6,
		XID:     c.xid,
		Flags:   flags,
		CHAddr:  chaddr,
		Options: AppendOptions(nil, opts),
	})

	ufrm, err := udp.Build(nil, udp.Fields{
		SourcePort:      c.cfg.ClientPort,
		DestinationPort: c.cfg.ServerPort,
		Payload:         bootp.RawData(),
	})
	if err != nil {
		return 0, err
	}
	ifrm, err := ipv4.Build(nil, ipv4.Fields{
		TTL:         64,
		Protocol:    ipv4.ProtoUDP,
		Source:      [4]byte{}, // 0.0.0.0 until bound
		Destination: [4]byte{255, 255, 255, 255},
		Payload:     ufrm.RawData(),
	})
	if err != nil {
		return 0, err
	}
	inner, _ := udp.NewFrame(ifrm.Payload())
	inner.SetChecksum(inner.CalculateChecksum(ifrm))

	efrm, err := ethernet.Build(dst[:0], ethernet.Fields{
		Destination: ethernet.BroadcastAddr(),
		Source:      c.cfg.HardwareAddr,
		EtherType:   ethernet.TypeIPv4,
		Payload:     ifrm.RawData(),
	})
	if err != nil {
		return 0, err
	}
	n := len(efrm.RawData())
	if n > len(dst) {
		return 0, errors.New("dhcpv4: client buffer too small")
	}
	copy(dst, efrm.RawData())

	c.pending = false
	if c.state == StateInit {
		c.state = StateSelecting
	}
	return n, nil
}

// Demux consumes a server reply frame: an OFFER moves the client to
// REQUESTING (arming the REQUEST for the next Encapsulate), an ACK to
// BOUND. Frames for other transactions return errNotOurReply. Declared
// sizes are validated layer by layer before payloads are sliced, the same
// ingress rule the server follows.
func (c *Client) Demux(frame []byte) error {
	var vld netwire.Validator
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return err
	}
	efrm.ValidateSize(&vld)
	if vld.HasError() {
		return vld.ErrPop()
	}
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		return err
	}
	ifrm.ValidateExceptCRC(&vld)
	if vld.HasError() {
		return vld.ErrPop()
	}
	if ifrm.Protocol() != ipv4.ProtoUDP {
		return nil
	}
	ufrm, err := udp.NewFrame(ifrm.Payload())
	if err != nil {
		return err
	}
	ufrm.ValidateSize(&vld)
	if vld.HasError() {
		return vld.ErrPop()
	}
	if ufrm.DestinationPort() != c.cfg.ClientPort {
		return nil
	}
	dfrm, err := NewFrame(ufrm.Payload())
	if err != nil {
		return err
	}
	if dfrm.XID() != c.xid || *dfrm.CHAddrAs6() != c.cfg.HardwareAddr {
		return errNotOurReply
	}
	opts, err := DecodeOptions(dfrm.OptionsPayload())
	if err != nil {
		return err
	}
	var msgType MessageType
	if opt, ok := opts.Get(OptMessageType); ok && len(opt.Data) == 1 {
		msgType = MessageType(opt.Data[0])
	}

	switch {
	case c.state == StateSelecting && msgType == MsgOffer:
		if *dfrm.YIAddr() == ([4]byte{}) {
			return errNoYIAddr
		}
		c.assigned = *dfrm.YIAddr()
		if opt, ok := opts.Get(OptServerIdentifier); ok {
			if sid, err := DecodeIPv4(opt); err == nil {
				c.serverID = sid
			}
		}
		if c.serverID == ([4]byte{}) {
			c.serverID = *dfrm.SIAddr()
		}
		c.state = StateRequesting
		c.pending = true
	case c.state == StateRequesting && msgType == MsgAck:
		if yi := *dfrm.YIAddr(); yi != ([4]byte{}) {
			c.assigned = yi
		}
		c.state = StateBound
		c.pending = false
	default:
		return errUnexpectedMT
	}
	return nil
}
