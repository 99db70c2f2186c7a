//go:build linux

package dhcpv4

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// htons converts a short to network byte order for the AF_PACKET protocol
// selector, which the kernel reads big-endian.
func htons(v uint16) uint16 { return v<<8 | v>>8 }

// RawConn is an AF_PACKET/SOCK_RAW socket bound to one interface,
// exchanging whole Ethernet frames with the kernel.
type RawConn struct {
	fd      int
	ifindex int
	hwaddr  [6]byte
	closed  atomic.Bool
}

// OpenRaw opens a raw packet socket on the named interface, receiving all
// ethertypes. The caller must have CAP_NET_RAW.
func OpenRaw(ifname string) (*RawConn, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("dhcpv4: interface %q: %w", ifname, err)
	}
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("dhcpv4: raw socket: %w", err)
	}
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dhcpv4: bind %q: %w", ifname, err)
	}
	rc := &RawConn{fd: fd, ifindex: iface.Index}
	copy(rc.hwaddr[:], iface.HardwareAddr)
	return rc, nil
}

// HardwareAddr returns the bound interface's MAC address.
func (rc *RawConn) HardwareAddr() [6]byte { return rc.hwaddr }

// Recv blocks for the next frame, filling buf and returning its length.
func (rc *RawConn) Recv(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(rc.fd, buf, 0)
	if err != nil {
		if rc.closed.Load() {
			return 0, net.ErrClosed
		}
		return 0, err
	}
	return n, nil
}

// Send writes one complete Ethernet frame out the bound interface.
func (rc *RawConn) Send(frame []byte) error {
	if len(frame) < 14 {
		return errors.New("dhcpv4: frame shorter than Ethernet header")
	}
	sll := &unix.SockaddrLinklayer{
		Ifindex: rc.ifindex,
		Halen:   6,
	}
	copy(sll.Addr[:], frame[0:6])
	return unix.Sendto(rc.fd, frame, 0, sll)
}

// Close releases the socket. A blocked Recv returns net.ErrClosed.
func (rc *RawConn) Close() error {
	if rc.closed.Swap(true) {
		return nil
	}
	return unix.Close(rc.fd)
}

// ListenAndServe opens a raw socket on the configured interface and runs
// the server's receive loop until the socket is closed by [Server.Close].
// Malformed frames are dropped and the loop continues; only socket-level
// failures end it.
func (sv *Server) ListenAndServe() error {
	rc, err := OpenRaw(sv.cfg.Interface)
	if err != nil {
		return err
	}
	sv.raw = rc
	sv.SetHardwareAddr(rc.HardwareAddr())
	return sv.Serve(rc)
}

// Serve runs the receive loop over an already-open raw socket.
func (sv *Server) Serve(rc *RawConn) error {
	defer rc.Close()
	buf := make([]byte, 1<<14)
	for {
		n, err := rc.Recv(buf)
		if errors.Is(err, net.ErrClosed) {
			return nil
		} else if err != nil {
			return err
		}
		reply, err := sv.HandleEthernet(buf[:n])
		if err != nil {
			// Malformed ingress traffic: drop and keep serving.
			continue
		}
		if reply == nil {
			continue
		}
		if err := rc.Send(reply); err != nil {
			if rc.closed.Load() {
				return nil
			}
			if sv.log != nil {
				sv.log.Error("dhcp send failed", "err", err)
			}
		}
	}
}
