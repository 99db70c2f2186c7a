//go:build !linux

package dhcpv4

import "errors"

var errNoRawSupport = errors.New("dhcpv4: raw packet server requires Linux (AF_PACKET); drive the handler directly in tests elsewhere")

// ListenAndServe is unavailable off Linux: the server depends on AF_PACKET
// sockets to see and emit raw Ethernet frames.
func (sv *Server) ListenAndServe() error { return errNoRawSupport }
