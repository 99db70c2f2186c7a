package dns

import (
	"fmt"
	"net"
	"time"
)

// defaultUpstreamTimeout is how long a single upstream gets to answer.
const defaultUpstreamTimeout = 4 * time.Second

// QueryUpstream sends one question to a single upstream resolver over UDP
// and returns the answer records. The reply must carry the same
// transaction ID; replies with an empty answer section count as failures
// so the caller can fall through to the next upstream.
func QueryUpstream(upstream string, id uint16, q Question, recursionDesired bool, timeout time.Duration) ([]Resource, error) {
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	if _, _, err := net.SplitHostPort(upstream); err != nil {
		// Bare address: use the standard port.
		upstream = net.JoinHostPort(upstream, "53")
	}

	conn, err := net.DialTimeout("udp", upstream, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	query := NewQuery(id, q, recursionDesired)
	wire, err := query.AppendTo(nil)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(wire); err != nil {
		return nil, err
	}

	buf := make([]byte, MaxSizeUDP)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	reply, err := DecodeMessage(buf[:n])
	if err != nil {
		return nil, err
	}
	if reply.ID != id {
		return nil, errIDMismatch
	}
	if len(reply.Answers) == 0 {
		return nil, errNoAnswer
	}
	return reply.Answers, nil
}

// Resolve tries each upstream in order until one returns answers. It is
// the recursion step of [Server] and a convenience for CLI use.
func Resolve(upstreams []string, id uint16, q Question, recursionDesired bool, timeout time.Duration) ([]Resource, error) {
	var lastErr error
	for _, upstream := range upstreams {
		records, err := QueryUpstream(upstream, id, q, recursionDesired, timeout)
		if err == nil {
			return records, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errNoAnswer
	}
	return nil, fmt.Errorf("dns: all upstreams failed for %s: %w", q.Name.String(), lastErr)
}
