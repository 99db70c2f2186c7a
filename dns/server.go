package dns

import (
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Server answers DNS questions from authoritative records, the cache, the
// blocklists, and -- failing all three -- the configured upstream
// resolvers. One Server instance backs all three transports; start each
// with its own goroutine:
//
//	go sv.ServeUDP(pc)
//	go sv.ServeTCP(l)
//	go sv.ServeTLS(tl, tlsConfig)
type Server struct {
	// Storage is the record/cache/blocklist store. Required.
	Storage *Storage
	// Upstreams are tried in order when storage misses. Bare addresses
	// get port 53.
	Upstreams []string
	// Timeout bounds each single upstream attempt. Default 4s.
	Timeout time.Duration
	// Log, when set, receives per-query debug lines.
	Log *slog.Logger

	closers   []io.Closer
	closersMu sync.Mutex
	closed    bool
}

// cachePut is one deferred cache write, applied only after the response
// has been sent so the hot path never blocks on the write lock.
type cachePut struct {
	q       Question
	records []Resource
}

// Handle resolves one inbound wire message and returns the serialized
// response plus the deferred cache writes. Transports send the response
// first, then call [Server.Commit].
func (sv *Server) Handle(wire []byte) (resp []byte, puts []cachePut, err error) {
	msg, err := DecodeMessage(wire)
	if err != nil {
		return nil, nil, err
	}
	reply := Message{
		ID:        msg.ID,
		Flags:     msg.Flags.AsResponse(RCodeSuccess),
		Questions: msg.Questions,
	}
	for _, q := range msg.Questions {
		switch {
		case sv.Storage.IsBlocked(q):
			sv.logQuery(q, "blocked")
			reply.Answers = append(reply.Answers, BlockedAnswer(q))
		default:
			if records, ok := sv.Storage.Lookup(q); ok {
				sv.logQuery(q, "stored")
				reply.Answers = append(reply.Answers, records...)
				continue
			}
			records, err := Resolve(sv.Upstreams, msg.ID, q, msg.Flags.RecursionDesired(), sv.Timeout)
			if err != nil {
				// Leave the question unanswered; other questions in the
				// same message still get their records.
				sv.logQuery(q, "unresolved")
				continue
			}
			sv.logQuery(q, "upstream")
			reply.Answers = append(reply.Answers, records...)
			puts = append(puts, cachePut{q: q, records: records})
		}
	}
	out, err := reply.AppendTo(nil)
	if err != nil {
		return nil, nil, err
	}
	return out, puts, nil
}

// Commit applies deferred cache writes.
func (sv *Server) Commit(puts []cachePut) {
	for _, p := range puts {
		sv.Storage.AddCache(p.q, p.records)
	}
}

func (sv *Server) logQuery(q Question, verdict string) {
	if sv.Log == nil {
		return
	}
	sv.Log.Debug("dns query",
		slog.String("name", q.Name.String()),
		slog.String("type", q.Type.String()),
		slog.String("verdict", verdict),
	)
}

// track registers a transport listener for Close.
func (sv *Server) track(c io.Closer) bool {
	sv.closersMu.Lock()
	defer sv.closersMu.Unlock()
	if sv.closed {
		return false
	}
	sv.closers = append(sv.closers, c)
	return true
}

// Close shuts down every transport listener the Serve methods opened.
func (sv *Server) Close() error {
	sv.closersMu.Lock()
	defer sv.closersMu.Unlock()
	sv.closed = true
	var err error
	for _, c := range sv.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	sv.closers = nil
	return err
}

// ServeUDP answers one message per datagram, each on its own goroutine,
// until pc is closed.
func (sv *Server) ServeUDP(pc net.PacketConn) error {
	if !sv.track(pc) {
		pc.Close()
		return net.ErrClosed
	}
	buf := make([]byte, MaxSizeUDP)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wire := append([]byte(nil), buf[:n]...)
		go func(wire []byte, addr net.Addr) {
			resp, puts, err := sv.Handle(wire)
			if err != nil {
				return // malformed datagram: drop
			}
			if _, err := pc.WriteTo(resp, addr); err != nil {
				sv.logSendErr(err)
				return
			}
			sv.Commit(puts)
		}(wire, addr)
	}
}

// ServeTCP accepts length-prefixed message streams, one goroutine per
// connection, until l is closed.
func (sv *Server) ServeTCP(l net.Listener) error {
	if !sv.track(l) {
		l.Close()
		return net.ErrClosed
	}
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go sv.serveConn(conn)
	}
}

// ServeTLS wraps l in a TLS listener and serves the same length-prefixed
// framing as plain TCP (RFC 7858).
func (sv *Server) ServeTLS(l net.Listener, cfg *tls.Config) error {
	return sv.ServeTCP(tls.NewListener(l, cfg))
}

// serveConn handles one TCP/TLS connection: a stream of 2-byte-length-
// prefixed messages.
func (sv *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	var lenBuf [2]byte
	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		size := binary.BigEndian.Uint16(lenBuf[:])
		wire := make([]byte, size)
		if _, err := io.ReadFull(conn, wire); err != nil {
			return
		}
		resp, puts, err := sv.Handle(wire)
		if err != nil {
			return
		}
		if len(resp) > 0xffff {
			return
		}
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(resp)))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			sv.logSendErr(err)
			return
		}
		if _, err := conn.Write(resp); err != nil {
			sv.logSendErr(err)
			return
		}
		sv.Commit(puts)
	}
}

func (sv *Server) logSendErr(err error) {
	if sv.Log != nil {
		sv.Log.Error("dns send failed", "err", err)
	}
}
