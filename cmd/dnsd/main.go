// Command dnsd runs the caching DNS resolver over UDP, TCP and
// optionally TCP-over-TLS.
//
// Exit codes: 0 on normal shutdown, 1 on bind failure, 2 on bad
// configuration.
package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/packetwright/netsuite/dns"
)

const (
	exitOK         = 0
	exitBindFail   = 1
	exitConfigFail = 2
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(exitConfigFail)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dnsd",
		Short:         "caching recursive DNS resolver with blocklists",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	fl := cmd.Flags()
	fl.String("listen", "0.0.0.0", "address to listen on")
	fl.Uint16("port", dns.ServerPort, "UDP/TCP port")
	fl.Uint16("tls-port", dns.TLSPort, "DNS-over-TLS port")
	fl.StringSliceP("upstream", "u", []string{"1.1.1.1", "8.8.8.8"}, "upstream resolvers, tried in order")
	fl.Duration("timeout", 4*time.Second, "per-upstream query timeout")
	fl.String("block-hosts", "", "file with one blocked hostname per line")
	fl.String("block-domains", "", "file with one blocked domain suffix per line")
	fl.String("tls-cert", "", "TLS certificate for DNS-over-TLS")
	fl.String("tls-key", "", "TLS key for DNS-over-TLS")
	fl.BoolP("verbose", "v", false, "log every query")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	fl := cmd.Flags()
	level := slog.LevelInfo
	if verbose, _ := fl.GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	storage := dns.NewStorage()
	if path, _ := fl.GetString("block-hosts"); path != "" {
		if err := loadBlockFile(path, storage.BlockHostname); err != nil {
			log.Error("blocklist", "err", err)
			os.Exit(exitConfigFail)
		}
	}
	if path, _ := fl.GetString("block-domains"); path != "" {
		if err := loadBlockFile(path, storage.BlockDomain); err != nil {
			log.Error("blocklist", "err", err)
			os.Exit(exitConfigFail)
		}
	}

	upstreams, _ := fl.GetStringSlice("upstream")
	timeout, _ := fl.GetDuration("timeout")
	sv := &dns.Server{
		Storage:   storage,
		Upstreams: upstreams,
		Timeout:   timeout,
		Log:       log,
	}

	listen, _ := fl.GetString("listen")
	port, _ := fl.GetUint16("port")
	addr := net.JoinHostPort(listen, fmt.Sprint(port))

	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		log.Error("bind udp", "err", err)
		os.Exit(exitBindFail)
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("bind tcp", "err", err)
		os.Exit(exitBindFail)
	}

	serveErr := make(chan error, 3)
	go func() { serveErr <- sv.ServeUDP(pc) }()
	go func() { serveErr <- sv.ServeTCP(l) }()

	certPath, _ := fl.GetString("tls-cert")
	keyPath, _ := fl.GetString("tls-key")
	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			log.Error("tls keypair", "err", err)
			os.Exit(exitConfigFail)
		}
		tlsPort, _ := fl.GetUint16("tls-port")
		tl, err := net.Listen("tcp", net.JoinHostPort(listen, fmt.Sprint(tlsPort)))
		if err != nil {
			log.Error("bind tls", "err", err)
			os.Exit(exitBindFail)
		}
		go func() {
			serveErr <- sv.ServeTLS(tl, &tls.Config{Certificates: []tls.Certificate{cert}})
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	log.Info("dns server started", "addr", addr, "upstreams", upstreams)

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("serve", "err", err)
			sv.Close()
			os.Exit(exitBindFail)
		}
	case s := <-sig:
		log.Info("signal received", "signal", s.String())
	}
	sv.Close()
	log.Info("dns server stopped")
	os.Exit(exitOK)
	return nil
}

// loadBlockFile feeds every non-empty, non-comment line of a blocklist
// file to add.
func loadBlockFile(path string, add func(string)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		add(line)
	}
	return sc.Err()
}
