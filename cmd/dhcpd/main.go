// Command dhcpd runs the DHCPv4 server on a raw packet socket.
//
// Configuration is layered: hard-coded defaults, then the INI config file,
// then command-line flags, each overriding the last. A single "stop"
// datagram to the loopback control port shuts the server down cleanly.
//
// Exit codes: 0 on normal shutdown, 1 on bind failure, 2 on bad
// configuration.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/packetwright/netsuite/dhcpv4"
)

const (
	exitOK         = 0
	exitBindFail   = 1
	exitConfigFail = 2

	controlPort = 6767
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(exitConfigFail)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "dhcpd",
		Short:         "DHCPv4 server over raw Ethernet frames",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, configPath)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&configPath, "config", "", "INI configuration file")
	fl.StringP("serverip", "i", "", "server IPv4 address")
	fl.Uint16P("serverport", "s", dhcpv4.DefaultServerPort, "server UDP port")
	fl.Uint16P("clientport", "c", dhcpv4.DefaultClientPort, "client UDP port")
	fl.StringP("network", "n", "", "leased network address")
	fl.StringP("mask", "m", "", "leased network mask")
	fl.BoolP("broadcast", "b", false, "always broadcast responses")
	fl.StringSliceP("routers", "r", nil, "router addresses (option 3)")
	fl.StringSliceP("dns", "d", nil, "DNS server addresses (option 6)")
	fl.String("interface", "eth0", "interface to bind the raw socket to")
	fl.String("savefile", "", "state file loaded at startup, written at shutdown")
	fl.Duration("offer-hold-time", 60*time.Second, "how long an OFFER is held for its REQUEST")
	fl.Duration("lease-time", 8*24*time.Hour, "IP lease duration (option 51)")
	return cmd
}

// loadConfig merges flag values over the INI file's [DEFAULT] section.
func loadConfig(cmd *cobra.Command, configPath string) (dhcpv4.ServerConfig, error) {
	v := viper.New()
	v.SetConfigType("ini")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return dhcpv4.ServerConfig{}, fmt.Errorf("config file: %w", err)
		}
	}
	// Flag name -> config key. CLI overrides config; config overrides
	// the baked-in defaults.
	for flag, key := range map[string]string{
		"serverip":        "default.server_ip",
		"serverport":      "default.server_port",
		"clientport":      "default.client_port",
		"network":         "default.network",
		"mask":            "default.mask",
		"broadcast":       "default.broadcast",
		"routers":         "default.routers",
		"dns":             "default.dnsservers",
		"interface":       "default.interface",
		"savefile":        "default.savefile",
		"offer-hold-time": "default.offer_hold_time",
		"lease-time":      "default.ipleasetime",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return dhcpv4.ServerConfig{}, err
		}
	}

	cfg := dhcpv4.ServerConfig{
		ServerPort: uint16(v.GetUint32("default.server_port")),
		ClientPort: uint16(v.GetUint32("default.client_port")),
		Broadcast:  v.GetBool("default.broadcast"),
		Interface:  v.GetString("default.interface"),
		SaveFile:   v.GetString("default.savefile"),
	}
	var err error
	if cfg.ServerIP, err = parseAddr(v.GetString("default.server_ip")); err != nil {
		return cfg, err
	}
	if cfg.Network, err = parseAddr(v.GetString("default.network")); err != nil {
		return cfg, err
	}
	if cfg.Mask, err = parseAddr(v.GetString("default.mask")); err != nil {
		return cfg, err
	}
	cfg.OfferHoldTime = durationKey(v, "default.offer_hold_time")
	cfg.LeaseTime = durationKey(v, "default.ipleasetime")
	cfg.RenewalT1 = durationKey(v, "default.renewalt1")
	cfg.RebindingT2 = durationKey(v, "default.renewalt2")
	if cfg.Routers, err = parseAddrList(v.GetStringSlice("default.routers")); err != nil {
		return cfg, err
	}
	if cfg.DNSServers, err = parseAddrList(v.GetStringSlice("default.dnsservers")); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// durationKey accepts either a duration string ("90s") or a bare number
// of seconds, the format the INI file uses.
func durationKey(v *viper.Viper, key string) time.Duration {
	if !v.IsSet(key) {
		return 0
	}
	if secs := v.GetInt64(key); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return v.GetDuration(key)
}

func parseAddr(s string) ([4]byte, error) {
	if s == "" {
		return [4]byte{}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return [4]byte{}, fmt.Errorf("bad IPv4 literal %q", s)
	}
	return addr.As4(), nil
}

func parseAddrList(in []string) ([][4]byte, error) {
	var out [][4]byte
	for _, s := range in {
		a, err := parseAddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func run(cmd *cobra.Command, configPath string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		log.Error("configuration", "err", err)
		os.Exit(exitConfigFail)
	}
	cfg.Logger = log

	var sv *dhcpv4.Server
	if cfg.SaveFile != "" {
		sv, err = dhcpv4.Load(cfg.SaveFile, cfg)
	} else {
		sv, err = dhcpv4.NewServer(cfg)
	}
	if err != nil {
		log.Error("configuration", "err", err)
		os.Exit(exitConfigFail)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- sv.ListenAndServe() }()

	stop := make(chan struct{})
	go controlListener(log, stop)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	log.Info("dhcp server started", "interface", cfg.Interface)
	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("bind", "err", err)
			sv.Shutdown()
			os.Exit(exitBindFail)
		}
	case <-stop:
		log.Info("stop datagram received")
	case s := <-sig:
		log.Info("signal received", "signal", s.String())
	}

	sv.Close()
	if err := sv.Shutdown(); err != nil {
		log.Error("state save failed", "err", err)
	}
	log.Info("dhcp server stopped")
	os.Exit(exitOK)
	return nil
}

// controlListener closes stop when a "stop" datagram arrives on the
// loopback control port.
func controlListener(log *slog.Logger, stop chan<- struct{}) {
	pc, err := net.ListenPacket("udp", fmt.Sprintf("127.0.0.1:%d", controlPort))
	if err != nil {
		log.Error("control port", "err", err)
		return
	}
	defer pc.Close()
	buf := make([]byte, 16)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		if string(buf[:n]) == "stop" {
			close(stop)
			return
		}
	}
}
