package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sockschain/internal/config"
	"github.com/die-net/sockschain/internal/dialer"
	"github.com/die-net/sockschain/internal/dnsquery"
	"github.com/die-net/sockschain/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		proxies    = pflag.StringArray("proxy", defaultProxies(), "SOCKS proxy hop, repeat in chain order: socks4://[userid@]host:port | socks4a://... | socks5://[user:pass@]host:port | socks5h://... | direct://")
		configPath = pflag.String("config", "", "YAML chain file; its hops are appended after --proxy hops")

		listen      = pflag.String("listen", "", "Local TCP forwarder listen address (e.g. 127.0.0.1:8022). Empty disables.")
		target      = pflag.String("target", "", "Destination host:port that --listen connections are forwarded to")
		idleTimeout = pflag.Duration("idle-timeout", 4*time.Minute, "Close forwarded connections after this long without traffic")

		dnsQuery  = pflag.String("dns-query", "", "Resolve this name through a UDP association on the last hop and exit")
		dnsServer = pflag.String("dns-server", "1.1.1.1:53", "DNS server for --dns-query, as seen from the last hop")
		dnsType   = pflag.String("dns-type", "A", "Record type for --dns-query")

		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for the TCP connect to the first hop")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for each SOCKS handshake read")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		verbose            = pflag.Bool("verbose", false, "Enable per-hop and per-connection debug logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	if *listen == "" && *dnsQuery == "" {
		return errors.New("nothing to do (set --listen and --target, or --dns-query)")
	}
	if *listen != "" && *target == "" {
		return errors.New("--listen requires --target")
	}

	dialCfg := dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
		Logger:             log,
	}

	upstreams := *proxies
	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		hops, err := f.Upstreams()
		if err != nil {
			return fmt.Errorf("%s: %w", *configPath, err)
		}
		upstreams = append(dropDirect(upstreams), hops...)
		if len(upstreams) == 0 {
			upstreams = []string{"direct://"}
		}
		f.Apply(&dialCfg)
		if f.IdleTimeout > 0 && !pflag.CommandLine.Changed("idle-timeout") {
			*idleTimeout = f.IdleTimeout
		}
	}

	d, err := dialer.New(dialCfg, upstreams)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dnsQuery != "" {
		return runDNSQuery(ctx, log, d, *dnsServer, *dnsQuery, *dnsType, *negotiationTimeout)
	}

	g, ctx := errgroup.WithContext(ctx)

	fwd, err := proxy.NewForwarder(ctx, proxy.Config{
		IdleTimeout: *idleTimeout,
		KeepAlive:   ka,
		Dialer:      d,
		Logger:      log,
	}, *target)
	if err != nil {
		return err
	}
	ln, err := fwd.Listen(*listen)
	if err != nil {
		return err
	}

	g.Go(func() error {
		if err := fwd.Serve(ln); err != nil {
			return fmt.Errorf("forwarder serve: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("shutting down")
	return err
}

func runDNSQuery(ctx context.Context, log logrus.FieldLogger, d dialer.Dialer, server, name, typ string, timeout time.Duration) error {
	qtype, err := dnsquery.ParseType(typ)
	if err != nil {
		return fmt.Errorf("invalid --dns-type: %w", err)
	}

	cd, ok := d.(*dialer.ChainDialer)
	if !ok {
		return errors.New("--dns-query needs at least one SOCKS5 --proxy")
	}

	pc, err := cd.ListenPacket(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	c := &dnsquery.Client{Timeout: timeout, Logger: log}
	resp, err := c.Exchange(ctx, pc, server, name, qtype)
	if err != nil {
		return err
	}

	for _, rr := range resp.Answer {
		fmt.Println(rr.String())
	}
	return nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultProxies() []string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return []string{p}
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return []string{p}
	}

	return []string{"direct://"}
}

// dropDirect removes the direct:// placeholder so file hops can follow.
func dropDirect(upstreams []string) []string {
	out := make([]string, 0, len(upstreams))
	for _, u := range upstreams {
		if !strings.EqualFold(u, "direct://") {
			out = append(out, u)
		}
	}
	return out
}
