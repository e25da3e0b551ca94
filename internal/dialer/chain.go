package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/proxy"

	"github.com/die-net/sockschain/internal/socks"
)

var (
	_ proxy.Dialer        = (*ChainDialer)(nil)
	_ proxy.ContextDialer = (*ChainDialer)(nil)
)

// ChainDialer dials outbound connections through a chain of SOCKS proxies.
//
// Every call opens a fresh TCP connection to the first hop with forward and
// runs one handshake per hop over it. Nothing is pooled: a failed handshake
// closes the connection and returns the error, and retrying is up to the
// caller.
type ChainDialer struct {
	cfg     Config
	chain   socks.Chain
	forward proxy.ContextDialer
}

// NewChainDialer constructs a dialer for chain. forward reaches the first
// hop; it is usually a direct dialer but may itself be any
// golang.org/x/net/proxy dialer.
func NewChainDialer(cfg Config, chain socks.Chain, forward proxy.ContextDialer) (*ChainDialer, error) {
	if err := chain.Validate(); err != nil {
		return nil, fmt.Errorf("socks chain dialer: %w", err)
	}
	if forward == nil {
		return nil, errors.New("socks chain dialer: missing forward dialer")
	}
	return &ChainDialer{cfg: cfg, chain: chain, forward: forward}, nil
}

// Chain returns the hops this dialer tunnels through.
func (d *ChainDialer) Chain() socks.Chain {
	return d.chain
}

// Dial implements golang.org/x/net/proxy.Dialer.
func (d *ChainDialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext establishes a TCP connection to address through the chain,
// returned as a net.Conn.
//
// The handshakes are performed synchronously before returning. If
// NegotiationTimeout is set it bounds each wait for a proxy reply, and the
// deadline is cleared before returning.
func (d *ChainDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks chain dial %s %s: unsupported network", network, address)
	}
	dst, err := socks.ParseAddr(address)
	if err != nil {
		return nil, fmt.Errorf("socks chain dial %s %s: %w", network, address, err)
	}

	tun, err := d.establish(ctx, dst, socks.CmdConnect)
	if err != nil {
		return nil, err
	}
	return tun, nil
}

// Bind asks the last hop to listen for one inbound connection from
// address. The returned tunnel's BoundAddr is where the peer should
// connect; Accept waits for it.
func (d *ChainDialer) Bind(ctx context.Context, address string) (*socks.Tunnel, error) {
	dst, err := socks.ParseAddr(address)
	if err != nil {
		return nil, fmt.Errorf("socks chain bind %s: %w", address, err)
	}
	return d.establish(ctx, dst, socks.CmdBind)
}

// ListenPacket sets up a UDP association on the last hop and returns a
// packet connection that relays through it. The relay endpoint must be
// reachable directly from this host: UDP is not carried through earlier
// hops.
func (d *ChainDialer) ListenPacket(ctx context.Context) (*socks.RelayConn, error) {
	tun, err := d.establish(ctx, socks.Addr{Host: "0.0.0.0", Port: 0}, socks.CmdUDPAssociate)
	if err != nil {
		return nil, err
	}

	relayAddr := tun.RelayAddr()
	relay, err := net.ResolveUDPAddr("udp", relayAddr.String())
	if err != nil {
		_ = tun.Close()
		return nil, fmt.Errorf("socks udp relay %s: %w", relayAddr, err)
	}

	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(ctx, "udp", ":0")
	if err != nil {
		_ = tun.Close()
		return nil, fmt.Errorf("socks udp listen: %w", err)
	}

	return socks.NewRelayConn(pc, tun, relay), nil
}

func (d *ChainDialer) establish(ctx context.Context, dst socks.Addr, cmd socks.Command) (*socks.Tunnel, error) {
	first := d.chain[0].Addr().String()
	conn, err := d.forward.DialContext(ctx, "tcp", first)
	if err != nil {
		return nil, fmt.Errorf("socks chain: %w", err)
	}

	tun, err := socks.Establish(ctx, conn, d.chain, dst, cmd, socks.Options{
		Timeout: d.cfg.NegotiationTimeout,
		Logger:  d.cfg.Logger,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("socks chain %s %s: %w", cmd, dst, err)
	}
	return tun, nil
}
