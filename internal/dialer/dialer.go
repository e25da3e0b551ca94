package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/die-net/sockschain/internal/socks"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New parses upstreams, in hop order, and constructs the appropriate
// outbound Dialer.
//
// Supported schemes:
//   - direct:// (only on its own)
//   - socks4://[userid@]host:port
//   - socks4a://[userid@]host:port
//   - socks5://[user:pass@]host:port
//   - socks5h://[user:pass@]host:port
//
// A default port of 1080 is applied if the URL host is missing a port.
func New(cfg Config, upstreams []string) (Dialer, error) {
	if len(upstreams) == 0 {
		return nil, errors.New("no upstream")
	}
	if len(upstreams) == 1 && strings.EqualFold(upstreams[0], "direct://") {
		return NewDirectDialer(cfg)
	}

	chain := make(socks.Chain, 0, len(upstreams))
	for i, upstream := range upstreams {
		p, err := ParseProxyURL(upstream)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		chain = append(chain, p)
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}
	cd, err := NewChainDialer(cfg, chain, direct)
	if err != nil {
		return nil, err
	}
	return cd, nil
}

// ParseProxyURL converts a SOCKS proxy URL into a hop descriptor.
func ParseProxyURL(upstream string) (socks.Proxy, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return socks.Proxy{}, fmt.Errorf("invalid url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return socks.Proxy{}, errors.New("invalid URL: path should be empty")
	}

	var p socks.Proxy
	switch u.Scheme {
	case "":
		return socks.Proxy{}, errors.New("invalid url: missing scheme")
	case "socks4", "socks4a":
		p.Version = socks.Version4
	case "socks5", "socks5h":
		p.Version = socks.Version5
	default:
		return socks.Proxy{}, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}

	p.Host = u.Hostname()
	if p.Host == "" {
		return socks.Proxy{}, errors.New("invalid url: missing host")
	}
	p.Port = defaultPort
	if port := u.Port(); port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return socks.Proxy{}, fmt.Errorf("invalid url: bad port %q", port)
		}
		p.Port = uint16(n)
	}

	if u.User != nil {
		pass, hasPass := u.User.Password()
		if p.Version == socks.Version4 && hasPass {
			return socks.Proxy{}, errors.New("invalid url: socks4 takes a user id, not a password")
		}
		p.Credentials = &socks.Credentials{UserID: u.User.Username(), Password: pass}
	}

	return p, nil
}

const defaultPort = 1080
