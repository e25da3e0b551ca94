package dnsquery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/die-net/sockschain/internal/socks"
)

const maxMsgSize = dns.MaxMsgSize

// ErrTimeout is returned when no matching reply arrives in time.
var ErrTimeout = errors.New("dns query timed out")

// Client asks one question at a time over a packet connection.
type Client struct {
	// Timeout bounds a single exchange. Zero relies on ctx alone.
	Timeout time.Duration

	Logger logrus.FieldLogger
}

// ParseType maps a record type name such as "A" or "aaaa" to its code.
func ParseType(name string) (uint16, error) {
	t, ok := dns.StringToType[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown dns type %q", name)
	}
	return t, nil
}

// Exchange sends a recursive query for name and qtype to server over pc and
// waits for the reply with the matching ID. Replies with other IDs are
// ignored. pc is not closed.
func (c *Client) Exchange(ctx context.Context, pc net.PacketConn, server, name string, qtype uint16) (*dns.Msg, error) {
	to, err := socks.ParseAddr(server)
	if err != nil {
		return nil, fmt.Errorf("dns server: %w", err)
	}

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)
	req.RecursionDesired = true

	packed, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("dns pack: %w", err)
	}

	if dl, ok := c.deadline(ctx); ok {
		_ = pc.SetDeadline(dl)
		defer pc.SetDeadline(time.Time{}) //nolint:errcheck
	}
	stop := context.AfterFunc(ctx, func() { _ = pc.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	log := c.logger().WithFields(logrus.Fields{"server": server, "name": req.Question[0].Name, "type": dns.TypeToString[qtype]})
	log.Debug("dns query")

	if _, err := pc.WriteTo(packed, to); err != nil {
		return nil, queryErr(ctx, "dns write", err)
	}

	buf := make([]byte, maxMsgSize)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			return nil, queryErr(ctx, "dns read", err)
		}

		resp := new(dns.Msg)
		if err := resp.Unpack(buf[:n]); err != nil {
			log.WithError(err).Debug("dropping undecodable dns reply")
			continue
		}
		if resp.Id != req.Id {
			continue
		}

		log.WithField("answers", len(resp.Answer)).Debug("dns reply")
		return resp, nil
	}
}

func (c *Client) deadline(ctx context.Context) (time.Time, bool) {
	dl, ok := ctx.Deadline()
	if c.Timeout > 0 {
		if t := time.Now().Add(c.Timeout); !ok || t.Before(dl) {
			return t, true
		}
	}
	return dl, ok
}

func (c *Client) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func queryErr(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", step, ctxErr)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %w", step, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// Addrs returns the A and AAAA answers in msg.
func Addrs(msg *dns.Msg) []netip.Addr {
	var addrs []netip.Addr
	for _, rr := range msg.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rr.A.To4()); ok {
				addrs = append(addrs, addr)
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
				addrs = append(addrs, addr)
			}
		}
	}
	return addrs
}
