package socks

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

// request5 sends a SOCKS5 command and reads its reply.
//
//	+----+-----+-------+------+----------+----------+
//	|VER | CMD |  RSV  | ATYP | DST.ADDR | DST.PORT |
//	+----+-----+-------+------+----------+----------+
//	| 1  |  1  | X'00' |  1   | Variable |    2     |
//	+----+-----+-------+------+----------+----------+
func (s *Session) request5(ctx context.Context, req Request) (Reply, error) {
	switch req.Command {
	case CmdConnect, CmdBind, CmdUDPAssociate:
	default:
		return Reply{}, fmt.Errorf("%w: %s", ErrUnsupportedCommand, req.Command)
	}

	b := make([]byte, 3, 3+req.Addr.Len())
	b[0], b[1], b[2] = byte(Version5), byte(req.Command), 0x00
	b, err := AppendAddr(b, req.Addr)
	if err != nil {
		return Reply{}, err
	}

	s.setState(StateRequestPending)
	if err := s.write(ctx, "write request", b); err != nil {
		return Reply{}, err
	}
	return s.readReply5(ctx, "read reply")
}

// readReply5 reads a SOCKS5 reply, which mirrors the request with REP in
// place of CMD. Only the bytes of the reply are consumed.
func (s *Session) readReply5(ctx context.Context, step string) (Reply, error) {
	var hdr [4]byte
	if err := s.read(ctx, step, hdr[:]); err != nil {
		return Reply{}, err
	}
	if Version(hdr[0]) != Version5 {
		return Reply{}, fmt.Errorf("%s: %w: version 0x%02x", step, ErrMalformedReply, hdr[0])
	}
	if hdr[2] != 0x00 {
		return Reply{}, fmt.Errorf("%s: %w: reserved byte 0x%02x", step, ErrMalformedReply, hdr[2])
	}
	if hdr[1] != RepSucceeded {
		return Reply{}, &ProxyRejectedError{Version: Version5, Code: hdr[1]}
	}
	addr, err := s.readAddr(ctx, step, hdr[3])
	if err != nil {
		return Reply{}, err
	}
	return Reply{Version: Version5, Code: hdr[1], Addr: addr}, nil
}

// request4 sends a SOCKS4 or SOCKS4a request; there is no negotiation
// step. A domain name destination selects SOCKS4a, which carries the name
// after the user ID and sets DSTIP to 0.0.0.1.
//
//	+----+----+---------+-------+----------+------+------------+------+
//	| VN | CD | DSTPORT | DSTIP |  USERID  | NULL |   DOMAIN   | NULL |
//	+----+----+---------+-------+----------+------+------------+------+
//	| 1  | 1  |    2    |   4   | variable |  1   | (socks4a)  |  1   |
//	+----+----+---------+-------+----------+------+------------+------+
func (s *Session) request4(ctx context.Context, req Request) (Reply, error) {
	b, err := buildRequest4(req, s.proxy.Credentials)
	if err != nil {
		return Reply{}, err
	}

	s.setState(StateRequestPending)
	if err := s.write(ctx, "write request", b); err != nil {
		return Reply{}, err
	}
	return s.readReply4(ctx, "read reply")
}

func buildRequest4(req Request, cred *Credentials) ([]byte, error) {
	switch req.Command {
	case CmdConnect, CmdBind:
	default:
		return nil, fmt.Errorf("%w: %s over socks4", ErrUnsupportedCommand, req.Command)
	}

	var userID string
	if cred != nil {
		userID = cred.UserID
	}
	if strings.IndexByte(userID, 0) >= 0 {
		return nil, fmt.Errorf("%w: user id contains NUL", ErrInvalidCredentials)
	}

	b := make([]byte, 0, 8+len(userID)+1+len(req.Addr.Host)+1)
	b = append(b, byte(Version4), byte(req.Command))
	b = binary.BigEndian.AppendUint16(b, req.Addr.Port)

	var domain string
	if ip, err := netip.ParseAddr(req.Addr.Host); err == nil {
		if !ip.Is4() {
			return nil, fmt.Errorf("%w: socks4 cannot carry %s", ErrInvalidAddress, req.Addr.Host)
		}
		ip4 := ip.As4()
		b = append(b, ip4[:]...)
	} else {
		domain = req.Addr.Host
		if domain == "" || strings.IndexByte(domain, 0) >= 0 {
			return nil, fmt.Errorf("%w: bad socks4a domain %q", ErrInvalidAddress, domain)
		}
		b = append(b, 0, 0, 0, 1)
	}

	b = append(b, userID...)
	b = append(b, 0)
	if domain != "" {
		b = append(b, domain...)
		b = append(b, 0)
	}
	return b, nil
}

// readReply4 reads the fixed 8 byte SOCKS4 reply.
//
//	+----+----+---------+-------+
//	| VN | CD | DSTPORT | DSTIP |
//	+----+----+---------+-------+
//	| 1  | 1  |    2    |   4   |
//	+----+----+---------+-------+
func (s *Session) readReply4(ctx context.Context, step string) (Reply, error) {
	var rep [8]byte
	if err := s.read(ctx, step, rep[:]); err != nil {
		return Reply{}, err
	}
	if rep[0] != socks4ReplyVersion {
		return Reply{}, fmt.Errorf("%s: %w: version 0x%02x", step, ErrMalformedReply, rep[0])
	}
	if rep[1] != socks4Granted {
		return Reply{}, &ProxyRejectedError{Version: Version4, Code: rep[1]}
	}
	return Reply{
		Version: Version4,
		Code:    rep[1],
		Addr: Addr{
			Host: netip.AddrFrom4([4]byte(rep[4:8])).String(),
			Port: binary.BigEndian.Uint16(rep[2:4]),
		},
	}, nil
}
