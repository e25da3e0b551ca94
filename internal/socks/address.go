package socks

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
)

// Addr is a SOCKS destination or bound address. Host is an IPv4 literal,
// an IPv6 literal or a domain name; the form selects the wire address type.
type Addr struct {
	Host string
	Port uint16
}

// ParseAddr parses a "host:port" string.
func ParseAddr(hostport string) (Addr, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if host == "" {
		return Addr{}, fmt.Errorf("%w: missing host in %q", ErrInvalidAddress, hostport)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: bad port in %q", ErrInvalidAddress, hostport)
	}
	return Addr{Host: host, Port: uint16(p)}, nil
}

// Network implements net.Addr.
func (a Addr) Network() string { return "socks" }

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// IsDomain reports whether Host is a domain name rather than an IP literal.
func (a Addr) IsDomain() bool {
	_, err := netip.ParseAddr(a.Host)
	return err != nil
}

// Len returns the encoded length of a, including the ATYP byte and port.
func (a Addr) Len() int {
	if ip, err := netip.ParseAddr(a.Host); err == nil {
		if ip.Is4() {
			return 1 + net.IPv4len + 2
		}
		return 1 + net.IPv6len + 2
	}
	return 1 + 1 + len(a.Host) + 2
}

// EncodeAddr returns the ATYP, address and port encoding of a.
func EncodeAddr(a Addr) ([]byte, error) {
	return AppendAddr(make([]byte, 0, a.Len()), a)
}

// AppendAddr appends the wire encoding of a to b:
//
//	+------+----------+----------+
//	| ATYP | DST.ADDR | DST.PORT |
//	+------+----------+----------+
//	|  1   | Variable |    2     |
//	+------+----------+----------+
func AppendAddr(b []byte, a Addr) ([]byte, error) {
	if a.Host == "" {
		return b, fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	if ip, err := netip.ParseAddr(a.Host); err == nil {
		if ip.Zone() != "" {
			return b, fmt.Errorf("%w: zoned address %q", ErrInvalidAddress, a.Host)
		}
		if ip.Is4() {
			ip4 := ip.As4()
			b = append(b, AtypIPv4)
			b = append(b, ip4[:]...)
		} else {
			ip16 := ip.As16()
			b = append(b, AtypIPv6)
			b = append(b, ip16[:]...)
		}
	} else {
		if len(a.Host) > maxFieldLen {
			return b, fmt.Errorf("%w: domain name longer than %d bytes", ErrInvalidAddress, maxFieldLen)
		}
		b = append(b, AtypDomain, byte(len(a.Host)))
		b = append(b, a.Host...)
	}
	return binary.BigEndian.AppendUint16(b, a.Port), nil
}

// DecodeAddr decodes an address of type atyp from b, which starts right
// after the ATYP byte. It returns the number of bytes consumed.
func DecodeAddr(b []byte, atyp byte) (Addr, int, error) {
	var (
		a Addr
		n int
	)
	switch atyp {
	case AtypIPv4:
		n = net.IPv4len
		if len(b) < n+2 {
			return Addr{}, 0, fmt.Errorf("%w: short ipv4 address", ErrMalformedReply)
		}
		a.Host = netip.AddrFrom4([4]byte(b[:n])).String()
	case AtypIPv6:
		n = net.IPv6len
		if len(b) < n+2 {
			return Addr{}, 0, fmt.Errorf("%w: short ipv6 address", ErrMalformedReply)
		}
		a.Host = netip.AddrFrom16([16]byte(b[:n])).String()
	case AtypDomain:
		if len(b) < 1 {
			return Addr{}, 0, fmt.Errorf("%w: missing domain length", ErrMalformedReply)
		}
		n = 1 + int(b[0])
		if len(b) < n+2 {
			return Addr{}, 0, fmt.Errorf("%w: short domain name", ErrMalformedReply)
		}
		a.Host = string(b[1:n])
	default:
		return Addr{}, 0, fmt.Errorf("%w: unknown address type 0x%02x", ErrMalformedReply, atyp)
	}
	a.Port = binary.BigEndian.Uint16(b[n:])
	return a, n + 2, nil
}

// readAddr reads exactly one address of type atyp from r, so nothing past
// the reply is consumed from the tunnel.
func readAddr(r io.Reader, atyp byte) (Addr, error) {
	var buf [1 + maxFieldLen + 2]byte
	var n int
	switch atyp {
	case AtypIPv4:
		n = net.IPv4len + 2
	case AtypIPv6:
		n = net.IPv6len + 2
	case AtypDomain:
		if _, err := io.ReadFull(r, buf[:1]); err != nil {
			return Addr{}, err
		}
		if _, err := io.ReadFull(r, buf[1:2+int(buf[0])+1]); err != nil {
			return Addr{}, err
		}
		a, _, err := DecodeAddr(buf[:1+int(buf[0])+2], atyp)
		return a, err
	default:
		return Addr{}, fmt.Errorf("%w: unknown address type 0x%02x", ErrMalformedReply, atyp)
	}
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return Addr{}, err
	}
	a, _, err := DecodeAddr(buf[:n], atyp)
	return a, err
}
