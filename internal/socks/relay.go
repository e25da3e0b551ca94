package socks

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// maxHeaderLen is the longest datagram header: RSV, FRAG, ATYP, a 255 byte
// domain with its length and the port.
const maxHeaderLen = datagramHeaderLen + 1 + 1 + maxFieldLen + 2

// RelayConn is a net.PacketConn that sends and receives through a SOCKS5
// UDP relay. Writes are framed with WrapDatagram; reads are unframed with
// UnwrapDatagram and report the datagram's origin as the source address.
// Datagrams that do not come from the relay, or that fail to parse, are
// dropped.
//
// The association lives as long as the control connection, so RelayConn
// owns both and Close closes both.
type RelayConn struct {
	net.PacketConn

	ctrl  net.Conn
	relay *net.UDPAddr

	closeOnce sync.Once
	closeErr  error
}

// NewRelayConn returns a RelayConn that sends over pc to relay. ctrl is
// the UDP ASSOCIATE control connection.
func NewRelayConn(pc net.PacketConn, ctrl net.Conn, relay *net.UDPAddr) *RelayConn {
	return &RelayConn{PacketConn: pc, ctrl: ctrl, relay: relay}
}

// RelayAddr returns the relay endpoint datagrams are sent to.
func (c *RelayConn) RelayAddr() *net.UDPAddr { return c.relay }

// WriteTo frames p for addr and sends it to the relay.
func (c *RelayConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	dst, err := toAddr(addr)
	if err != nil {
		return 0, &net.OpError{Op: "write", Net: "udp", Addr: addr, Err: err}
	}
	b, err := WrapDatagram(dst, p)
	if err != nil {
		return 0, &net.OpError{Op: "write", Net: "udp", Addr: addr, Err: err}
	}
	if _, err := c.PacketConn.WriteTo(b, c.relay); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadFrom reads the next datagram relayed back by the proxy.
func (c *RelayConn) ReadFrom(p []byte) (int, net.Addr, error) {
	buf := make([]byte, maxHeaderLen+len(p))
	for {
		n, from, err := c.PacketConn.ReadFrom(buf)
		if err != nil {
			return 0, nil, err
		}
		if !c.fromRelay(from) {
			continue
		}
		d, err := UnwrapDatagram(buf[:n])
		if err != nil {
			continue
		}
		return copy(p, d.Data), d.Addr, nil
	}
}

// Close closes the local socket and the control connection.
func (c *RelayConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.PacketConn.Close(), c.ctrl.Close())
	})
	return c.closeErr
}

func (c *RelayConn) fromRelay(from net.Addr) bool {
	ua, ok := from.(*net.UDPAddr)
	if !ok {
		return false
	}
	return ua.AddrPort().Addr().Unmap() == c.relay.AddrPort().Addr().Unmap() && ua.Port == c.relay.Port
}

func toAddr(addr net.Addr) (Addr, error) {
	switch a := addr.(type) {
	case Addr:
		return a, nil
	case *Addr:
		return *a, nil
	case nil:
		return Addr{}, fmt.Errorf("%w: nil address", ErrInvalidAddress)
	case *net.UDPAddr:
		ap := a.AddrPort()
		return Addr{Host: ap.Addr().Unmap().String(), Port: ap.Port()}, nil
	default:
		return ParseAddr(addr.String())
	}
}
