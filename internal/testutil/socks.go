package testutil

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

// SOCKSServer is a small SOCKS4/4a or SOCKS5 server used to exercise the
// client end to end. It supports CONNECT, and UDP ASSOCIATE for SOCKS5.
type SOCKSServer struct {
	Version  byte
	Username string
	Password string

	// Accepted counts accepted TCP connections.
	Accepted atomic.Int32

	ctx context.Context
	ln  net.Listener
}

// StartSOCKS5Server starts a SOCKS5 server on loopback. A non-empty
// username requires username/password authentication.
func StartSOCKS5Server(t *testing.T, ctx context.Context, username, password string) *SOCKSServer {
	t.Helper()
	return startSOCKSServer(t, ctx, &SOCKSServer{Version: 5, Username: username, Password: password})
}

// StartSOCKS4Server starts a SOCKS4/4a server on loopback.
func StartSOCKS4Server(t *testing.T, ctx context.Context) *SOCKSServer {
	t.Helper()
	return startSOCKSServer(t, ctx, &SOCKSServer{Version: 4})
}

func startSOCKSServer(t *testing.T, ctx context.Context, s *SOCKSServer) *SOCKSServer {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	s.ctx = ctx
	s.ln = ln

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.Accepted.Add(1)
			go func() {
				defer c.Close()
				if s.Version == 4 {
					_ = s.serve4(c)
				} else {
					_ = s.serve5(c)
				}
			}()
		}
	}()

	return s
}

// Addr returns the listening address.
func (s *SOCKSServer) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

// URL returns the server as an upstream URL.
func (s *SOCKSServer) URL() string {
	scheme := "socks5://"
	if s.Version == 4 {
		scheme = "socks4a://"
	}
	if s.Username != "" {
		scheme += s.Username + ":" + s.Password + "@"
	}
	return scheme + s.Addr().String()
}

func (s *SOCKSServer) serve5(c net.Conn) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(c)
	if err != nil {
		return err
	}

	want := txsocks5.MethodNone
	if s.Username != "" {
		want = txsocks5.MethodUsernamePassword
	}
	if !containsMethod(neg.Methods, want) {
		_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(c)
		return errors.New("no acceptable method")
	}
	if _, err := txsocks5.NewNegotiationReply(want).WriteTo(c); err != nil {
		return err
	}

	if s.Username != "" {
		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return err
		}
		if string(urq.Uname) != s.Username || string(urq.Passwd) != s.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(c)
			return errors.New("auth failed")
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(c); err != nil {
			return err
		}
	}

	req, err := txsocks5.NewRequestFrom(c)
	if err != nil {
		return err
	}

	switch req.Cmd {
	case txsocks5.CmdConnect:
		d := net.Dialer{}
		dst, err := d.DialContext(s.ctx, "tcp", req.Address())
		if err != nil {
			_ = writeReply5(c, txsocks5.RepHostUnreachable, &net.TCPAddr{IP: net.IPv4zero})
			return err
		}
		defer dst.Close()
		if err := writeReply5(c, txsocks5.RepSuccess, dst.LocalAddr()); err != nil {
			return err
		}
		return pipe(c, c, dst)
	case 0x03: // UDP ASSOCIATE
		return s.associate(c)
	default:
		_ = writeReply5(c, txsocks5.RepCommandNotSupported, &net.TCPAddr{IP: net.IPv4zero})
		return errors.New("command not supported")
	}
}

// associate relays datagrams between the first client that sends one and
// the destinations it names, until the control connection closes.
func (s *SOCKSServer) associate(c net.Conn) error {
	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(s.ctx, "udp", "127.0.0.1:0")
	if err != nil {
		_ = writeReply5(c, 0x01, &net.TCPAddr{IP: net.IPv4zero})
		return err
	}
	defer pc.Close()

	if err := writeReply5(c, txsocks5.RepSuccess, pc.LocalAddr()); err != nil {
		return err
	}

	g := errgroup.Group{}
	g.Go(func() error {
		_, _ = io.Copy(io.Discard, c)
		return pc.Close()
	})
	g.Go(func() error {
		var client net.Addr
		buf := make([]byte, 64*1024)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return nil
			}
			if client == nil || from.String() == client.String() {
				client = from
				d, err := txsocks5.NewDatagramFromBytes(buf[:n])
				if err != nil {
					continue
				}
				dst, err := net.ResolveUDPAddr("udp", d.Address())
				if err != nil {
					continue
				}
				_, _ = pc.WriteTo(d.Data, dst)
				continue
			}
			ua, ok := from.(*net.UDPAddr)
			if !ok || ua.IP.To4() == nil {
				continue
			}
			port := make([]byte, 2)
			binary.BigEndian.PutUint16(port, uint16(ua.Port))
			_, _ = pc.WriteTo(txsocks5.NewDatagram(txsocks5.ATYPIPv4, ua.IP.To4(), port, buf[:n]).Bytes(), client)
		}
	})
	return g.Wait()
}

func writeReply5(c net.Conn, rep byte, addr net.Addr) error {
	a, host, port, err := txsocks5.ParseAddress(addr.String())
	if err != nil {
		return err
	}
	if a == txsocks5.ATYPDomain {
		host = host[1:]
	}
	_, err = txsocks5.NewReply(rep, a, host, port).WriteTo(c)
	return err
}

func (s *SOCKSServer) serve4(c net.Conn) error {
	br := bufio.NewReader(c)

	hdr := make([]byte, 8)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return err
	}
	if hdr[0] != 0x04 {
		return errors.New("not socks4")
	}
	if _, err := br.ReadString(0); err != nil { // user id
		return err
	}

	host := net.IP(hdr[4:8]).String()
	if hdr[4] == 0 && hdr[5] == 0 && hdr[6] == 0 && hdr[7] != 0 {
		domain, err := br.ReadString(0)
		if err != nil {
			return err
		}
		host = domain[:len(domain)-1]
	}
	port := binary.BigEndian.Uint16(hdr[2:4])

	reply := []byte{0x00, 0x5b, 0, 0, 0, 0, 0, 0}
	if hdr[1] != 0x01 {
		_, _ = c.Write(reply)
		return errors.New("command not supported")
	}

	d := net.Dialer{}
	dst, err := d.DialContext(s.ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		_, _ = c.Write(reply)
		return err
	}
	defer dst.Close()

	reply[1] = 0x5a
	if _, err := c.Write(reply); err != nil {
		return err
	}
	return pipe(br, c, dst)
}

// pipe copies between a and b; ar is a's read side, which may hold
// buffered handshake bytes.
func pipe(ar io.Reader, a, b net.Conn) error {
	g := errgroup.Group{}
	g.Go(func() error {
		_, err := io.Copy(b, ar)
		_ = b.Close()
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(a, b)
		_ = a.Close()
		return err
	})
	return g.Wait()
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}
