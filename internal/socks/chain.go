package socks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"
)

// Chain is an ordered list of proxies. The first hop is the one the
// transport is connected to; the last hop talks to the destination.
type Chain []Proxy

// Validate reports whether the chain can be used.
func (c Chain) Validate() error {
	if len(c) == 0 {
		return ErrEmptyChain
	}
	for i, p := range c {
		if p.Version != Version4 && p.Version != Version5 {
			return fmt.Errorf("socks: hop %d: unsupported version %d", i, p.Version)
		}
		if p.Host == "" {
			return fmt.Errorf("socks: hop %d: %w: missing host", i, ErrInvalidAddress)
		}
	}
	return nil
}

// Tunnel is an established path through a chain. For CONNECT it is a
// byte stream to the destination; for BIND it waits for the inbound peer;
// for UDP ASSOCIATE it is the control connection and Reply.Addr is the
// relay endpoint.
type Tunnel struct {
	net.Conn

	Command Command
	Reply   Reply

	last    Proxy
	session *Session
}

// Proxy returns the last hop of the chain.
func (t *Tunnel) Proxy() Proxy { return t.last }

// BoundAddr returns the address the last hop bound for the request.
func (t *Tunnel) BoundAddr() Addr { return t.Reply.Addr }

// RelayAddr returns the UDP relay endpoint for a UDP ASSOCIATE tunnel.
// Proxies commonly answer with an unspecified address, meaning "the
// address you reached me on"; that is replaced with the last hop's host.
func (t *Tunnel) RelayAddr() Addr {
	a := t.Reply.Addr
	if ip, err := netip.ParseAddr(a.Host); err == nil && ip.IsUnspecified() {
		a.Host = t.last.Host
	}
	return a
}

// Accept waits for the second BIND reply and returns the address of the
// peer that connected to the bound port. After it returns the tunnel
// carries that peer's stream.
func (t *Tunnel) Accept(ctx context.Context) (Addr, error) {
	if t.Command != CmdBind {
		return Addr{}, fmt.Errorf("socks: accept on %s tunnel", t.Command)
	}
	rep, err := t.session.AwaitBind(ctx)
	if err != nil {
		return Addr{}, err
	}
	return rep.Addr, nil
}

// Establish drives the handshakes of every hop in chain over conn and
// issues cmd for dst at the last hop. Hop i is asked to CONNECT to hop
// i+1, and hop i+1's handshake then runs through that tunnel.
//
// Any failure is returned as a *ChainHopError and no tunnel is returned.
// Establish never closes conn.
func Establish(ctx context.Context, conn net.Conn, chain Chain, dst Addr, cmd Command, opts Options) (*Tunnel, error) {
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	log := opts.logger()

	var (
		sess *Session
		rep  Reply
	)
	for i, hop := range chain {
		req := Request{Command: CmdConnect, Addr: dst}
		if i < len(chain)-1 {
			req.Addr = chain[i+1].Addr()
		} else {
			req.Command = cmd
		}

		sess = NewSession(conn, hop, opts)
		var err error
		rep, err = sess.Do(ctx, req)
		if err != nil {
			log.WithError(err).WithField("hop", i).WithField("proxy", hop.String()).Debug("socks hop failed")
			return nil, &ChainHopError{Hop: i, Proxy: hop.String(), Err: err}
		}
		log.WithFields(logrus.Fields{
			"hop":     i,
			"proxy":   hop.String(),
			"command": req.Command.String(),
			"target":  req.Addr.String(),
			"bound":   rep.Addr.String(),
		}).Debug("socks hop established")
	}

	return &Tunnel{
		Conn:    conn,
		Command: cmd,
		Reply:   rep,
		last:    chain[len(chain)-1],
		session: sess,
	}, nil
}

// CloseWrite shuts down the sending side of the tunnel when the transport
// supports it.
func (t *Tunnel) CloseWrite() error {
	if cw, ok := t.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}
