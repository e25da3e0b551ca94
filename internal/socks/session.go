package socks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the position of a Session in its handshake.
type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateAuthenticating
	StateRequestPending
	StateEstablished
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateNegotiating:    "negotiating",
	StateAuthenticating: "authenticating",
	StateRequestPending: "request pending",
	StateEstablished:    "established",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Proxy describes one SOCKS proxy hop.
type Proxy struct {
	Host    string
	Port    uint16
	Version Version

	// Credentials enables username/password authentication for SOCKS5 and
	// supplies the user ID for SOCKS4.
	Credentials *Credentials

	// CustomAuth is offered to SOCKS5 proxies in addition to the built-in
	// methods.
	CustomAuth Authenticator
}

// Addr returns the proxy's own address.
func (p Proxy) Addr() Addr {
	return Addr{Host: p.Host, Port: p.Port}
}

func (p Proxy) String() string {
	return p.Version.String() + "://" + p.Addr().String()
}

// Options tune a handshake.
type Options struct {
	// Timeout bounds each wait for a proxy reply. Zero means no timeout
	// beyond the context's deadline.
	Timeout time.Duration

	// Logger receives per-hop debug output. Nil discards it.
	Logger logrus.FieldLogger
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Request is a SOCKS command and its destination.
type Request struct {
	Command Command
	Addr    Addr
}

// Reply is a successful proxy reply. Addr is the bound address, which is
// meaningful for BIND and UDP ASSOCIATE.
type Reply struct {
	Version Version
	Code    byte
	Addr    Addr
}

// Session is a single-hop SOCKS handshake over one transport. It is not
// safe for concurrent use, except for State which may be polled from any
// goroutine. A Session is never reused across hops.
type Session struct {
	conn  net.Conn
	proxy Proxy
	opts  Options
	state atomic.Int32
	cmd   Command
}

// NewSession returns an idle session that speaks to p over conn.
func NewSession(conn net.Conn, p Proxy, opts Options) *Session {
	return &Session{conn: conn, proxy: p, opts: opts}
}

// State returns the current handshake state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Do runs the full handshake for req: method negotiation and
// authentication for SOCKS5, then the command. The session ends in
// StateEstablished or StateFailed. Do never closes the transport.
func (s *Session) Do(ctx context.Context, req Request) (reply Reply, err error) {
	if st := s.State(); st != StateIdle {
		return Reply{}, fmt.Errorf("socks: session is %s, not idle", st)
	}
	s.cmd = req.Command

	stop := context.AfterFunc(ctx, func() {
		// Unblock any pending read or write; ctx.Err is reported instead.
		_ = s.conn.SetDeadline(aLongTimeAgo)
	})
	defer func() {
		if !stop() && err == nil {
			err = fmt.Errorf("socks %s: %w", req.Command, ctx.Err())
		}
		if err != nil {
			s.setState(StateFailed)
			return
		}
		_ = s.conn.SetDeadline(time.Time{})
		s.setState(StateEstablished)
	}()

	switch s.proxy.Version {
	case Version5:
		if err := s.negotiate(ctx); err != nil {
			return Reply{}, err
		}
		return s.request5(ctx, req)
	case Version4:
		return s.request4(ctx, req)
	default:
		return Reply{}, fmt.Errorf("socks: unsupported version %d", s.proxy.Version)
	}
}

// AwaitBind waits for the second BIND reply, which reports the address of
// the peer that connected to the bound port.
func (s *Session) AwaitBind(ctx context.Context) (reply Reply, err error) {
	if st := s.State(); st != StateEstablished || s.cmd != CmdBind {
		return Reply{}, fmt.Errorf("socks: no bind pending (session is %s)", st)
	}
	s.setState(StateRequestPending)

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(aLongTimeAgo)
	})
	defer func() {
		if !stop() && err == nil {
			err = fmt.Errorf("socks bind: %w", ctx.Err())
		}
		if err != nil {
			s.setState(StateFailed)
			return
		}
		_ = s.conn.SetDeadline(time.Time{})
		s.setState(StateEstablished)
	}()

	if s.proxy.Version == Version4 {
		return s.readReply4(ctx, "read second bind reply")
	}
	return s.readReply5(ctx, "read second bind reply")
}

var aLongTimeAgo = time.Unix(1, 0)

// arm sets the deadline for the next suspension point. The deadline is set
// before ctx is checked so a concurrent cancellation cannot be overwritten.
func (s *Session) arm(ctx context.Context) error {
	var deadline time.Time
	if s.opts.Timeout > 0 {
		deadline = time.Now().Add(s.opts.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return err
	}
	return ctx.Err()
}

// write sends one complete frame with a single Write.
func (s *Session) write(ctx context.Context, step string, frame []byte) error {
	if err := s.arm(ctx); err != nil {
		return ioError(ctx, step, err)
	}
	if _, err := s.conn.Write(frame); err != nil {
		return ioError(ctx, step, err)
	}
	return nil
}

func (s *Session) writeFrame(ctx context.Context, step string, f frameWriter) error {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return s.write(ctx, step, buf.Bytes())
}

// read fills b, waiting up to the timeout for the whole frame.
func (s *Session) read(ctx context.Context, step string, b []byte) error {
	if err := s.arm(ctx); err != nil {
		return ioError(ctx, step, err)
	}
	if _, err := io.ReadFull(s.conn, b); err != nil {
		return ioError(ctx, step, err)
	}
	return nil
}

func (s *Session) readAddr(ctx context.Context, step string, atyp byte) (Addr, error) {
	if err := s.arm(ctx); err != nil {
		return Addr{}, ioError(ctx, step, err)
	}
	a, err := readAddr(s.conn, atyp)
	if err != nil {
		return Addr{}, ioError(ctx, step, err)
	}
	return a, nil
}
