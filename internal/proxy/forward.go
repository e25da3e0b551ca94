package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"
)

// Forwarder accepts local TCP connections and pipes each one to a fixed
// target through Config.Dialer.
type Forwarder struct {
	ctx    context.Context
	cfg    Config
	target string
	log    logrus.FieldLogger
}

func NewForwarder(ctx context.Context, cfg Config, target string) (*Forwarder, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Dialer == nil {
		return nil, errors.New("forwarder: nil dialer")
	}
	if _, _, err := net.SplitHostPort(target); err != nil {
		return nil, fmt.Errorf("forwarder target %q: %w", target, err)
	}

	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Forwarder{
		ctx:    ctx,
		cfg:    cfg,
		target: target,
		log:    log.WithField("target", target),
	}, nil
}

// Listen opens a TCP listener on addr whose accepted connections get the
// forwarder's keepalive settings.
func (f *Forwarder) Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAliveConfig: f.cfg.KeepAlive}

	ln, err := lc.Listen(f.ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections from ln until it is closed or the forwarder's
// context ends. A closed listener is not reported as an error.
func (f *Forwarder) Serve(ln net.Listener) error {
	stop := context.AfterFunc(f.ctx, func() { _ = ln.Close() })
	defer stop()

	f.log.WithField("listen", ln.Addr().String()).Info("forwarding")

	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := f.handle(c); err != nil {
				f.log.WithField("client", c.RemoteAddr().String()).WithError(err).Debug("connection error")
			}
		}()
	}
}

func (f *Forwarder) handle(conn net.Conn) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()

	up, err := f.cfg.Dialer.DialContext(ctx, "tcp", f.target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.target, err)
	}
	defer up.Close()

	if err := CopyBidirectional(ctx, conn, up, f.cfg.IdleTimeout); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}
