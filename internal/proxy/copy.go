package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CopyBidirectional pipes left and right until both directions finish, ctx
// is canceled, or no data moves for idleTimeout. When one direction hits
// EOF the other side's write half is closed so the peer sees it. Both
// connections are closed on return.
func CopyBidirectional(ctx context.Context, left, right net.Conn, idleTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	copyHalf := func(dst, src net.Conn) error {
		_, err := io.Copy(idleWriter{Conn: dst, peer: src, timeout: idleTimeout}, idleReader{Conn: src, peer: dst, timeout: idleTimeout})
		if err == nil {
			if cw, ok := dst.(closeWriter); ok && cw.CloseWrite() == nil {
				return nil
			}
		}
		closeBoth()
		return err
	}

	g.Go(func() error { return copyHalf(left, right) })
	g.Go(func() error { return copyHalf(right, left) })

	// gctx is also canceled when Wait returns, so this always exits.
	go func() {
		<-gctx.Done()
		closeBoth()
	}()

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

type closeWriter interface {
	CloseWrite() error
}

// idleReader pushes both deadlines forward on every read.
type idleReader struct {
	net.Conn
	peer    net.Conn
	timeout time.Duration
}

func (r idleReader) Read(b []byte) (int, error) {
	if r.timeout > 0 {
		dl := time.Now().Add(r.timeout)
		_ = r.Conn.SetDeadline(dl)
		_ = r.peer.SetDeadline(dl)
	}
	return r.Conn.Read(b)
}

type idleWriter struct {
	net.Conn
	peer    net.Conn
	timeout time.Duration
}

func (w idleWriter) Write(b []byte) (int, error) {
	if w.timeout > 0 {
		dl := time.Now().Add(w.timeout)
		_ = w.Conn.SetDeadline(dl)
		_ = w.peer.SetDeadline(dl)
	}
	return w.Conn.Write(b)
}
