package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
)

// ScriptedPeer is a loopback listener that runs script against the first
// connection it accepts. It stands in for proxies that misbehave in ways
// the real test servers never do.
type ScriptedPeer struct {
	ln net.Listener
	wg sync.WaitGroup
}

// StartScriptedPeer listens on loopback and hands the first accepted
// connection to script. The listener is closed when the test ends.
func StartScriptedPeer(t *testing.T, ctx context.Context, script func(net.Conn)) *ScriptedPeer {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	p := &ScriptedPeer{ln: ln}
	p.wg.Go(func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		script(c)
	})
	t.Cleanup(p.Wait)

	return p
}

func (p *ScriptedPeer) Addr() string {
	return p.ln.Addr().String()
}

// Wait closes the listener and blocks until the script has returned.
func (p *ScriptedPeer) Wait() {
	_ = p.ln.Close()
	p.wg.Wait()
}
