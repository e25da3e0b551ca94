package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/sockschain/internal/dialer"
	"github.com/die-net/sockschain/internal/testutil"
)

func startForwarder(t *testing.T, ctx context.Context, upstreams []string, target string) net.Addr {
	t.Helper()

	d, err := dialer.New(dialer.Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, upstreams)
	require.NoError(t, err)

	f, err := NewForwarder(ctx, Config{Dialer: d, IdleTimeout: 5 * time.Second}, target)
	require.NoError(t, err)

	ln, err := f.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() { _ = f.Serve(ln) }()
	return ln.Addr()
}

func TestForwarderDirect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echo := testutil.StartEchoTCPServer(t, ctx)
	addr := startForwarder(t, ctx, []string{"direct://"}, echo.Addr().String())

	c, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello"))
}

func TestForwarderThroughChain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echo := testutil.StartEchoTCPServer(t, ctx)
	hop1 := testutil.StartSOCKS5Server(t, ctx, "", "")
	hop2 := testutil.StartSOCKS4Server(t, ctx)
	hop3 := testutil.StartSOCKS5Server(t, ctx, "user", "pass")

	addr := startForwarder(t, ctx, []string{hop1.URL(), hop2.URL(), hop3.URL()}, echo.Addr().String())

	for range 2 {
		c, err := net.Dial("tcp", addr.String())
		require.NoError(t, err)
		testutil.AssertEcho(t, c, c, []byte("through three hops"))
		_ = c.Close()
	}

	assert.EqualValues(t, 2, hop1.Accepted.Load())
	assert.EqualValues(t, 2, hop2.Accepted.Load())
	assert.EqualValues(t, 2, hop3.Accepted.Load())
}

func TestForwarderUpstreamFailureClosesClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hop := testutil.StartSOCKS5Server(t, ctx, "user", "pass")
	bad := "socks5://user:wrong@" + hop.Addr().String()
	addr := startForwarder(t, ctx, []string{bad}, "127.0.0.1:9")

	c, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = c.Read(buf)
	require.Error(t, err)
	if ne, ok := err.(net.Error); ok {
		assert.False(t, ne.Timeout(), "client left open after upstream failure")
	}
}

func TestForwarderServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	d, err := dialer.New(dialer.Config{}, []string{"direct://"})
	require.NoError(t, err)
	f, err := NewForwarder(ctx, Config{Dialer: d}, "127.0.0.1:9")
	require.NoError(t, err)
	ln, err := f.Listen("127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.Serve(ln) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNewForwarderErrors(t *testing.T) {
	d, err := dialer.New(dialer.Config{}, []string{"direct://"})
	require.NoError(t, err)

	_, err = NewForwarder(context.Background(), Config{}, "127.0.0.1:80")
	assert.Error(t, err)

	_, err = NewForwarder(context.Background(), Config{Dialer: d}, "no-port")
	assert.Error(t, err)
}
