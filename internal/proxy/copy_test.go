package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyBidirectional(t *testing.T) {
	clientSide, left := net.Pipe()
	right, upstreamSide := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(context.Background(), left, right, time.Second) }()

	go func() { _, _ = clientSide.Write([]byte("ping")) }()
	buf := make([]byte, 4)
	_, err := io.ReadFull(upstreamSide, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	go func() { _, _ = upstreamSide.Write([]byte("pong")) }()
	_, err = io.ReadFull(clientSide, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))

	_ = clientSide.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("copy did not finish after close")
	}

	_, err = upstreamSide.Read(buf)
	assert.Error(t, err)
}

func TestCopyBidirectionalHalfClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Loopback TCP so CloseWrite is available.
	pair := func() (net.Conn, net.Conn) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()
		a, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		b, err := ln.Accept()
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = a.Close()
			_ = b.Close()
		})
		return a, b
	}
	clientSide, left := pair()
	right, upstreamSide := pair()

	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(ctx, left, right, 0) }()

	_, err := clientSide.Write([]byte("request"))
	require.NoError(t, err)
	require.NoError(t, clientSide.(*net.TCPConn).CloseWrite())

	got, err := io.ReadAll(upstreamSide)
	require.NoError(t, err)
	assert.Equal(t, "request", string(got))

	_, err = upstreamSide.Write([]byte("response"))
	require.NoError(t, err)
	require.NoError(t, upstreamSide.(*net.TCPConn).CloseWrite())

	got, err = io.ReadAll(clientSide)
	require.NoError(t, err)
	assert.Equal(t, "response", string(got))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("copy did not finish")
	}
}

func TestCopyBidirectionalIdleTimeout(t *testing.T) {
	clientSide, left := net.Pipe()
	right, upstreamSide := net.Pipe()
	defer clientSide.Close()
	defer upstreamSide.Close()

	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(context.Background(), left, right, 50*time.Millisecond) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was not closed")
	}
}

func TestCopyBidirectionalCancel(t *testing.T) {
	clientSide, left := net.Pipe()
	right, upstreamSide := net.Pipe()
	defer clientSide.Close()
	defer upstreamSide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(ctx, left, right, 0) }()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("copy ignored cancellation")
	}
}
