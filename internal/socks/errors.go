package socks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	ErrInvalidAddress         = errors.New("socks: invalid address")
	ErrInvalidCredentials     = errors.New("socks: invalid credentials")
	ErrMalformedReply         = errors.New("socks: malformed reply")
	ErrMalformedDatagram      = errors.New("socks: malformed datagram")
	ErrNoAcceptableAuthMethod = errors.New("socks: no acceptable authentication method")
	ErrAuthenticationFailed   = errors.New("socks: authentication failed")
	ErrUnsupportedCommand     = errors.New("socks: unsupported command")
	ErrHandshakeTimeout       = errors.New("socks: handshake timeout")
	ErrTransportClosed        = errors.New("socks: transport closed")
	ErrEmptyChain             = errors.New("socks: empty proxy chain")
)

var socks5ReplyText = [...]string{
	RepSucceeded:           "succeeded",
	RepGeneralFailure:      "general SOCKS server failure",
	RepNotAllowed:          "connection not allowed by ruleset",
	RepNetworkUnreachable:  "network unreachable",
	RepHostUnreachable:     "host unreachable",
	RepConnectionRefused:   "connection refused",
	RepTTLExpired:          "TTL expired",
	RepCommandNotSupported: "command not supported",
	RepAddressNotSupported: "address type not supported",
}

// ProxyRejectedError is returned when a proxy explicitly refuses a command
// with a non-success reply code.
type ProxyRejectedError struct {
	Version Version
	Code    byte
}

func (e *ProxyRejectedError) Error() string {
	return fmt.Sprintf("socks: proxy rejected request: %s", e.Reason())
}

// Reason returns the human readable meaning of Code.
func (e *ProxyRejectedError) Reason() string {
	if e.Version == Version4 {
		switch e.Code {
		case socks4Rejected:
			return "request rejected or failed"
		case socks4NoIdentd:
			return "client identd unreachable"
		case socks4IdentdDenied:
			return "client identd user mismatch"
		}
		return fmt.Sprintf("unknown socks4 status 0x%02x", e.Code)
	}
	if int(e.Code) < len(socks5ReplyText) {
		return socks5ReplyText[e.Code]
	}
	return fmt.Sprintf("unassigned reply code 0x%02x", e.Code)
}

// Temporary reports whether retrying the same request later could succeed.
func (e *ProxyRejectedError) Temporary() bool {
	if e.Version == Version4 {
		return e.Code == socks4Rejected
	}
	switch e.Code {
	case RepGeneralFailure, RepNetworkUnreachable, RepHostUnreachable, RepTTLExpired:
		return true
	}
	return false
}

// ChainHopError reports which hop of a chain failed and why.
type ChainHopError struct {
	Hop   int
	Proxy string
	Err   error
}

func (e *ChainHopError) Error() string {
	return fmt.Sprintf("socks: chain hop %d (%s): %v", e.Hop, e.Proxy, e.Err)
}

func (e *ChainHopError) Unwrap() error { return e.Err }

// ioError classifies a transport error from step. Context errors win over
// the deadline error they cause.
func ioError(ctx context.Context, step string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w: %w", step, ErrHandshakeTimeout, ctxErr)
		}
		return fmt.Errorf("%s: %w", step, ctxErr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", step, ErrHandshakeTimeout)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %w", step, ErrHandshakeTimeout)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%s: %w: %v", step, ErrTransportClosed, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}
