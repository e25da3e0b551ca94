package socks

import (
	"context"
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

// methods lists the authentication methods offered to a SOCKS5 proxy, in
// order of preference.
func (s *Session) methods() []byte {
	methods := []byte{MethodNoAuth}
	if s.proxy.Credentials != nil {
		methods = append(methods, MethodUsernamePassword)
	}
	if a := s.proxy.CustomAuth; a != nil {
		m := a.Method()
		if m != MethodNoAuth && m != MethodNoAcceptable && (m != MethodUsernamePassword || s.proxy.Credentials == nil) {
			methods = append(methods, m)
		}
	}
	return methods
}

// negotiate performs SOCKS5 method selection and any subnegotiation the
// selected method requires.
//
//	+----+----------+----------+      +----+--------+
//	|VER | NMETHODS | METHODS  |      |VER | METHOD |
//	+----+----------+----------+  ->  +----+--------+
//	| 1  |    1     | 1 to 255 |      | 1  |   1    |
//	+----+----------+----------+      +----+--------+
func (s *Session) negotiate(ctx context.Context) error {
	if c := s.proxy.Credentials; c != nil {
		if err := c.validate(); err != nil {
			return err
		}
	}

	s.setState(StateNegotiating)
	if err := s.writeFrame(ctx, "write negotiation", txsocks5.NewNegotiationRequest(s.methods())); err != nil {
		return err
	}

	var rep [2]byte
	if err := s.read(ctx, "read negotiation", rep[:]); err != nil {
		return err
	}
	if Version(rep[0]) != Version5 {
		return fmt.Errorf("read negotiation: %w: version 0x%02x", ErrMalformedReply, rep[0])
	}
	method := rep[1]
	if method == MethodNoAcceptable {
		return fmt.Errorf("negotiation: %w", ErrNoAcceptableAuthMethod)
	}

	if method != MethodNoAuth {
		s.setState(StateAuthenticating)
	}
	return s.authenticate(ctx, method)
}
