package socks

import (
	"context"
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// Credentials are a username and password for SOCKS5 (RFC 1929), or a user
// ID for SOCKS4 where Password is ignored.
type Credentials struct {
	UserID   string
	Password string
}

// Authenticator is a custom SOCKS5 authentication method.
//
// The session offers Method during negotiation. If the proxy selects it,
// the session writes BuildRequest's bytes, reads exactly ResponseLen bytes
// and hands them to ValidateResponse.
type Authenticator interface {
	Method() byte
	BuildRequest() ([]byte, error)
	ResponseLen() int
	ValidateResponse(resp []byte) bool
}

func (c *Credentials) validate() error {
	if c.UserID == "" || c.Password == "" {
		return fmt.Errorf("%w: username and password must not be empty", ErrInvalidCredentials)
	}
	if len(c.UserID) > maxFieldLen {
		return fmt.Errorf("%w: username longer than %d bytes", ErrInvalidCredentials, maxFieldLen)
	}
	if len(c.Password) > maxFieldLen {
		return fmt.Errorf("%w: password longer than %d bytes", ErrInvalidCredentials, maxFieldLen)
	}
	return nil
}

// authenticate runs the subnegotiation for method, which must have been
// offered by this session.
func (s *Session) authenticate(ctx context.Context, method byte) error {
	switch {
	case method == MethodNoAuth:
		return nil
	case method == MethodUsernamePassword && s.proxy.Credentials != nil:
		return s.authUserPass(ctx)
	case s.proxy.CustomAuth != nil && method == s.proxy.CustomAuth.Method():
		return s.authCustom(ctx)
	default:
		return fmt.Errorf("%w: proxy selected method 0x%02x which was not offered", ErrMalformedReply, method)
	}
}

// authUserPass performs RFC 1929 username/password authentication.
//
//	+----+------+----------+------+----------+
//	|VER | ULEN |  UNAME   | PLEN |  PASSWD  |
//	+----+------+----------+------+----------+
//	| 1  |  1   | 1 to 255 |  1   | 1 to 255 |
//	+----+------+----------+------+----------+
func (s *Session) authUserPass(ctx context.Context) error {
	cred := s.proxy.Credentials
	req := txsocks5.NewUserPassNegotiationRequest([]byte(cred.UserID), []byte(cred.Password))
	if err := s.writeFrame(ctx, "write userpass", req); err != nil {
		return err
	}

	// +----+--------+
	// |VER | STATUS |
	// +----+--------+
	var rep [2]byte
	if err := s.read(ctx, "read userpass", rep[:]); err != nil {
		return err
	}
	if rep[0] != userPassVersion {
		return fmt.Errorf("read userpass: %w: version 0x%02x", ErrMalformedReply, rep[0])
	}
	if rep[1] != txsocks5.UserPassStatusSuccess {
		return fmt.Errorf("userpass status 0x%02x: %w", rep[1], ErrAuthenticationFailed)
	}
	return nil
}

func (s *Session) authCustom(ctx context.Context) error {
	auth := s.proxy.CustomAuth
	req, err := auth.BuildRequest()
	if err != nil {
		return fmt.Errorf("build custom auth request: %w", err)
	}
	if err := s.write(ctx, "write custom auth", req); err != nil {
		return err
	}

	n := auth.ResponseLen()
	if n < 0 {
		return fmt.Errorf("custom auth: negative response length %d", n)
	}
	resp := make([]byte, n)
	if err := s.read(ctx, "read custom auth", resp); err != nil {
		return err
	}
	if !auth.ValidateResponse(resp) {
		return fmt.Errorf("custom auth method 0x%02x: %w", auth.Method(), ErrAuthenticationFailed)
	}
	return nil
}

// frameWriter is implemented by the txthinking/socks5 request types.
type frameWriter interface {
	WriteTo(w io.Writer) (int64, error)
}
