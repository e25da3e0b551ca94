// Package dialer provides outbound dialing implementations used by sockschain.
//
// Dialers implement a small interface (DialContext) and are used by the
// forwarder and the CLI to establish outbound connections either directly
// or through a chain of SOCKS4/4a/5 proxies. The chain dialer owns the
// first-hop TCP connection; the handshake itself lives in internal/socks.
package dialer
