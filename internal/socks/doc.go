// Package socks implements the client side of the SOCKS4, SOCKS4a and SOCKS5
// protocols.
//
// It drives the handshake over a caller-supplied net.Conn: method
// negotiation, username/password or custom subnegotiation, and the
// CONNECT, BIND or UDP ASSOCIATE command. Several proxies can be chained,
// with each hop's handshake tunneled through the previous hop. UDP relay
// datagrams are framed and deframed by WrapDatagram and UnwrapDatagram.
//
// The package never dials, resolves or closes connections; those belong to
// the caller (see internal/dialer).
//
// Example usage:
//
//	conn, _ := net.Dial("tcp", "proxy.example:1080")
//	chain := socks.Chain{{Host: "proxy.example", Port: 1080, Version: socks.Version5}}
//	tun, err := socks.Establish(ctx, conn, chain, socks.Addr{Host: "example.com", Port: 80}, socks.CmdConnect, socks.Options{Timeout: 10 * time.Second})
package socks
