// Package proxy implements the local listener side of sockschain.
//
// It contains the TCP forwarder, which accepts local connections and pipes
// each one to a fixed target through a dialer.Dialer (usually a SOCKS
// chain), and shared connection plumbing such as keepalive listeners and
// bidirectional copy.
package proxy
