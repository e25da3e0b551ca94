// Package dnsquery sends single DNS questions over a packet connection,
// typically a SOCKS5 UDP association, and decodes the answers.
package dnsquery
