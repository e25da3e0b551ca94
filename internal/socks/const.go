package socks

import (
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

// Version is the SOCKS protocol version spoken with a proxy.
type Version byte

const (
	Version4 Version = 0x04
	Version5 Version = 0x05
)

func (v Version) String() string {
	switch v {
	case Version4:
		return "socks4"
	case Version5:
		return "socks5"
	default:
		return fmt.Sprintf("socks(%d)", byte(v))
	}
}

// Command is a SOCKS request command.
type Command byte

const (
	CmdConnect      Command = Command(txsocks5.CmdConnect)
	CmdBind         Command = 0x02
	CmdUDPAssociate Command = 0x03
)

func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "connect"
	case CmdBind:
		return "bind"
	case CmdUDPAssociate:
		return "udp associate"
	default:
		return fmt.Sprintf("command(%d)", byte(c))
	}
}

// Address types.
const (
	AtypIPv4   = txsocks5.ATYPIPv4
	AtypDomain = txsocks5.ATYPDomain
	AtypIPv6   = txsocks5.ATYPIPv6
)

// Authentication methods.
const (
	MethodNoAuth           = txsocks5.MethodNone
	MethodUsernamePassword = txsocks5.MethodUsernamePassword
	MethodNoAcceptable     = 0xff
)

const (
	userPassVersion = 0x01

	socks4ReplyVersion = 0x00
	socks4Granted      = 0x5a
	socks4Rejected     = 0x5b
	socks4NoIdentd     = 0x5c
	socks4IdentdDenied = 0x5d

	maxFieldLen = 255
)

// SOCKS5 reply codes.
const (
	RepSucceeded           = txsocks5.RepSuccess
	RepGeneralFailure      = 0x01
	RepNotAllowed          = 0x02
	RepNetworkUnreachable  = 0x03
	RepHostUnreachable     = txsocks5.RepHostUnreachable
	RepConnectionRefused   = txsocks5.RepConnectionRefused
	RepTTLExpired          = 0x06
	RepCommandNotSupported = txsocks5.RepCommandNotSupported
	RepAddressNotSupported = 0x08
)
