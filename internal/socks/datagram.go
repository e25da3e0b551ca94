package socks

import "fmt"

// Datagram is a UDP payload addressed through a SOCKS5 UDP relay.
//
//	+----+------+------+----------+----------+----------+
//	|RSV | FRAG | ATYP | DST.ADDR | DST.PORT |   DATA   |
//	+----+------+------+----------+----------+----------+
//	| 2  |  1   |  1   | Variable |    2     | Variable |
//	+----+------+------+----------+----------+----------+
type Datagram struct {
	Frag byte
	Addr Addr
	Data []byte
}

// datagramHeaderLen is RSV plus FRAG.
const datagramHeaderLen = 3

// WrapDatagram frames payload for the relay, addressed to dst. Fragmentation
// is not supported, so FRAG is always zero.
func WrapDatagram(dst Addr, payload []byte) ([]byte, error) {
	b := make([]byte, datagramHeaderLen, datagramHeaderLen+dst.Len()+len(payload))
	b, err := AppendAddr(b, dst)
	if err != nil {
		return nil, err
	}
	return append(b, payload...), nil
}

// UnwrapDatagram parses a datagram received from the relay. The returned
// Data aliases b.
func UnwrapDatagram(b []byte) (Datagram, error) {
	if len(b) < datagramHeaderLen+1 {
		return Datagram{}, fmt.Errorf("%w: %d byte datagram", ErrMalformedDatagram, len(b))
	}
	if b[0] != 0 || b[1] != 0 {
		return Datagram{}, fmt.Errorf("%w: nonzero reserved bytes", ErrMalformedDatagram)
	}
	if b[2] != 0 {
		return Datagram{}, fmt.Errorf("%w: fragment %d, fragmentation unsupported", ErrMalformedDatagram, b[2])
	}
	addr, n, err := DecodeAddr(b[datagramHeaderLen+1:], b[datagramHeaderLen])
	if err != nil {
		return Datagram{}, fmt.Errorf("%w: %v", ErrMalformedDatagram, err)
	}
	return Datagram{Addr: addr, Data: b[datagramHeaderLen+1+n:]}, nil
}
