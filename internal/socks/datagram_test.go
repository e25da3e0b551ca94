package socks

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	txsocks5 "github.com/txthinking/socks5"
)

func TestDatagramRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dst     Addr
		payload []byte
	}{
		{name: "ipv4", dst: Addr{Host: "8.8.8.8", Port: 53}, payload: []byte("query")},
		{name: "ipv6", dst: Addr{Host: "2001:4860:4860::8888", Port: 53}, payload: []byte{0, 1, 2, 3}},
		{name: "domain", dst: Addr{Host: "dns.example", Port: 5353}, payload: []byte("hello")},
		{name: "empty payload", dst: Addr{Host: "10.0.0.1", Port: 9}},
		{name: "long domain", dst: Addr{Host: strings.Repeat("d", 255), Port: 1}, payload: make([]byte, 1400)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := WrapDatagram(tt.dst, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, []byte{0, 0, 0}, b[:3])

			d, err := UnwrapDatagram(b)
			require.NoError(t, err)
			assert.Equal(t, tt.dst, d.Addr)
			assert.Equal(t, byte(0), d.Frag)
			assert.Equal(t, len(tt.payload), len(d.Data))
			if len(tt.payload) > 0 {
				assert.Equal(t, tt.payload, d.Data)
			}
		})
	}
}

func TestUnwrapDatagramMalformed(t *testing.T) {
	t.Parallel()

	good, err := WrapDatagram(Addr{Host: "1.2.3.4", Port: 53}, []byte("x"))
	require.NoError(t, err)

	reserved := append([]byte(nil), good...)
	reserved[1] = 0x01

	frag := append([]byte(nil), good...)
	frag[2] = 0x01

	badAtyp := append([]byte(nil), good...)
	badAtyp[3] = 0x09

	tests := []struct {
		name string
		b    []byte
	}{
		{name: "empty"},
		{name: "header only", b: []byte{0, 0, 0}},
		{name: "nonzero reserved", b: reserved},
		{name: "nonzero reserved with garbage", b: []byte{0xff, 0xff}},
		{name: "fragment", b: frag},
		{name: "truncated address", b: good[:6]},
		{name: "bad address type", b: badAtyp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnwrapDatagram(tt.b)
			require.ErrorIs(t, err, ErrMalformedDatagram)
		})
	}
}

func TestDatagramInterop(t *testing.T) {
	t.Parallel()

	b, err := WrapDatagram(Addr{Host: "9.9.9.9", Port: 53}, []byte("payload"))
	require.NoError(t, err)

	d, err := txsocks5.NewDatagramFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9.9:53", d.Address())
	assert.Equal(t, []byte("payload"), d.Data)

	theirs := txsocks5.NewDatagram(txsocks5.ATYPIPv4, net.IPv4(1, 1, 1, 1).To4(), []byte{0x00, 0x35}, []byte("answer")).Bytes()
	ours, err := UnwrapDatagram(theirs)
	require.NoError(t, err)
	assert.Equal(t, Addr{Host: "1.1.1.1", Port: 53}, ours.Addr)
	assert.Equal(t, []byte("answer"), ours.Data)
}
