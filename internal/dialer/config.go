package dialer

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// Logger receives per-hop handshake debug output. Nil discards it.
	Logger logrus.FieldLogger
}
