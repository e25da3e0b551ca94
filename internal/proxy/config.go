package proxy

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/sockschain/internal/dialer"
)

type Config struct {
	// IdleTimeout closes a forwarded connection after this long without
	// traffic in either direction. Zero disables it.
	IdleTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	Dialer dialer.Dialer

	Logger logrus.FieldLogger
}
