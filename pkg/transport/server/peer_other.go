//go:build !linux

package server

import (
	"net"

	"github.com/freedm/core/pkg/ferrors"
	"github.com/freedm/core/pkg/log"
	"github.com/freedm/core/pkg/pool"
)

// populatePeerIdentity fills in TCP peer/host addresses on every
// platform; SO_PEERCRED is Linux-specific, so UXD peer credentials are
// left zero-valued with a logged unsupported-OS notice.
func populatePeerIdentity(conn *pool.Connection, socket net.Conn) {
	if _, ok := socket.(*net.UnixConn); ok {
		ferrors.Handle(ferrors.New(ferrors.KindUnsupportedOS, "SO_PEERCRED peer credential lookup is Linux-only", nil))
		log.WithComponent("server").Warn().Msg("peer credentials unavailable on this platform")
		return
	}
	conn.PeerAddr = socket.RemoteAddr().String()
	conn.HostAddr = socket.LocalAddr().String()
}
