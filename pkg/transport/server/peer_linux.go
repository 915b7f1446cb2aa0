//go:build linux

package server

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/freedm/core/pkg/log"
	"github.com/freedm/core/pkg/pool"
)

// populatePeerIdentity fills in conn's peer fields: for a Unix domain
// socket, the peer pid/uid/gid via SO_PEERCRED; for TCP, the peer and
// host addresses.
func populatePeerIdentity(conn *pool.Connection, socket net.Conn) {
	switch typed := socket.(type) {
	case *net.UnixConn:
		populateUnixPeer(conn, typed)
	case *net.TCPConn:
		conn.PeerAddr = typed.RemoteAddr().String()
		conn.HostAddr = typed.LocalAddr().String()
	default:
		conn.PeerAddr = socket.RemoteAddr().String()
		conn.HostAddr = socket.LocalAddr().String()
	}
}

func populateUnixPeer(conn *pool.Connection, uc *net.UnixConn) {
	raw, err := uc.SyscallConn()
	if err != nil {
		log.WithComponent("server").Warn().Err(err).Msg("could not obtain raw unix socket conn for SO_PEERCRED")
		return
	}

	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		credErr = err
	}
	if credErr != nil {
		log.WithComponent("server").Warn().Err(credErr).Msg("SO_PEERCRED lookup failed")
		return
	}

	conn.PeerPID = int(cred.Pid)
	conn.PeerUID = int(cred.Uid)
	conn.PeerGID = int(cred.Gid)
}
