// Package server implements the UXD and TCP transport servers: accept a
// connection, admit or reject it against the connection pool, run
// authentication, and serve it through the shared transport receive
// loop until it closes or the server shuts down.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/freedm/core/pkg/blocking"
	"github.com/freedm/core/pkg/ferrors"
	"github.com/freedm/core/pkg/log"
	"github.com/freedm/core/pkg/pool"
	"github.com/freedm/core/pkg/transport"
)

// AddressFamily selects which IP family (or both) a TCP server binds.
type AddressFamily int

const (
	// AddressAuto prefers IPv6 if the host supports it, else IPv4.
	AddressAuto AddressFamily = iota
	AddressIPv4
	AddressIPv6
	// AddressDual binds a single "tcp" listener, which Go makes dual-stack
	// (IPV6_V6ONLY=0) on a wildcard address when the kernel supports it;
	// there is no fallback to separate IPv4 and IPv6 sockets.
	AddressDual
)

// Hooks are optional lifecycle callbacks run around shutdown.
type Hooks struct {
	PreShutdown  func()
	PostShutdown func()
}

// Server is the shared accept/serve engine for both UXD and TCP
// listeners; a concrete constructor (NewUXD, NewTCP) supplies the
// net.Listener(s).
type Server struct {
	endpoint *transport.Endpoint
	pool     *pool.Pool
	hooks    Hooks

	mu        sync.Mutex
	listeners []net.Listener
	wg        sync.WaitGroup
}

// Config configures a Server.
type Config struct {
	Transport transport.EndpointConfig
	PoolMax   int
	Hooks     Hooks

	// TLS, when set, wraps every TCP listener created by NewTCP in the
	// given configuration. Ignored by NewUXD: Unix-domain sockets rely
	// on filesystem permissions, not TLS, for access control.
	TLS *tls.Config
}

func newServer(cfg Config) *Server {
	return &Server{
		endpoint: transport.NewEndpoint(cfg.Transport),
		pool:     pool.New(cfg.PoolMax),
		hooks:    cfg.Hooks,
	}
}

// Pool returns the server's connection pool, for read-only queries from
// user code.
func (s *Server) Pool() *pool.Pool { return s.pool }

// NewUXD binds a Unix domain socket at path, removing any stale socket
// file first and refusing if a directory already occupies path.
// userOnly sets mode 0600; groupOnly (when userOnly is false) sets 0660.
func NewUXD(cfg Config, path string, userOnly, groupOnly bool) (*Server, error) {
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return nil, ferrors.New(ferrors.KindSocketCreation, fmt.Sprintf("%s is a directory", path), nil)
		}
		if err := os.Remove(path); err != nil {
			return nil, ferrors.New(ferrors.KindSocketCreation, "removing stale socket file", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, ferrors.New(ferrors.KindSocketCreation, "binding unix socket", err)
	}

	mode := os.FileMode(0o644)
	switch {
	case userOnly:
		mode = 0o600
	case groupOnly:
		mode = 0o660
	}
	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return nil, ferrors.New(ferrors.KindSocketCreation, "setting socket permissions", err)
	}

	s := newServer(cfg)
	s.listeners = []net.Listener{ln}
	return s, nil
}

// NewTCP binds a TCP listener on addr:port according to family. Every
// family, AddressDual included, yields exactly one listener.
func NewTCP(cfg Config, addr string, port int, family AddressFamily) (*Server, error) {
	var networks []string
	switch family {
	case AddressIPv4:
		networks = []string{"tcp4"}
	case AddressIPv6:
		networks = []string{"tcp6"}
	case AddressDual:
		networks = []string{"tcp"} // Go's "tcp" on a wildcard addr yields a dual-stack listener when supported
	default: // AddressAuto
		networks = []string{"tcp"}
	}

	s := newServer(cfg)
	for _, network := range networks {
		ln, err := net.Listen(network, fmt.Sprintf("%s:%d", addr, port))
		if err != nil {
			for _, existing := range s.listeners {
				existing.Close()
			}
			return nil, ferrors.New(ferrors.KindSocketCreation, fmt.Sprintf("binding %s %s:%d", network, addr, port), err)
		}
		if cfg.TLS != nil {
			ln = tls.NewListener(ln, cfg.TLS)
		}
		s.listeners = append(s.listeners, ln)
	}
	return s, nil
}

// Serve runs the accept loop on every listener until Shutdown closes the
// listeners or an accept fails. It blocks until all listeners stop.
// Canceling ctx does not stop the accept loops; ctx is passed on to each
// connection's protocol callbacks.
func (s *Server) Serve(ctx context.Context) error {
	for _, ln := range s.listeners {
		ln := ln
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptLoop(ctx, ln)
		}()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.endpoint.ShuttingDown() {
				return
			}
			log.WithComponent("server").Warn().Err(err).Msg("accept failed")
			return
		}
		go s.handleAccepted(ctx, conn)
	}
}

func (s *Server) handleAccepted(ctx context.Context, socket net.Conn) {
	conn := pool.NewConnection(uuid.NewString(), socket, pool.Persistent)
	populatePeerIdentity(conn, socket)

	if s.pool.IsFull() {
		s.endpoint.SendMessage(conn, "Too many connections", true)
		s.endpoint.CloseConnection(conn)
		return
	}

	s.pool.Add(conn)
	defer s.pool.Remove(conn.ID)

	if err := s.endpoint.Protocol().Authenticate(ctx, conn); err != nil {
		s.endpoint.SendMessage(conn, "Could not authenticate", true)
		s.endpoint.CloseConnection(conn)
		return
	}

	s.endpoint.ReceiveLoop(ctx, conn)
}

// Shutdown runs the graceful shutdown order: block new reader tasks,
// run the pre-shutdown hook, close every live connection, close every
// listening socket, then run the post-shutdown hook. Wrapped in a
// blocking.Do scope so a mid-shutdown signal cannot leave sockets
// half-closed.
func (s *Server) Shutdown() {
	blocking.Do(func() {
		s.endpoint.BeginShutdown()
		if s.hooks.PreShutdown != nil {
			s.hooks.PreShutdown()
		}

		for _, conn := range s.pool.GetConnections() {
			s.endpoint.CloseConnection(conn)
		}

		s.mu.Lock()
		listeners := s.listeners
		s.mu.Unlock()
		for _, ln := range listeners {
			_ = ln.Close()
		}

		if s.hooks.PostShutdown != nil {
			s.hooks.PostShutdown()
		}
	})
	s.wg.Wait()
}
