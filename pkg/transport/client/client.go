// Package client implements the single-connection UXD and TCP transport
// clients: dial, run the shared receive loop under an optional timeout,
// and disconnect cleanly.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freedm/core/pkg/ferrors"
	"github.com/freedm/core/pkg/pool"
	"github.com/freedm/core/pkg/transport"
)

// AddressFamily selects which IP family a TCP client resolves to. A
// client never dials both families at once (no DUAL), unlike the
// server.
type AddressFamily int

const (
	AddressAuto AddressFamily = iota
	AddressIPv4
	AddressIPv6
)

func (f AddressFamily) network() string {
	switch f {
	case AddressIPv4:
		return "tcp4"
	case AddressIPv6:
		return "tcp6"
	default:
		return "tcp"
	}
}

// Hooks are optional callbacks run around disconnect.
type Hooks struct {
	PreDisconnect  func()
	PostDisconnect func()
}

// Config configures a Client.
type Config struct {
	Transport transport.EndpointConfig
	Timeout   time.Duration // 0 disables the handler timeout
	Hooks     Hooks
	TLS       *tls.Config
}

// Client is a single-connection transport endpoint.
type Client struct {
	endpoint *transport.Endpoint
	cfg      Config

	mu     sync.Mutex
	conn   *pool.Connection
	cancel context.CancelFunc
	done   chan struct{}
}

func newClient(cfg Config) *Client {
	return &Client{endpoint: transport.NewEndpoint(cfg.Transport), cfg: cfg}
}

// DialUXD connects to a Unix domain socket at path.
func DialUXD(cfg Config, path string) (*Client, error) {
	socket, err := net.Dial("unix", path)
	if err != nil {
		return nil, ferrors.New(ferrors.KindSocketCreation, "dialing unix socket", err)
	}
	return newClientWithSocket(cfg, socket), nil
}

// DialTCP connects to host:port over the chosen address family,
// optionally upgrading to TLS (with SNI/hostname verification) when
// cfg.TLS is set.
func DialTCP(cfg Config, host string, port int, family AddressFamily) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	var socket net.Conn
	var err error
	if cfg.TLS != nil {
		tlsCfg := cfg.TLS.Clone()
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = host
		}
		socket, err = tls.Dial(family.network(), addr, tlsCfg)
	} else {
		socket, err = net.Dial(family.network(), addr)
	}
	if err != nil {
		return nil, ferrors.New(ferrors.KindSocketCreation, fmt.Sprintf("dialing %s", addr), err)
	}
	return newClientWithSocket(cfg, socket), nil
}

func newClientWithSocket(cfg Config, socket net.Conn) *Client {
	c := newClient(cfg)
	conn := pool.NewConnection(uuid.NewString(), socket, pool.Persistent)
	conn.PeerAddr = socket.RemoteAddr().String()
	conn.HostAddr = socket.LocalAddr().String()
	c.conn = conn
	return c
}

// Connected reports whether the client has an active, unclosed
// connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.Closing()
}

// Run authenticates and starts the receive loop, optionally bounded by
// cfg.Timeout (the connection is closed if the handler does not finish
// within it). Run blocks until the connection closes or the context is
// canceled.
func (c *Client) Run(ctx context.Context) error {
	if err := c.endpoint.Protocol().Authenticate(ctx, c.conn); err != nil {
		c.Disconnect()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	if c.cfg.Timeout > 0 {
		timer := time.AfterFunc(c.cfg.Timeout, func() {
			c.Disconnect()
		})
		defer timer.Stop()
	}

	go func() {
		c.endpoint.ReceiveLoop(runCtx, c.conn)
		close(c.done)
	}()

	select {
	case <-c.done:
	case <-runCtx.Done():
	}
	return nil
}

// SendMessage writes text to the server; see transport.Endpoint.SendMessage.
func (c *Client) SendMessage(text string, blocking bool) bool {
	return c.endpoint.SendMessage(c.conn, text, blocking)
}

// Disconnect cancels the handler, closes the connection, and runs the
// pre/post-disconnect hooks.
func (c *Client) Disconnect() {
	if c.cfg.Hooks.PreDisconnect != nil {
		c.cfg.Hooks.PreDisconnect()
	}

	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.endpoint.CloseConnection(conn)
	}

	if c.cfg.Hooks.PostDisconnect != nil {
		c.cfg.Hooks.PostDisconnect()
	}
}
