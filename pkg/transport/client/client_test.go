package client

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/freedm/core/pkg/pool"
	"github.com/freedm/core/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProtocol struct {
	mu   sync.Mutex
	seen []string
}

func (p *recordingProtocol) Authenticate(ctx context.Context, conn *pool.Connection) error {
	return nil
}

func (p *recordingProtocol) HandleMessage(ctx context.Context, msg transport.Message) {
	p.mu.Lock()
	p.seen = append(p.seen, string(msg.Data))
	p.mu.Unlock()
}

func (p *recordingProtocol) HandleConnectionFailure(conn *pool.Connection, err error) {}
func (p *recordingProtocol) HandlePeerDisconnect(conn *pool.Connection)               {}
func (p *recordingProtocol) HandleLimitExceedance(conn *pool.Connection, size int, inbound bool) {
}

func (p *recordingProtocol) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

// listenUXD starts a listener on path and returns it along with a
// channel that receives each accepted server-side socket.
func listenUXD(t *testing.T, path string) (net.Listener, chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	return ln, accepted
}

func TestDialUXDConnectsAndReceivesMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")
	_, accepted := listenUXD(t, path)

	proto := &recordingProtocol{}
	c, err := DialUXD(Config{Transport: transport.EndpointConfig{Framing: transport.FramingLine, Protocol: proto}}, path)
	require.NoError(t, err)
	assert.True(t, c.Connected())

	server := <-accepted
	defer server.Close()

	go c.Run(context.Background())

	_, err = server.Write([]byte("hi\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return proto.count() == 1 }, time.Second, 5*time.Millisecond)

	c.Disconnect()
	assert.False(t, c.Connected())
}

func TestDisconnectIsSafeWithoutRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")
	listenUXD(t, path)

	c, err := DialUXD(Config{Transport: transport.EndpointConfig{Framing: transport.FramingLine}}, path)
	require.NoError(t, err)
	c.Disconnect()
	assert.False(t, c.Connected())
}
