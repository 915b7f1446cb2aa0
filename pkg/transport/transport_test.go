package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/freedm/core/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProtocol struct {
	mu       sync.Mutex
	received []string
}

func (p *recordingProtocol) Authenticate(ctx context.Context, conn *pool.Connection) error {
	return nil
}

func (p *recordingProtocol) HandleMessage(ctx context.Context, msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, string(msg.Data))
}

func (p *recordingProtocol) HandleConnectionFailure(conn *pool.Connection, err error) {}
func (p *recordingProtocol) HandlePeerDisconnect(conn *pool.Connection)               {}
func (p *recordingProtocol) HandleLimitExceedance(conn *pool.Connection, size int, inbound bool) {
}

func (p *recordingProtocol) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.received))
	copy(out, p.received)
	return out
}

func pipeConnection() (*pool.Connection, net.Conn) {
	server, client := net.Pipe()
	return pool.NewConnection("test", server, pool.Persistent), client
}

func TestSendMessageLineModeAppendsSeparator(t *testing.T) {
	conn, client := pipeConnection()
	defer client.Close()

	ep := NewEndpoint(EndpointConfig{Framing: FramingLine})

	done := make(chan bool, 1)
	go func() { done <- ep.SendMessage(conn, "hello", true) }()

	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(buf[:n]))
	assert.True(t, <-done)
}

func TestSendMessageRejectsOverLimit(t *testing.T) {
	conn, client := pipeConnection()
	defer client.Close()
	defer conn.Socket.Close()

	ep := NewEndpoint(EndpointConfig{Framing: FramingBulk, Limit: 3})
	ok := ep.SendMessage(conn, "toolong", true)
	assert.False(t, ok)
}

func TestReceiveLoopDispatchesLineFramedMessages(t *testing.T) {
	conn, client := pipeConnection()
	proto := &recordingProtocol{}
	ep := NewEndpoint(EndpointConfig{Framing: FramingLine, Protocol: proto})

	go ep.ReceiveLoop(context.Background(), conn)

	_, err := client.Write([]byte("ping\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(proto.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ping\n", proto.snapshot()[0])

	client.Close()
}

func TestChunkedFramingStopsAfterCeilLimitOverChunksizeReads(t *testing.T) {
	ep := NewEndpoint(EndpointConfig{Framing: FramingChunked, ChunkSize: 4, Limit: 10})
	r := bufio.NewReader(strings.NewReader("0123456789extra"))
	consumed := 0

	var reads [][]byte
	for {
		data, err := ep.readOne(r, &consumed)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		reads = append(reads, data)
	}

	require.Len(t, reads, 3)
	assert.Equal(t, "0123", string(reads[0]))
	assert.Equal(t, "4567", string(reads[1]))
	assert.Equal(t, "89", string(reads[2]))
}

func TestChunkedFramingRefusesWhenLimitIsSmallerThanChunksize(t *testing.T) {
	ep := NewEndpoint(EndpointConfig{Framing: FramingChunked, ChunkSize: 8, Limit: 4})
	r := bufio.NewReader(strings.NewReader("0123456789"))
	consumed := 0

	_, err := ep.readOne(r, &consumed)
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestCloseConnectionIsIdempotent(t *testing.T) {
	conn, client := pipeConnection()
	defer client.Close()

	ep := NewEndpoint(EndpointConfig{})
	ep.CloseConnection(conn)
	ep.CloseConnection(conn)
	assert.True(t, conn.Closing())
}

func TestShutdownFlagBlocksFurtherReceiveLoopIterations(t *testing.T) {
	conn, client := pipeConnection()
	defer client.Close()
	defer conn.Socket.Close()

	ep := NewEndpoint(EndpointConfig{Framing: FramingLine})
	ep.BeginShutdown()
	assert.True(t, ep.ShuttingDown())

	returned := make(chan struct{})
	go func() {
		ep.ReceiveLoop(context.Background(), conn)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("ReceiveLoop did not return promptly after shutdown flag was set")
	}
}
