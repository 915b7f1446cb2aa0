// Package transport implements the shared framing, dispatch and
// lifecycle plumbing used by both the socket server and client: how a
// message is delimited on the wire, how it is handed to a Protocol, and
// how a connection or whole endpoint shuts down.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/freedm/core/pkg/ferrors"
	"github.com/freedm/core/pkg/log"
	"github.com/freedm/core/pkg/pool"
)

// Framing selects how message boundaries are recognized on the wire.
type Framing int

const (
	// FramingBulk reads until EOF or Limit bytes, whichever comes first.
	FramingBulk Framing = iota
	// FramingLine reads up to Separator (default "\n"), honoring Limit.
	FramingLine
	// FramingChunked reads fixed-size chunks up to Limit total bytes.
	FramingChunked
)

// Message is one received unit of data plus its sending connection.
type Message struct {
	Data   []byte
	Sender *pool.Connection
}

// Protocol plugs endpoint-specific behavior into the shared transport
// loop. Every method has a default (logging, accepting) applied when no
// Protocol is supplied.
type Protocol interface {
	Authenticate(ctx context.Context, conn *pool.Connection) error
	HandleMessage(ctx context.Context, msg Message)
	HandleConnectionFailure(conn *pool.Connection, err error)
	HandlePeerDisconnect(conn *pool.Connection)
	HandleLimitExceedance(conn *pool.Connection, size int, inbound bool)
}

// DefaultProtocol implements Protocol with the transport's built-in
// fallback behavior: accept any peer, log and drop what it cannot
// otherwise act on.
type DefaultProtocol struct{}

func (DefaultProtocol) Authenticate(ctx context.Context, conn *pool.Connection) error { return nil }

func (DefaultProtocol) HandleMessage(ctx context.Context, msg Message) {
	log.WithComponent("transport").Debug().Int("bytes", len(msg.Data)).Msg("message received with no protocol installed")
}

func (DefaultProtocol) HandleConnectionFailure(conn *pool.Connection, err error) {
	log.WithComponent("transport").Warn().Err(err).Str("connection", conn.ID).Msg("connection failure")
}

func (DefaultProtocol) HandlePeerDisconnect(conn *pool.Connection) {
	log.WithComponent("transport").Debug().Str("connection", conn.ID).Msg("peer disconnected")
}

func (DefaultProtocol) HandleLimitExceedance(conn *pool.Connection, size int, inbound bool) {
	direction := "outbound"
	if inbound {
		direction = "inbound"
	}
	log.WithComponent("transport").Warn().Str("connection", conn.ID).Int("size", size).
		Str("direction", direction).Msg("message exceeded configured limit")
}

// EndpointConfig configures the shared transport behavior common to
// both servers and clients.
type EndpointConfig struct {
	Framing   Framing
	Separator byte // used by FramingLine; defaults to '\n'
	ChunkSize int  // used by FramingChunked
	Limit     int  // 0 means unlimited
	Protocol  Protocol
}

func (c EndpointConfig) protocol() Protocol {
	if c.Protocol != nil {
		return c.Protocol
	}
	return DefaultProtocol{}
}

// Protocol returns the endpoint's configured Protocol, or DefaultProtocol
// when none was supplied.
func (e *Endpoint) Protocol() Protocol {
	return e.Config.protocol()
}

func (c EndpointConfig) separator() byte {
	if c.Separator == 0 {
		return '\n'
	}
	return c.Separator
}

// Endpoint is the shared receive/dispatch/shutdown machinery embedded by
// both the server and the client.
type Endpoint struct {
	Config EndpointConfig

	shuttingDown chan struct{}
}

// NewEndpoint builds an Endpoint around cfg.
func NewEndpoint(cfg EndpointConfig) *Endpoint {
	return &Endpoint{Config: cfg, shuttingDown: make(chan struct{})}
}

// ShuttingDown reports whether BeginShutdown has been called.
func (e *Endpoint) ShuttingDown() bool {
	select {
	case <-e.shuttingDown:
		return true
	default:
		return false
	}
}

// BeginShutdown flips the shutdown flag, blocking new reader tasks from
// spawning. Safe to call more than once.
func (e *Endpoint) BeginShutdown() {
	select {
	case <-e.shuttingDown:
	default:
		close(e.shuttingDown)
	}
}

// SendMessage encodes text as UTF-8, appends the line separator in line
// mode, checks it against Limit, and writes it to conn's socket,
// draining the write. In EPHEMERAL mode the connection is closed right
// after. blocking controls whether SendMessage waits for the write (and
// returns its outcome) or returns true immediately after launching it.
func (e *Endpoint) SendMessage(conn *pool.Connection, text string, blocking bool) bool {
	payload := []byte(text)
	if e.Config.Framing == FramingLine {
		payload = append(payload, e.Config.separator())
	}

	if e.Config.Limit > 0 && len(payload) > e.Config.Limit {
		e.Config.protocol().HandleLimitExceedance(conn, len(payload), false)
		return false
	}

	write := func() bool {
		conn.RegisterWriteTask(conn.ID)
		defer conn.DeregisterWriteTask(conn.ID)

		if _, err := conn.Socket.Write(payload); err != nil {
			e.Config.protocol().HandleConnectionFailure(conn, ferrors.New(ferrors.KindMessageWriter, "write failed", err))
			return false
		}
		conn.Touch()
		if conn.State().Mode == pool.Ephemeral {
			e.CloseConnection(conn)
		}
		return true
	}

	if blocking {
		return write()
	}
	go write()
	return true
}

// ReceiveLoop runs the framing-specific read loop for conn, dispatching
// each message to the configured Protocol's HandleMessage until the
// endpoint shuts down, the connection closes, or a fatal read error
// occurs.
func (e *Endpoint) ReceiveLoop(ctx context.Context, conn *pool.Connection) {
	reader := bufio.NewReader(conn.Socket)
	consumed := 0
	for {
		if e.ShuttingDown() || conn.Closing() {
			return
		}

		data, err := e.readOne(reader, &consumed)
		if err != nil {
			if err == io.EOF {
				e.Config.protocol().HandlePeerDisconnect(conn)
			} else {
				e.Config.protocol().HandleConnectionFailure(conn, ferrors.New(ferrors.KindMessageReader, "read failed", err))
			}
			e.CloseConnection(conn)
			return
		}

		conn.Touch()
		taskID := fmt.Sprintf("%s-read-%d", conn.ID, time.Now().UnixNano())
		conn.RegisterReadTask(taskID)
		go func() {
			defer conn.DeregisterReadTask(taskID)
			e.Config.protocol().HandleMessage(ctx, Message{Data: data, Sender: conn})
		}()
	}
}

func (e *Endpoint) readOne(r *bufio.Reader, consumed *int) ([]byte, error) {
	switch e.Config.Framing {
	case FramingLine:
		line, err := r.ReadBytes(e.Config.separator())
		if err != nil {
			return nil, err
		}
		if e.Config.Limit > 0 && len(line) > e.Config.Limit {
			return nil, fmt.Errorf("line exceeded limit of %d bytes", e.Config.Limit)
		}
		return line, nil

	case FramingChunked:
		size := e.Config.ChunkSize
		if size <= 0 {
			size = 4096
		}
		if e.Config.Limit > 0 && e.Config.Limit < size {
			return nil, fmt.Errorf("chunked framing: limit %d is smaller than chunksize %d", e.Config.Limit, size)
		}
		if e.Config.Limit > 0 {
			remaining := e.Config.Limit - *consumed
			if remaining <= 0 {
				return nil, io.EOF
			}
			if remaining < size {
				size = remaining
			}
		}
		buf := make([]byte, size)
		n, err := r.Read(buf)
		if err != nil {
			return nil, err
		}
		*consumed += n
		return buf[:n], nil

	default: // FramingBulk
		limit := e.Config.Limit
		if limit <= 0 {
			return io.ReadAll(r)
		}
		return io.ReadAll(io.LimitReader(r, int64(limit)))
	}
}

// CloseConnection performs the shutdown discipline for one connection:
// best-effort EOF, a brief settle delay, closing the writer, then
// stamping its closed timestamp.
func (e *Endpoint) CloseConnection(conn *pool.Connection) {
	if conn.Closing() {
		return
	}
	if closer, ok := conn.Socket.(interface{ CloseWrite() error }); ok {
		_ = closer.CloseWrite()
	}
	time.Sleep(10 * time.Millisecond)
	_ = conn.Socket.Close()
	conn.MarkClosed()
}

// Shutdown cancels every outstanding task tracked via conns (by closing
// their connections, which causes their read/write loops to observe
// Closing() and return) and then closes each listening resource in
// closers. Run inside a blocking.Do scope so a mid-shutdown signal
// cannot interrupt it.
func (e *Endpoint) Shutdown(conns []*pool.Connection, closers ...io.Closer) {
	e.BeginShutdown()
	for _, c := range conns {
		e.CloseConnection(c)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.WithComponent("transport").Warn().Err(err).Msg("error closing listening resource")
		}
	}
}
