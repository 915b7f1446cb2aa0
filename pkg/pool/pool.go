// Package pool implements the Connection record and the connection pool
// the transport layer registers every accepted or dialed connection
// into: a capacity-bounded set of session handles queryable by peer
// address, user, group, process and handler name.
package pool

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/freedm/core/pkg/ferrors"
)

// Mode distinguishes a connection that serves one request and closes
// from one that stays open across many.
type Mode int

const (
	// Ephemeral connections close after their first write completes.
	Ephemeral Mode = iota
	// Persistent connections stay open until explicitly closed.
	Persistent
)

func (m Mode) String() string {
	if m == Persistent {
		return "persistent"
	}
	return "ephemeral"
}

// State is a connection's lifecycle bundle: its mode plus the three
// monotonic timestamps the pool and transport layer use to answer idle
// and age queries.
type State struct {
	Mode    Mode
	Created time.Time
	Updated time.Time
	Closed  time.Time
}

// Connection is one registered session: a socket plus everything the
// transport and protocol layers need to identify and address its peer.
type Connection struct {
	ID string

	Socket net.Conn
	TLS    *tls.ConnectionState
	Cert   *x509.Certificate

	// Peer identity for UXD peers, extracted via SO_PEERCRED.
	PeerPID int
	PeerUID int
	PeerGID int

	// Peer/host address, populated for TCP connections.
	PeerAddr string
	HostAddr string

	Handler string

	mu          sync.Mutex
	state       State
	closing     bool
	readTasks   map[string]struct{}
	writeTasks  map[string]struct{}
}

// NewConnection wraps an accepted or dialed socket into a pool-ready
// Connection record.
func NewConnection(id string, socket net.Conn, mode Mode) *Connection {
	now := time.Now()
	return &Connection{
		ID:     id,
		Socket: socket,
		state: State{
			Mode:    mode,
			Created: now,
			Updated: now,
		},
		readTasks:  make(map[string]struct{}),
		writeTasks: make(map[string]struct{}),
	}
}

// Touch records activity on the connection, advancing its Updated
// timestamp for idle-time queries.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Updated = time.Now()
}

// State returns a snapshot of the connection's lifecycle bundle.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkClosed stamps the connection's closed timestamp and flips its
// closing flag, idempotently.
func (c *Connection) MarkClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return
	}
	c.closing = true
	c.state.Closed = time.Now()
}

// Closing reports whether the connection has begun (or finished)
// closing.
func (c *Connection) Closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// RegisterReadTask records an outstanding read-handler task by name,
// e.g. a task ID or goroutine tag, so the transport's shutdown path can
// account for it.
func (c *Connection) RegisterReadTask(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTasks[name] = struct{}{}
}

// DeregisterReadTask removes a previously registered read task.
func (c *Connection) DeregisterReadTask(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.readTasks, name)
}

// RegisterWriteTask records an outstanding write-handler task by name.
func (c *Connection) RegisterWriteTask(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeTasks[name] = struct{}{}
}

// DeregisterWriteTask removes a previously registered write task.
func (c *Connection) DeregisterWriteTask(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.writeTasks, name)
}

// OutstandingTasks returns the number of read and write tasks still
// registered against this connection.
func (c *Connection) OutstandingTasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readTasks) + len(c.writeTasks)
}

// Pool is a capacity-bounded, concurrency-safe set of Connections.
type Pool struct {
	mu          sync.RWMutex
	max         int
	connections map[string]*Connection
}

// New constructs a Pool. A max of 0 means unbounded.
func New(max int) *Pool {
	return &Pool{max: max, connections: make(map[string]*Connection)}
}

// Max returns the pool's configured capacity (0 = unbounded).
func (p *Pool) Max() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.max
}

// SetMax changes the pool's capacity. Lowering it below the current
// connection count fails, mirroring the rule that a pool may never be
// shrunk out from under connections it already admitted.
func (p *Pool) SetMax(max int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if max > 0 && max < len(p.connections) {
		return ferrors.New(ferrors.KindConnectionPoolMax,
			fmt.Sprintf("cannot lower pool max to %d below current size %d", max, len(p.connections)), nil)
	}
	p.max = max
	return nil
}

// IsFull reports whether the pool is at or over capacity.
func (p *Pool) IsFull() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.max > 0 && len(p.connections) >= p.max
}

// Add registers a connection, self-removing from the pool being the
// caller's responsibility once its serving task completes.
func (p *Pool) Add(c *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections[c.ID] = c
}

// Remove drops a connection from the pool by ID.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.connections, id)
}

// Size returns the current connection count.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

// GetConnections returns every connection currently registered.
func (p *Pool) GetConnections() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Connection, 0, len(p.connections))
	for _, c := range p.connections {
		out = append(out, c)
	}
	return out
}

// GetByAddress returns every connection whose peer or host address
// matches addr.
func (p *Pool) GetByAddress(addr string) []*Connection {
	return p.filter(func(c *Connection) bool {
		return c.PeerAddr == addr || c.HostAddr == addr
	})
}

// GetByUser returns every UXD connection whose peer UID matches uid.
func (p *Pool) GetByUser(uid int) []*Connection {
	return p.filter(func(c *Connection) bool { return c.PeerUID == uid })
}

// GetByGroup returns every UXD connection whose peer GID matches gid.
func (p *Pool) GetByGroup(gid int) []*Connection {
	return p.filter(func(c *Connection) bool { return c.PeerGID == gid })
}

// GetByProcess returns every UXD connection whose peer PID matches pid.
func (p *Pool) GetByProcess(pid int) []*Connection {
	return p.filter(func(c *Connection) bool { return c.PeerPID == pid })
}

// GetByHandler returns every connection registered under the named
// protocol handler.
func (p *Pool) GetByHandler(handler string) []*Connection {
	return p.filter(func(c *Connection) bool { return c.Handler == handler })
}

// GetIdleSince returns every connection whose last activity is at least
// the given duration in the past.
func (p *Pool) GetIdleSince(d time.Duration) []*Connection {
	cutoff := time.Now().Add(-d)
	return p.filter(func(c *Connection) bool {
		return c.State().Updated.Before(cutoff)
	})
}

func (p *Pool) filter(pred func(*Connection) bool) []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Connection
	for _, c := range p.connections {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}
