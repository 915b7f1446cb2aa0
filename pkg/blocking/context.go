// Package blocking implements a scoped guard that defers SIGINT/SIGTERM
// delivery for the duration of a critical section, so that a termination
// signal arriving mid-shutdown does not leave sockets or backend files
// half-closed. Servers and the data store sync scheduler open this guard
// around their critical shutdown sections.
package blocking

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Context is a single nesting level of a blocking scope. Only the
// outermost Context in a goroutine-independent nesting chain actually
// installs/restores the process's signal handlers; inner ones just bump a
// depth counter, mirroring the Python original's context-manager nesting.
type Context struct {
	latched chan os.Signal
}

var (
	mu       sync.Mutex
	depth    int
	latchSig chan os.Signal
)

// Enter begins (or joins, if already inside one) a blocking scope. Call
// Exit when the critical section ends.
func Enter() *Context {
	mu.Lock()
	defer mu.Unlock()

	depth++
	if depth == 1 {
		latchSig = make(chan os.Signal, 2)
		signal.Notify(latchSig, syscall.SIGINT, syscall.SIGTERM)
	}
	return &Context{latched: latchSig}
}

// Exit ends the blocking scope. When the outermost scope exits, the
// original signal disposition is restored and, if a signal was latched
// while inside any nested scope, it is re-delivered to this process so the
// caller's own signal handling (if any) still observes it.
func (c *Context) Exit() {
	mu.Lock()
	defer mu.Unlock()

	depth--
	if depth > 0 {
		return
	}
	signal.Stop(latchSig)

	select {
	case sig := <-latchSig:
		relatch(sig)
	default:
	}
	latchSig = nil
}

// relatch re-raises a latched signal to this process after the guard has
// been torn down, so default (or externally installed) handling applies.
func relatch(sig os.Signal) {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return
	}
	_ = p.Signal(sig)
}

// Do runs fn inside a blocking scope, guaranteeing Exit is called even if
// fn panics.
func Do(fn func()) {
	ctx := Enter()
	defer ctx.Exit()
	fn()
}
