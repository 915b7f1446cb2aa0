// Package ferrors implements the typed error hierarchy that sits at every
// package boundary of this module: each error carries a Kind and a Fatal
// flag, and Install wires a process-wide handler that logs and, for fatal
// kinds, terminates the process after logging.
package ferrors

import (
	"fmt"
	"os"

	"github.com/freedm/core/pkg/log"
)

// Kind distinguishes the error categories named by the framework's error
// handling design. Policy per kind is documented on the constants below.
type Kind string

const (
	// KindSocketCreation covers bind/listen/dial failures. Non-fatal per
	// address; an endpoint only fails overall if every address failed.
	KindSocketCreation Kind = "socket_creation"
	// KindSocketShutdown covers failures closing a socket. Logged, cleanup continues.
	KindSocketShutdown Kind = "socket_shutdown"
	// KindMessageWriter covers failures writing/draining a connection.
	KindMessageWriter Kind = "message_writer"
	// KindMessageReader covers failures reading from a connection.
	KindMessageReader Kind = "message_reader"
	// KindMessageHandler covers a panic or error from a protocol's handleMessage.
	KindMessageHandler Kind = "message_handler"
	// KindMessageLimitOverrun covers an inbound or outbound message over the configured limit.
	KindMessageLimitOverrun Kind = "message_limit_overrun"
	// KindConnectionPoolMax covers an attempt to lower a pool's max below its current size.
	KindConnectionPoolMax Kind = "connection_pool_max"
	// KindAsyncLoopCreation covers failure to start a server/client run loop.
	KindAsyncLoopCreation Kind = "async_loop_creation"
	// KindAsyncLoopException covers an unhandled error surfacing from a run loop.
	KindAsyncLoopException Kind = "async_loop_exception"
	// KindModuleImport covers a missing optional dependency at startup. Always fatal.
	KindModuleImport Kind = "module_import"
	// KindUnsupportedOS covers a feature unavailable on the current OS (e.g. SO_PEERCRED).
	KindUnsupportedOS Kind = "unsupported_os"
)

// Error is the typed exception carried across package boundaries.
type Error struct {
	Kind    Kind
	Fatal   bool
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a non-fatal Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewFatal builds a fatal Error of the given kind.
func NewFatal(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Fatal: true, Message: message, Cause: cause}
}

// Handler reacts to an *Error surfaced by Install's process-wide hook.
type Handler func(err *Error)

// defaultHandler logs the error at error level. Exiting on a fatal error
// is done by Handle after the handler returns.
func defaultHandler(err *Error) {
	log.Logger.Error().Str("kind", string(err.Kind)).Err(err.Cause).Msg(err.Message)
}

var installed Handler = defaultHandler

// Install replaces the process-wide handler invoked by Handle. Passing nil
// restores the default handler.
func Install(h Handler) {
	if h == nil {
		h = defaultHandler
		installed = h
		return
	}
	installed = h
}

// Handle routes err through the installed handler and terminates the
// process if err.Fatal is set, mirroring the Python original's excepthook
// which called sys.exit() after logging a fatal exception.
func Handle(err *Error) {
	if err == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Logger.Error().Interface("panic", r).Msg("exception handler itself panicked")
			}
		}()
		installed(err)
	}()
	if err.Fatal {
		os.Exit(1)
	}
}
