// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package dbus

import "fmt"

// Error is the taxonomy of failures a Connection can report (spec.md §7).
// Callers compare a returned error's Kind, or the error itself against
// the sentinel values below, the way bazilfuse.Errno let a FileSystem
// compare against EIO/ENOENT/ENOSYS in the teacher.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("dbus: %s: %s", e.Kind, e.Message) }

// Kind categorizes an Error.
type Kind int

const (
	// KindConfiguration: a setter was invoked in the wrong state, or an
	// impossible combination of roles was requested (server ∧ bus-client).
	KindConfiguration Kind = iota
	// KindNotConnected: an operation was attempted before OPENING or after
	// CLOSED.
	KindNotConnected
	// KindProtocol: malformed framing, a pre-HELLO message, a mismatched
	// HELLO reply, or a header version newer than this connection
	// negotiated.
	KindProtocol
	// KindResourceExhausted: a queue is full, an allocation failed, or a
	// message carrying fds was sent on a transport without fd passing.
	KindResourceExhausted
	// KindTransport: I/O failure on the underlying fd. Terminal: the
	// connection is forced CLOSED after this is reported.
	KindTransport
	// KindTimeout: a method-call deadline expired.
	KindTimeout
	// KindFork: a process that inherited the connection across fork()
	// attempted to use it.
	KindFork
	// KindBusy: process() was invoked re-entrantly from within a dispatch
	// callback.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindNotConnected:
		return "not connected"
	case KindProtocol:
		return "protocol violation"
	case KindResourceExhausted:
		return "resource exhausted"
	case KindTransport:
		return "transport error"
	case KindTimeout:
		return "timeout"
	case KindFork:
		return "fork detected"
	case KindBusy:
		return "busy"
	default:
		return "unknown error"
	}
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinel *Error values returned where the C reference implementation
// returns a negative errno (-ETIMEDOUT, -ECHILD, -ENOBUFS, -EBUSY). They
// carry a Kind only; no errno value is attached.
var (
	ErrTimedOut  = newError(KindTimeout, "method call timed out")
	ErrFork      = newError(KindFork, "connection used by a process that inherited it across fork()")
	ErrNoBuffer  = newError(KindResourceExhausted, "no buffer space")
	ErrBusy      = newError(KindBusy, "process() called re-entrantly")
)
