// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package dbus

import (
	"context"

	"github.com/jacobsa/dbus/wire"
)

// ObjectDispatcher is the single external hook spec.md §1 carves the
// object/vtable dispatch layer out to: the last step of the dispatch
// pipeline (spec.md §4.5 step 9), tried only for method-calls that no
// filter, match, or built-in handled.
//
// Implementations reply on the connection themselves (e.g. via
// Connection.Send) and return true if they claimed the call; returning
// false causes the connection to send the automatic UnknownObject error
// reply in the caller's place.
type ObjectDispatcher interface {
	DispatchObject(ctx context.Context, conn *Connection, msg wire.Message) (claimed bool)
}

// NoopObjectDispatcher is the default ObjectDispatcher, embeddable the way
// NotImplementedFileSystem let a file system inherit ENOSYS defaults for
// methods it did not care to implement: it claims nothing, so every
// method-call that reaches it falls through to the connection's automatic
// UnknownObject reply.
type NoopObjectDispatcher struct{}

var _ ObjectDispatcher = NoopObjectDispatcher{}

func (NoopObjectDispatcher) DispatchObject(context.Context, *Connection, wire.Message) bool {
	return false
}
