// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dbus

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"github.com/jacobsa/gcloud/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/jacobsa/dbus/address"
	"github.com/jacobsa/dbus/internal/calllist"
	"github.com/jacobsa/dbus/internal/pending"
	"github.com/jacobsa/dbus/internal/queue"
	"github.com/jacobsa/dbus/transport"
)

// DefaultTimeoutUsec is the default method-call deadline (spec.md §6).
const DefaultTimeoutUsec = 25 * 1000 * 1000

// NoTimeout disables a method call's deadline, per the usec = -1 contract
// in spec.md §4.4.
const NoTimeout int64 = -1

// Connection is the root object of this package: a long-lived state
// machine that owns a transport's fds, a send queue and a receive queue,
// a pending-reply table, and filter/match lists, and that drives itself
// through the UNSET -> OPENING -> AUTHENTICATING -> HELLO -> RUNNING ->
// CLOSED state machine in response to repeated calls to Process.
//
// A Connection must not be used concurrently from multiple threads; it
// cooperates with at most one external event loop. See spec.md §5.
type Connection struct {
	cfg ConnectionConfig

	debugLogger *log.Logger
	errorLogger *log.Logger

	clock timeutil.Clock

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	state State
	// GUARDED_BY(mu)
	target address.Address
	// GUARDED_BY(mu)
	xport transport.Transport

	// GUARDED_BY(mu)
	uniqueName string
	// GUARDED_BY(mu)
	guid string
	// GUARDED_BY(mu)
	helloSerial uint32

	// GUARDED_BY(mu)
	sendSerial uint32

	refCount int32

	pid int

	// GUARDED_BY(mu)
	outgoing *queue.Outgoing
	// GUARDED_BY(mu)
	incoming *queue.Incoming
	// GUARDED_BY(mu)
	pendingTable *pending.Table
	// GUARDED_BY(mu)
	filters *calllist.List
	// GUARDED_BY(mu)
	matches *calllist.List

	// GUARDED_BY(mu)
	processing bool

	// GUARDED_BY(mu)
	lastConnectErr error

	closeNotify chan struct{}
}

// New creates a Connection in StateUnset. Configure it with the
// ConnectionConfig setters, then call Open.
func New() *Connection {
	c := &Connection{
		state:        StateUnset,
		pid:          os.Getpid(),
		refCount:     1,
		outgoing:     queue.NewOutgoing(queue.DefaultMaxDepth),
		incoming:     queue.NewIncoming(queue.DefaultMaxDepth),
		pendingTable: pending.NewTable(),
		filters:      &calllist.List{},
		matches:      &calllist.List{},
		clock:        timeutil.RealClock(),
		closeNotify:  make(chan struct{}),
		debugLogger:  getLogger(),
		errorLogger:  log.New(os.Stderr, "dbus: ", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	c.cfg.objectDispatcher = NoopObjectDispatcher{}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

// checkInvariants is the hook syncutil.InvariantMutex runs on every
// Lock/Unlock in builds with invariant checking enabled, the same
// convention connection.go's GUARDED_BY comments document informally in
// the teacher. It currently checks nothing.
func (c *Connection) checkInvariants() {
	if c.pendingTable == nil {
		return
	}
	// A finite-deadline pending reply must have a deadline entry; Table's
	// own bookkeeping (its heap + map pair updated atomically in Add/
	// Resolve/Cancel/ExpireOne) is what guarantees this. Table exposes no
	// view of its heap, so this hook does not verify it and never panics.
}

// ref increments the reference count and returns c, mirroring the
// strong-reference-at-entry pattern connection.go's design notes describe
// for keeping a connection alive while its own callbacks run (spec.md §9
// "Self-referential cleanup").
func (c *Connection) ref() *Connection {
	atomic.AddInt32(&c.refCount, 1)
	return c
}

func (c *Connection) unref() {
	atomic.AddInt32(&c.refCount, -1)
}

// checkFork returns ErrFork if this process is not the one that created
// c, per spec.md §3's fork-detection invariant and §9's design note: every
// public entry point must make this check before touching any fd.
func (c *Connection) checkFork() error {
	if os.Getpid() != c.pid {
		return ErrFork
	}
	return nil
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UniqueName returns the bus-assigned unique name, valid once State() has
// reached StateRunning on a bus-client connection.
func (c *Connection) UniqueName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uniqueName
}

// GUID returns the value of the guid key of the address the connection
// dialed, or "" if it had none. The value is not validated, and a GUID
// sent by the server during the SASL handshake is not recorded.
func (c *Connection) GUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guid
}

// nextSerial returns the next send serial, which is never zero and never
// reused (spec.md §3).
func (c *Connection) nextSerial() uint32 {
	c.sendSerial++
	return c.sendSerial
}

func (c *Connection) debugf(format string, args ...interface{}) {
	if c.debugLogger != nil {
		c.debugLogger.Printf(format, args...)
	}
}

func (c *Connection) errorf(format string, args ...interface{}) {
	if c.errorLogger != nil {
		c.errorLogger.Printf(format, args...)
	}
}

// forceClosedLocked transitions to StateClosed in response to a terminal
// transport or protocol error (spec.md §7: these are terminal). Must be
// called with c.mu held.
func (c *Connection) forceClosedLocked(reason error) {
	if c.state == StateClosed {
		return
	}
	c.lastConnectErr = reason
	c.state = StateClosed
	if c.xport != nil {
		c.xport.Close()
	}
	close(c.closeNotify)
	c.errorf("connection closed: %v", reason)
}

func (c *Connection) String() string {
	return fmt.Sprintf("dbus.Connection{state=%v unique=%q}", c.State(), c.UniqueName())
}
