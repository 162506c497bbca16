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
	"time"

	"github.com/jacobsa/dbus/transport"
)

// GetFD returns the file descriptor an external event loop should poll,
// or -1 if the connection has no transport yet or has been closed
// (spec.md §8).
func (c *Connection) GetFD() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.xport == nil || c.state == StateClosed {
		return -1
	}
	return c.xport.Fd()
}

// GetEvents returns the poll events an external event loop should watch
// for on GetFD, derived from state per spec.md §4.6: OPENING wants POLLOUT
// only (the initial NUL byte and AUTH line going out); AUTHENTICATING
// defers to the transport's own handshake I/O needs (POLLIN, plus POLLOUT
// iff it still has bytes to write); RUNNING/HELLO want POLLIN only while
// the receive queue is empty (so a queued message is drained by Process
// before more bytes are read) and POLLOUT iff the send queue is
// non-empty.
func (c *Connection) GetEvents() transport.PollEvents {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.xport == nil {
		return 0
	}

	switch c.state {
	case StateOpening:
		return transport.PollOut
	case StateAuthenticating:
		return c.xport.Events()
	case StateRunning, StateHello:
		var events transport.PollEvents
		if c.incoming.Empty() {
			events |= transport.PollIn
		}
		if !c.outgoing.Empty() {
			events |= transport.PollOut
		}
		return events
	default:
		return 0
	}
}

// GetTimeout returns how long an external event loop may wait before
// calling Process again, bounded by the nearest pending-reply deadline
// (spec.md §6, §8). ok is false if there is no pending deadline, in which
// case the event loop should wait indefinitely for I/O.
func (c *Connection) GetTimeout() (d time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if (c.state == StateRunning || c.state == StateHello) && !c.incoming.Empty() {
		return 0, true
	}

	usec, has := c.pendingTable.NextDeadline()
	if !has {
		return 0, false
	}

	now := c.clock.Now().UnixNano() / 1000
	remaining := usec - now
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining) * time.Microsecond, true
}
