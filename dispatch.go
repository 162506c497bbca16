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
	"context"

	"github.com/jacobsa/reqtrace"

	"github.com/jacobsa/dbus/transport"
	"github.com/jacobsa/dbus/wire"
)

const (
	peerInterface  = "org.freedesktop.DBus.Peer"
	busInterface   = "org.freedesktop.DBus"
	busPath        = "/org/freedesktop/DBus"
	busDestination = "org.freedesktop.DBus"
	helloMember    = "Hello"
)

// Process drives the connection's state machine and I/O one non-blocking
// step at a time (spec.md §4.5): it is the method an external event loop,
// or Open's internal blocking loop, calls whenever GetFD is readable or
// writable or GetTimeout has elapsed.
//
// Process never blocks. It returns promptly whether or not it made
// progress; a caller driving it in a tight loop without an event loop
// backing it will busy-spin, which is the caller's mistake to avoid, not
// this method's to prevent.
func (c *Connection) Process(ctx context.Context) error {
	if err := c.checkFork(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return ErrBusy
	}
	c.processing = true
	defer func() {
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
	}()

	var report reqtrace.ReportFunc
	_, report = reqtrace.StartSpan(ctx, "dbus.Process")
	var err error
	defer func() { report(err) }()

	switch c.state {
	case StateUnset, StateClosed:
		err = newError(KindNotConnected, "not connected")
		c.mu.Unlock()
		return err

	case StateOpening:
		err = c.stepOpeningLocked()

	case StateAuthenticating:
		err = c.stepAuthenticatingLocked()

	case StateHello, StateRunning:
		err = c.stepRunningLocked(ctx)

	default:
		err = newError(KindProtocol, "unknown state %v", c.state)
	}

	c.mu.Unlock()
	return err
}

// stepOpeningLocked begins the SASL handshake on a freshly connected
// transport. c.mu must be held.
func (c *Connection) stepOpeningLocked() error {
	auth, ok := c.xport.(transport.Authenticator)
	if !ok {
		// No handshake required (a transport with no Authenticator): skip
		// straight to AUTHENTICATING's post-handshake step.
		c.state = StateAuthenticating
		return c.stepAuthenticatingLocked()
	}

	done, err := auth.AuthStep()
	if err != nil {
		c.forceClosedLocked(err)
		return newError(KindProtocol, "sasl: %v", err)
	}
	if done {
		c.state = StateAuthenticating
		return c.stepAuthenticatingLocked()
	}
	return nil
}

// stepAuthenticatingLocked finishes driving SASL (if not already done) and,
// once it completes, either issues HELLO (bus clients) or moves straight to
// RUNNING. A fd handed to SetFD as already authenticated runs no SASL
// step. c.mu must be held.
func (c *Connection) stepAuthenticatingLocked() error {
	if auth, ok := c.xport.(transport.Authenticator); ok && !c.cfg.presetFDAuthenticated {
		done, err := auth.AuthStep()
		if err != nil {
			c.forceClosedLocked(err)
			return newError(KindProtocol, "sasl: %v", err)
		}
		if !done {
			return nil
		}
	}

	if !c.cfg.busClient {
		c.state = StateRunning
		c.debugf("connection running (peer-to-peer, no HELLO)")
		return nil
	}

	hello := wire.NewMethodCall(busPath, busInterface, helloMember, busDestination)
	serial := c.nextSerial()
	if err := hello.Seal(serial); err != nil {
		return newError(KindProtocol, "%v", err)
	}
	if err := c.writeOrEnqueueLocked(hello); err != nil {
		return err
	}
	c.helloSerial = serial
	c.state = StateHello
	c.debugf("sent HELLO, serial=%d", serial)
	return nil
}

// stepRunningLocked implements the core pipeline of spec.md §4.5: timeout
// sweep, outgoing flush, one inbound message dequeued and either consumed
// as the HELLO reply or run through reply correlation / filters / matches /
// the built-in peer interface / object dispatch / the automatic
// UnknownObject fallback. c.mu must be held.
func (c *Connection) stepRunningLocked(ctx context.Context) error {
	c.expireTimeoutsLocked()
	c.flushOutgoingLocked()
	if c.state == StateClosed {
		return c.lastConnectErr
	}

	msg, err := c.nextInboundLocked()
	if err != nil {
		c.forceClosedLocked(err)
		return newError(KindTransport, "read: %v", err)
	}
	if msg == nil {
		return nil
	}

	if c.state == StateHello {
		return c.handleHelloReplyLocked(msg)
	}

	c.dispatchLocked(ctx, msg)
	return nil
}

// expireTimeoutsLocked resolves any pending replies whose deadline has
// passed with a synthetic NoReply error (spec.md §6).
func (c *Connection) expireTimeoutsLocked() {
	now := c.clock.Now().UnixNano() / 1000
	for {
		serial, userData, cb, ok := c.pendingTable.ExpireOne(now)
		if !ok {
			return
		}
		errMsg := wire.NewError(serial, wire.ErrNoReply, "method call timed out")
		cb(serial, errMsg, true)
		_ = userData
	}
}

// nextInboundLocked returns the next available inbound message, preferring
// anything already re-enqueued by SendWithReplyAndBlock before reading more
// off the wire, to preserve arrival order.
func (c *Connection) nextInboundLocked() (wire.Message, error) {
	if m, ok := c.incoming.Pop(); ok {
		return m, nil
	}
	return c.xport.Read()
}

// handleHelloReplyLocked completes the HELLO step: spec.md §4.5 requires
// every message arriving in StateHello to be exactly HELLO's method_return
// (or an error); anything else is a protocol violation.
func (c *Connection) handleHelloReplyLocked(msg wire.Message) error {
	if (msg.Type() != wire.TypeMethodReturn && msg.Type() != wire.TypeMethodError) || msg.ReplySerial() != c.helloSerial {
		c.forceClosedLocked(newError(KindProtocol, "unexpected message while awaiting HELLO reply"))
		return c.lastConnectErr
	}
	if msg.Type() == wire.TypeMethodError {
		c.forceClosedLocked(newError(KindProtocol, "HELLO rejected: %v", msg.Err()))
		return c.lastConnectErr
	}
	if name, ok := msg.(interface{ Body() (string, bool) }); ok {
		if s, has := name.Body(); has {
			c.uniqueName = s
		}
	}
	c.state = StateRunning
	c.debugf("HELLO complete, unique name %q", c.uniqueName)
	return nil
}

// dispatchLocked runs one inbound message through reply correlation,
// filters, matches, the built-in peer interface, and object dispatch, in
// that order (spec.md §4.5 steps 6-9). c.mu must be held.
func (c *Connection) dispatchLocked(ctx context.Context, msg wire.Message) {
	if msg.Type() == wire.TypeMethodReturn || msg.Type() == wire.TypeMethodError {
		if c.pendingTable.Resolve(msg.ReplySerial(), msg) {
			return
		}
		// No one is waiting; an unmatched reply is simply dropped, same as
		// an unsolicited signal no match wants.
	}

	if c.filters.Dispatch(msg) {
		return
	}

	if c.matches.Dispatch(msg) {
		return
	}

	if msg.Type() != wire.TypeMethodCall {
		return
	}

	if c.dispatchPeerLocked(msg) {
		return
	}

	c.mu.Unlock()
	claimed := c.cfg.objectDispatcher.DispatchObject(ctx, c, msg)
	c.mu.Lock()
	if claimed {
		return
	}

	if msg.Flags()&wire.FlagNoReplyExpected != 0 {
		return
	}
	reply := wire.NewError(msg.Serial(), wire.ErrUnknownObject, "no object was dispatched at "+msg.Path())
	reply.SetDestination(msg.Sender())
	if err := c.sendReplyLocked(reply); err != nil {
		c.errorf("failed to send UnknownObject reply: %v", err)
	}
}

// dispatchPeerLocked answers the built-in org.freedesktop.DBus.Peer
// interface (spec.md scenarios 4-5: Ping and GetMachineId), which every
// connection answers regardless of what ObjectDispatcher is installed.
func (c *Connection) dispatchPeerLocked(msg wire.Message) bool {
	if msg.Interface() != "" && msg.Interface() != peerInterface {
		return false
	}

	switch msg.Member() {
	case "Ping":
		if msg.Interface() == "" {
			return false
		}
		if msg.Flags()&wire.FlagNoReplyExpected == 0 {
			reply := wire.NewMethodReturn(msg.Serial())
			reply.SetDestination(msg.Sender())
			if err := c.sendReplyLocked(reply); err != nil {
				c.errorf("failed to send Ping reply: %v", err)
			}
		}
		return true

	case "GetMachineId":
		if msg.Interface() == "" {
			return false
		}
		id, err := machineID()
		if err != nil {
			errReply := wire.NewError(msg.Serial(), wire.ErrUnknownMethod, err.Error())
			errReply.SetDestination(msg.Sender())
			c.sendReplyLocked(errReply)
			return true
		}
		reply := wire.NewMethodReturn(msg.Serial())
		reply.SetBody(id)
		reply.SetDestination(msg.Sender())
		if err := c.sendReplyLocked(reply); err != nil {
			c.errorf("failed to send GetMachineId reply: %v", err)
		}
		return true

	default:
		// spec.md §4.5 step 8: any other member on this interface is
		// answered with UnknownMethod rather than falling through to
		// object dispatch / the automatic UnknownObject reply.
		if msg.Interface() != peerInterface {
			return false
		}
		if msg.Flags()&wire.FlagNoReplyExpected != 0 {
			return true
		}
		reply := wire.NewError(msg.Serial(), wire.ErrUnknownMethod,
			"no such method "+msg.Member()+" on interface "+peerInterface)
		reply.SetDestination(msg.Sender())
		if err := c.sendReplyLocked(reply); err != nil {
			c.errorf("failed to send UnknownMethod reply: %v", err)
		}
		return true
	}
}

// sendReplyLocked seals and enqueues a reply constructed by the dispatch
// pipeline itself. c.mu must be held.
func (c *Connection) sendReplyLocked(msg wire.Message) error {
	serial := c.nextSerial()
	if err := msg.Seal(serial); err != nil {
		return err
	}
	return c.writeOrEnqueueLocked(msg)
}
