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
	"os"
	"time"

	"github.com/jacobsa/dbus/address"
	"github.com/jacobsa/dbus/transport"
)

// Open dials addrs (trying every descriptor, in order, per SPEC_FULL.md's
// "try next address on failure" address-list behavior) and blocks, driving
// Process in a loop, until the connection reaches StateRunning or every
// candidate has failed. If SetFD was used, addrs is ignored and the preset
// fd is used instead.
//
// Dialing is not exposed separately from Open: an application driving its
// own event loop calls Process after Open returns, as GetFD/GetEvents/
// GetTimeout direct it.
func (c *Connection) Open(ctx context.Context, addrs []address.Address) error {
	if err := c.requireUnset(); err != nil {
		return err
	}

	if c.cfg.presetFDSet {
		c.dialPresetFDLocked()
		return c.runUntilRunning(ctx)
	}

	if len(addrs) == 0 {
		return newError(KindConfiguration, "no addresses to try")
	}

	it := address.NewIterator(addrs)
	var lastErr error
	for {
		a, ok := it.Next()
		if !ok {
			return newError(KindTransport, "all addresses failed: %v", lastErr)
		}

		if err := c.dialOneLocked(a); err != nil {
			lastErr = err
			c.debugf("dial %v failed: %v", a, err)
			continue
		}

		if err := c.runUntilRunning(ctx); err != nil {
			lastErr = err
			c.debugf("handshake over %v failed: %v", a, err)
			continue
		}

		return nil
	}
}

// dialPresetFDLocked attaches the fd given to SetFD in place of dialing an
// address. If it was marked already-authenticated, the SASL handshake is
// skipped entirely by starting directly in StateAuthenticating; otherwise
// it starts in StateOpening like any freshly dialed stream transport, this
// side acting as the client, the same direction every other address kind
// in this file drives it.
func (c *Connection) dialPresetFDLocked() {
	s := transport.NewFromFD(c.cfg.presetFD)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.xport = s

	if c.cfg.presetFDAuthenticated {
		c.state = StateAuthenticating
		return
	}

	s.BeginAuth(transport.AuthConfig{
		Anonymous:       c.cfg.anonymous,
		Server:          c.cfg.serverMode,
		NegotiateFDs:    c.cfg.acceptFDs,
		UID:             os.Getuid(),
		AllowCookieAuth: c.cfg.allowCookieAuth,
	})
	c.state = StateOpening
}

// containerRootDir is where systemd-nspawn keeps the root filesystem of a
// named local container, so an x-container address's socket path can be
// resolved to a real host-side path without entering the container's
// mount namespace.
const containerRootDir = "/var/lib/machines/"

// dialOneLocked connects the transport for a single address candidate and
// begins the SASL handshake (spec.md §3). It leaves the connection in
// StateOpening on success, or in StateRunning for the kernel transport,
// which has no handshake.
func (c *Connection) dialOneLocked(a address.Address) error {
	var xport transport.Transport
	var authCap *transport.Stream

	switch a.Kind {
	case address.KindUnix:
		s, err := transport.DialUnix(a.Path, false)
		if err != nil {
			return newError(KindTransport, "%v", err)
		}
		xport, authCap = s, s

	case address.KindAbstract:
		s, err := transport.DialUnix(a.Path, true)
		if err != nil {
			return newError(KindTransport, "%v", err)
		}
		xport, authCap = s, s

	case address.KindTCP:
		ipv6 := a.Family == "ipv6"
		s, err := transport.DialTCP(a.Host, a.Port, ipv6)
		if err != nil {
			return newError(KindTransport, "%v", err)
		}
		xport, authCap = s, s

	case address.KindExec:
		s, err := transport.DialExec(a.Argv)
		if err != nil {
			return newError(KindTransport, "%v", err)
		}
		xport, authCap = s, s

	case address.KindContainer:
		// systemd-nspawn containers keep their root filesystem under
		// /var/lib/machines/<name> on the host; a.Path is the well-known
		// system bus socket path inside that filesystem, so dialing it is
		// the same unix-socket dial KindUnix does, just rooted under the
		// container's machine directory instead of the host's own root.
		s, err := transport.DialUnix(containerRootDir+a.Machine+a.Path, false)
		if err != nil {
			return newError(KindTransport, "%v", err)
		}
		xport, authCap = s, s

	case address.KindKernel:
		k, uniqueName, err := transport.Attach(a.Path, c.cfg.acceptFDs)
		if err != nil {
			return newError(KindTransport, "%v", err)
		}
		c.mu.Lock()
		c.xport = k
		c.uniqueName = uniqueName
		c.guid = a.GUID
		c.target = a
		c.state = StateRunning // kernel transport has no SASL and no HELLO.
		c.mu.Unlock()
		return nil

	default:
		return newError(KindConfiguration, "unsupported address kind %v", a.Kind)
	}

	authCap.BeginAuth(transport.AuthConfig{
		Anonymous:       c.cfg.anonymous,
		Server:          c.cfg.serverMode,
		NegotiateFDs:    c.cfg.acceptFDs,
		UID:             os.Getuid(),
		AllowCookieAuth: c.cfg.allowCookieAuth,
	})

	c.mu.Lock()
	c.xport = xport
	c.guid = a.GUID
	c.target = a
	c.state = StateOpening
	c.mu.Unlock()
	return nil
}

// runUntilRunning drives Process until the connection reaches StateRunning
// or StateClosed, or ctx is done.
func (c *Connection) runUntilRunning(ctx context.Context) error {
	for {
		c.mu.Lock()
		state := c.state
		lastErr := c.lastConnectErr
		c.mu.Unlock()

		if state == StateRunning {
			return nil
		}
		if state == StateClosed {
			if lastErr != nil {
				return lastErr
			}
			return newError(KindTransport, "connection closed during handshake")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Errors here are reflected into c.state/c.lastConnectErr by Process
		// itself (forceClosedLocked); the loop's top re-checks state next
		// time around, so there is nothing more to do with the return value.
		c.Process(ctx)

		time.Sleep(time.Millisecond)
	}
}
