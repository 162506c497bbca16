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
	"log"

	"github.com/jacobsa/dbus/address"
)

// ConnectionConfig holds the fields a Connection may be configured with
// before it is opened. Every setter below is rejected once the connection
// has left StateUnset, the same one-shot-configuration discipline
// connection.go's MountConfig applies to a single Mount call — here spread
// across however many setters a caller uses before Open.
type ConnectionConfig struct {
	busClient  bool
	serverMode bool
	anonymous  bool
	acceptFDs  bool
	allowCookieAuth bool

	presetFD              int
	presetFDSet           bool
	presetFDAuthenticated bool

	objectDispatcher ObjectDispatcher

	debugLogger *log.Logger
	errorLogger *log.Logger
}

// requireUnset is called by every configuration setter.
func (c *Connection) requireUnset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnset {
		return newError(KindConfiguration, "setter invoked in state %v, want UNSET", c.state)
	}
	return nil
}

// SetTarget records a transport descriptor on the connection. Open does
// not read it: Open dials the addresses passed to it and overwrites the
// recorded descriptor with each one it dials successfully.
func (c *Connection) SetTarget(a address.Address) error {
	if err := c.requireUnset(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = a
	return nil
}

// SetFD configures the connection to use an already-connected fd instead
// of dialing an address with Open — the path a socket-activated service or
// a test harness handing over a live socketpair end takes. If
// authenticated is true, fd is assumed to have already completed the SASL
// handshake (e.g. it was accept()ed by something that did EXTERNAL on its
// own) and Process skips straight past OPENING/AUTHENTICATING.
func (c *Connection) SetFD(fd int, authenticated bool) error {
	if err := c.requireUnset(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.presetFD = fd
	c.cfg.presetFDSet = true
	c.cfg.presetFDAuthenticated = authenticated
	return nil
}

// SetBusClient marks the connection as a message-bus client: it will issue
// HELLO once authenticated, unless the transport is the kernel transport
// (which has no HELLO step; spec.md §3).
func (c *Connection) SetBusClient(v bool) error {
	if err := c.requireUnset(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v && c.cfg.serverMode {
		return newError(KindConfiguration, "a connection cannot be both bus-client and server")
	}
	c.cfg.busClient = v
	return nil
}

// SetServerMode marks the connection as the accepting side of a peer-to-
// peer connection. The flag is passed to the transport's AuthConfig, but
// the SASL handshake always runs the client side: no server half of the
// handshake is implemented.
func (c *Connection) SetServerMode(v bool) error {
	if err := c.requireUnset(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v && c.cfg.busClient {
		return newError(KindConfiguration, "a connection cannot be both bus-client and server")
	}
	c.cfg.serverMode = v
	return nil
}

// SetAnonymous selects the ANONYMOUS SASL mechanism instead of EXTERNAL.
func (c *Connection) SetAnonymous(v bool) error {
	if err := c.requireUnset(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.anonymous = v
	return nil
}

// SetAllowCookieAuth permits falling back to DBUS_COOKIE_SHA1 when the
// server rejects EXTERNAL, on every stream transport (unix, abstract, tcp,
// unixexec, or a fd given to SetFD). It has no effect with SetAnonymous.
func (c *Connection) SetAllowCookieAuth(v bool) error {
	if err := c.requireUnset(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.allowCookieAuth = v
	return nil
}

// SetAcceptsFDs negotiates UNIX_FD passing during the SASL handshake.
func (c *Connection) SetAcceptsFDs(v bool) error {
	if err := c.requireUnset(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.acceptFDs = v
	return nil
}

// SetObjectDispatcher installs the external object-dispatch hook that
// handles every inbound method-call not claimed by a filter, a match, or
// the built-in peer interface (spec.md §4.5 step 9).
func (c *Connection) SetObjectDispatcher(d ObjectDispatcher) error {
	if err := c.requireUnset(); err != nil {
		return err
	}
	if d == nil {
		d = NoopObjectDispatcher{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.objectDispatcher = d
	return nil
}

// SetLoggers overrides the debug/error loggers used for protocol tracing
// and terminal-error reporting, matching connection.go's constructor
// accepting nilable debugLogger/errorLogger arguments.
func (c *Connection) SetLoggers(debug, errorLog *log.Logger) error {
	if err := c.requireUnset(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.debugLogger = debug
	c.cfg.errorLogger = errorLog
	c.debugLogger = debug
	c.errorLogger = errorLog
	return nil
}
