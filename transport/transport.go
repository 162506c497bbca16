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

// Package transport implements the two concrete D-Bus transports named in
// spec.md §4.2: a byte-stream transport (unix, abstract, tcp, unixexec)
// and the kernel datagram-pool transport. Both satisfy the same contract
// so the connection core never needs to know which one it is driving.
package transport

import (
	"errors"

	"github.com/jacobsa/dbus/wire"
)

// WriteOutcome is the result of one non-blocking Write attempt.
type WriteOutcome int

const (
	WriteDone WriteOutcome = iota
	WritePartial
	WriteWouldBlock
)

// ErrNotSupported is returned when a caller attempts to send fds before
// fd-passing capability has been negotiated and confirmed.
var ErrNotSupported = errors.New("dbus/transport: fd passing not supported on this connection")

// PollEvents mirrors the poll(2) event bitmask the event-loop integration
// layer needs.
type PollEvents int

const (
	PollIn  PollEvents = 1 << 0
	PollOut PollEvents = 1 << 1
)

// Transport is the common contract implemented by the stream and kernel
// transports.
type Transport interface {
	// Write attempts to send msg's wire bytes. *idx is the byte offset
	// already written from a previous partial attempt (0 for a fresh
	// message) and is updated in place. WritePartial is only ever returned
	// by the stream transport; the kernel transport's ioctl is all-or-
	// nothing.
	Write(msg wire.Message, idx *int) (WriteOutcome, error)

	// Read returns the next complete inbound message, or (nil, nil) if no
	// full message is currently available without blocking.
	Read() (wire.Message, error)

	// Fd returns the single fd suitable for poll(2) when input and output
	// share one descriptor (true for every transport this module
	// implements).
	Fd() int

	// Events reports which of PollIn/PollOut the transport currently
	// wants, given pending handshake or partial-write state.
	Events() PollEvents

	// SupportsFDPassing reports whether SCM_RIGHTS-style fd attachment has
	// been negotiated and confirmed with the peer.
	SupportsFDPassing() bool

	Close() error
}

// Authenticator is implemented by transports that require a SASL
// handshake before the D-Bus wire protocol begins (every transport except
// the kernel one).
type Authenticator interface {
	// AuthStep drives one step of the handshake. done is true once BEGIN
	// has been sent/received and ordinary message traffic may start.
	AuthStep() (done bool, err error)
}
