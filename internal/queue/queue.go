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

// Package queue implements the connection's two message queues: a bounded
// FIFO of outgoing messages with partial-write bookkeeping, and a growable,
// bounded-capacity FIFO of incoming messages.
package queue

import (
	"errors"

	"github.com/jacobsa/dbus/wire"
)

// DefaultMaxDepth is the default bound on both queues (~128 per the spec).
const DefaultMaxDepth = 128

// ErrFull is returned by Outgoing.Push when the queue has no more room.
var ErrFull = errors.New("dbus/queue: no buffer space")

// Outgoing is the bounded FIFO of messages awaiting transmission. Slot 0
// may carry a partial-write byte index, recording how much of that
// message's wire bytes have already gone out, so a later flush can resume
// without re-serializing or re-allocating.
type Outgoing struct {
	max  int
	msgs []wire.Message

	// partialIndex is the byte offset already written of msgs[0]'s wire
	// form; zero if msgs[0] has not been partially written.
	partialIndex int
}

// NewOutgoing creates an outgoing queue bounded at max entries. The queue
// always has room for at least one slot after construction: a max of zero
// or less is replaced by DefaultMaxDepth.
func NewOutgoing(max int) *Outgoing {
	if max <= 0 {
		max = DefaultMaxDepth
	}
	return &Outgoing{max: max}
}

func (q *Outgoing) Len() int { return len(q.msgs) }
func (q *Outgoing) Empty() bool { return len(q.msgs) == 0 }

// Push appends msg at the tail. It fails with ErrFull if the queue is
// already at capacity.
func (q *Outgoing) Push(msg wire.Message) error {
	if len(q.msgs) >= q.max {
		return ErrFull
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

// Front returns the head message and its partial-write index, without
// removing it.
func (q *Outgoing) Front() (wire.Message, int, bool) {
	if len(q.msgs) == 0 {
		return nil, 0, false
	}
	return q.msgs[0], q.partialIndex, true
}

// RecordPartialWrite records that idx bytes of the head message's wire
// form have now been written.
func (q *Outgoing) RecordPartialWrite(idx int) {
	q.partialIndex = idx
}

// PopFront removes the fully-written head message and resets the
// partial-write index, shifting the remainder down.
func (q *Outgoing) PopFront() {
	if len(q.msgs) == 0 {
		return
	}
	copy(q.msgs, q.msgs[1:])
	q.msgs = q.msgs[:len(q.msgs)-1]
	q.partialIndex = 0
}

// Incoming is the growable-up-to-a-bound FIFO of messages read from the
// transport but not yet handed to process().
type Incoming struct {
	max  int
	msgs []wire.Message
}

func NewIncoming(max int) *Incoming {
	if max <= 0 {
		max = DefaultMaxDepth
	}
	return &Incoming{max: max}
}

func (q *Incoming) Len() int   { return len(q.msgs) }
func (q *Incoming) Empty() bool { return len(q.msgs) == 0 }
func (q *Incoming) Full() bool  { return len(q.msgs) >= q.max }

// Push appends a received message, failing with ErrFull once the bound is
// reached (the transport should stop reading until the queue drains).
func (q *Incoming) Push(msg wire.Message) error {
	if q.Full() {
		return ErrFull
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

// Pop removes and returns the oldest queued message.
func (q *Incoming) Pop() (wire.Message, bool) {
	if len(q.msgs) == 0 {
		return nil, false
	}
	m := q.msgs[0]
	copy(q.msgs, q.msgs[1:])
	q.msgs = q.msgs[:len(q.msgs)-1]
	return m, true
}
