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

// Package calllist implements the ordered, mutation-safe callback list
// shared by the connection's filter list and match list (spec.md §3, §9
// "Callback invocation during list mutation"). A callback may add or
// remove entries — including itself — from within its own invocation; the
// iterator notices and restarts from the top, while a per-entry iteration
// stamp guarantees no entry runs twice against the same message.
package calllist

import "github.com/jacobsa/dbus/wire"

// Callback is invoked with an inbound message. It returns true if it
// consumed the message, which stops the dispatch for that message.
type Callback func(msg wire.Message) bool

// Handle identifies a registered entry for later removal.
type Handle struct {
	entry *entry
}

type entry struct {
	cb            Callback
	lastIteration uint64
	removed       bool
}

// List is an ordered list of callbacks. The zero value is ready to use.
type List struct {
	entries  []*entry
	iteration uint64
}

// Add appends cb to the end of the list and returns a Handle that Remove
// accepts.
func (l *List) Add(cb Callback) *Handle {
	e := &entry{cb: cb}
	l.entries = append(l.entries, e)
	return &Handle{entry: e}
}

// Remove detaches the entry named by h. Safe to call from within a
// callback that is itself running as part of Dispatch.
func (l *List) Remove(h *Handle) {
	if h == nil || h.entry == nil {
		return
	}
	h.entry.removed = true
	for i, e := range l.entries {
		if e == h.entry {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// Len reports the number of live entries.
func (l *List) Len() int { return len(l.entries) }

// Dispatch runs msg through every live callback in order, restarting the
// scan whenever a callback mutates the list, but never invoking the same
// entry twice for the same message (entries are stamped with the
// dispatch's iteration counter). It stops and returns true as soon as a
// callback reports the message consumed.
func (l *List) Dispatch(msg wire.Message) (consumed bool) {
	l.iteration++
	current := l.iteration

	i := 0
	for i < len(l.entries) {
		e := l.entries[i]
		if e.removed || e.lastIteration == current {
			i++
			continue
		}

		before := len(l.entries)
		e.lastIteration = current

		if e.cb(msg) {
			return true
		}

		if len(l.entries) != before || listMutated(l.entries, i, e) {
			// The callback added or removed an entry (possibly itself).
			// Restart the scan; already-stamped entries are skipped above.
			i = 0
			continue
		}
		i++
	}
	return false
}

// listMutated is a defensive check for the case where Add/Remove changed
// the slice length back to what it was (e.g. one add, one remove) without
// Dispatch's own length comparison catching it: if the entry just run is no
// longer at index i, something at or before i was removed and the entries
// after it have shifted.
func listMutated(entries []*entry, i int, ran *entry) bool {
	return i >= len(entries) || entries[i] != ran
}
