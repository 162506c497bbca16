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

// Package pending implements the connection's pending-reply table: a map
// from outgoing serial to a callback and deadline, cross-linked with a
// deadline-ordered heap so the next timeout can be found in O(log n) and
// removed in O(log n) without a linear scan.
//
// Not safe for concurrent use; the connection's own mutex guards it, the
// way connection.go guards Connection.cancelFuncs in the teacher.
package pending

import (
	"container/heap"
)

// Callback is invoked at most once, either with the real reply or with a
// synthetic timeout error, and then the record is gone. Cancel and Drop
// remove a record without invoking its callback.
type Callback func(serial uint32, reply interface{}, timedOut bool)

// record is one pending method call. heapIndex is the back-reference that
// lets Table.Cancel and Table.Resolve remove an arbitrary entry from the heap
// in O(log n), per the spec's note that the back-reference must be
// preserved to avoid a linear scan.
type record struct {
	serial   uint32
	callback Callback
	userData interface{}
	deadline int64 // absolute microseconds; 0 means no deadline.

	heapIndex int // index into Table.heap, or -1 if not on the heap.
}

// Table is the pending-reply table plus its deadline heap, updated
// atomically as one unit per the spec's invariant that every finite-
// deadline entry appears in both.
type Table struct {
	bySerial map[uint32]*record
	heap     deadlineHeap
}

func NewTable() *Table {
	return &Table{bySerial: make(map[uint32]*record)}
}

// Add inserts a new pending reply. It is an error to reuse a serial still
// present in the table (serials are monotonic, so this should never
// happen in practice; it is checked defensively).
func (t *Table) Add(serial uint32, cb Callback, userData interface{}, deadlineUsec int64) error {
	if _, exists := t.bySerial[serial]; exists {
		return errDuplicateSerial(serial)
	}

	r := &record{
		serial:    serial,
		callback:  cb,
		userData:  userData,
		deadline:  deadlineUsec,
		heapIndex: -1,
	}
	t.bySerial[serial] = r

	if deadlineUsec != 0 {
		heap.Push(&t.heap, r)
	}
	return nil
}

// Len reports how many replies are outstanding.
func (t *Table) Len() int { return len(t.bySerial) }

// Lookup reports whether serial is pending, without removing it.
func (t *Table) Lookup(serial uint32) (userData interface{}, ok bool) {
	r, ok := t.bySerial[serial]
	if !ok {
		return nil, false
	}
	return r.userData, true
}

// Resolve removes the pending entry for serial (from both the map and the
// heap) and invokes its callback with the given reply. It is a no-op,
// returning false, if serial is not pending — e.g. because it was
// cancelled or already timed out.
func (t *Table) Resolve(serial uint32, reply interface{}) bool {
	r, ok := t.bySerial[serial]
	if !ok {
		return false
	}
	t.remove(r)
	r.callback(serial, reply, false)
	return true
}

// Cancel removes the pending entry for serial without invoking its
// callback; any reply that arrives later for this serial is silently
// discarded by the caller (it will no longer be found in the table).
func (t *Table) Cancel(serial uint32) bool {
	r, ok := t.bySerial[serial]
	if !ok {
		return false
	}
	t.remove(r)
	return true
}

// Drop removes every pending entry without invoking any callback, as
// close() does: callers observe no reply rather than a synthetic error.
func (t *Table) Drop() {
	t.bySerial = make(map[uint32]*record)
	t.heap = nil
}

// NextDeadline returns the soonest deadline among pending replies, if any.
func (t *Table) NextDeadline() (usec int64, ok bool) {
	if len(t.heap) == 0 {
		return 0, false
	}
	return t.heap[0].deadline, true
}

// ExpireOne removes and returns the single pending entry whose deadline is
// at or before nowUsec, if the earliest deadline has in fact passed. The
// caller (the connection's timeout-sweep step) is responsible for
// invoking its callback with timedOut = true.
func (t *Table) ExpireOne(nowUsec int64) (serial uint32, userData interface{}, cb Callback, ok bool) {
	if len(t.heap) == 0 || t.heap[0].deadline > nowUsec {
		return 0, nil, nil, false
	}
	r := heap.Pop(&t.heap).(*record)
	delete(t.bySerial, r.serial)
	return r.serial, r.userData, r.callback, true
}

func (t *Table) remove(r *record) {
	delete(t.bySerial, r.serial)
	if r.heapIndex >= 0 {
		heap.Remove(&t.heap, r.heapIndex)
	}
}

type duplicateSerialError uint32

func errDuplicateSerial(serial uint32) error { return duplicateSerialError(serial) }

func (e duplicateSerialError) Error() string {
	return "dbus/pending: serial already has a pending reply"
}

// deadlineHeap implements container/heap.Interface, ordered by deadline
// ascending. record.heapIndex is kept current by Swap so Table.remove can
// use heap.Remove directly instead of a linear scan.
type deadlineHeap []*record

func (h deadlineHeap) Len() int { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline < h[j].deadline }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *deadlineHeap) Push(x interface{}) {
	r := x.(*record)
	r.heapIndex = len(*h)
	*h = append(*h, r)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.heapIndex = -1
	*h = old[:n-1]
	return r
}
