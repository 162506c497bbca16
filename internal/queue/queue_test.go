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

package queue

import (
	"testing"

	"github.com/jacobsa/dbus/wire"
)

func sealedSignal(t *testing.T, serial uint32) wire.Message {
	t.Helper()
	m := wire.NewSignal("/foo", "com.example.Iface", "Changed")
	if err := m.Seal(serial); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return m
}

func TestOutgoingPushFrontPopFront(t *testing.T) {
	q := NewOutgoing(0)
	if !q.Empty() {
		t.Fatalf("new queue is not empty")
	}

	a := sealedSignal(t, 1)
	b := sealedSignal(t, 2)
	if err := q.Push(a); err != nil {
		t.Fatalf("Push a: %v", err)
	}
	if err := q.Push(b); err != nil {
		t.Fatalf("Push b: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	front, idx, ok := q.Front()
	if !ok || front != a || idx != 0 {
		t.Fatalf("Front() = (%v, %d, %v), want (a, 0, true)", front, idx, ok)
	}

	q.RecordPartialWrite(5)
	_, idx, _ = q.Front()
	if idx != 5 {
		t.Fatalf("Front() idx = %d after RecordPartialWrite, want 5", idx)
	}

	q.PopFront()
	if q.Len() != 1 {
		t.Fatalf("Len() = %d after PopFront, want 1", q.Len())
	}
	front, idx, ok = q.Front()
	if !ok || front != b || idx != 0 {
		t.Fatalf("Front() after PopFront = (%v, %d, %v), want (b, 0, true)", front, idx, ok)
	}
}

func TestOutgoingPushFailsAtCapacity(t *testing.T) {
	q := NewOutgoing(2)
	if err := q.Push(sealedSignal(t, 1)); err != nil {
		t.Fatalf("Push 1: %v", err)
	}
	if err := q.Push(sealedSignal(t, 2)); err != nil {
		t.Fatalf("Push 2: %v", err)
	}
	if err := q.Push(sealedSignal(t, 3)); err != ErrFull {
		t.Fatalf("Push at capacity = %v, want ErrFull", err)
	}
}

func TestOutgoingPopFrontOnEmptyIsNoop(t *testing.T) {
	q := NewOutgoing(0)
	q.PopFront()
	if !q.Empty() {
		t.Fatalf("PopFront on an empty queue changed its emptiness")
	}
}

func TestIncomingPushPopPreservesOrder(t *testing.T) {
	q := NewIncoming(0)
	if !q.Empty() {
		t.Fatalf("new queue is not empty")
	}

	a := sealedSignal(t, 1)
	b := sealedSignal(t, 2)
	if err := q.Push(a); err != nil {
		t.Fatalf("Push a: %v", err)
	}
	if err := q.Push(b); err != nil {
		t.Fatalf("Push b: %v", err)
	}

	got, ok := q.Pop()
	if !ok || got != a {
		t.Fatalf("first Pop() = (%v, %v), want (a, true)", got, ok)
	}
	got, ok = q.Pop()
	if !ok || got != b {
		t.Fatalf("second Pop() = (%v, %v), want (b, true)", got, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop on a drained queue reported a message")
	}
}

func TestIncomingFullAndErrFull(t *testing.T) {
	q := NewIncoming(2)
	q.Push(sealedSignal(t, 1))
	if q.Full() {
		t.Fatalf("Full() true with one of two slots used")
	}
	q.Push(sealedSignal(t, 2))
	if !q.Full() {
		t.Fatalf("Full() false with two of two slots used")
	}
	if err := q.Push(sealedSignal(t, 3)); err != ErrFull {
		t.Fatalf("Push at capacity = %v, want ErrFull", err)
	}
}

func TestNewQueuesDefaultMaxDepthOnNonPositive(t *testing.T) {
	out := NewOutgoing(-1)
	for i := 0; i < DefaultMaxDepth; i++ {
		if err := out.Push(sealedSignal(t, uint32(i+1))); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if err := out.Push(sealedSignal(t, uint32(DefaultMaxDepth+1))); err != ErrFull {
		t.Fatalf("Push past DefaultMaxDepth = %v, want ErrFull", err)
	}
}
