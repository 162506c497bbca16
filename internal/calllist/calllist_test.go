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

package calllist

import (
	"testing"

	"github.com/jacobsa/dbus/wire"
)

func sealedSignal(t *testing.T) wire.Message {
	t.Helper()
	m := wire.NewSignal("/foo", "com.example.Iface", "Changed")
	if err := m.Seal(1); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return m
}

func TestDispatchRunsEveryEntryInOrder(t *testing.T) {
	l := &List{}
	var order []int
	l.Add(func(wire.Message) bool { order = append(order, 1); return false })
	l.Add(func(wire.Message) bool { order = append(order, 2); return false })
	l.Add(func(wire.Message) bool { order = append(order, 3); return false })

	if consumed := l.Dispatch(sealedSignal(t)); consumed {
		t.Fatalf("Dispatch reported consumed with no callback claiming the message")
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("call order = %v, want [1 2 3]", order)
	}
}

func TestDispatchStopsAtFirstConsumer(t *testing.T) {
	l := &List{}
	var order []int
	l.Add(func(wire.Message) bool { order = append(order, 1); return false })
	l.Add(func(wire.Message) bool { order = append(order, 2); return true })
	l.Add(func(wire.Message) bool { order = append(order, 3); return false })

	if consumed := l.Dispatch(sealedSignal(t)); !consumed {
		t.Fatalf("Dispatch did not report the message consumed")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("call order = %v, want [1 2]", order)
	}
}

func TestRemoveDetachesAnEntry(t *testing.T) {
	l := &List{}
	var called bool
	h := l.Add(func(wire.Message) bool { called = true; return false })
	l.Remove(h)

	l.Dispatch(sealedSignal(t))
	if called {
		t.Fatalf("removed entry was still invoked")
	}
	if l.Len() != 0 {
		t.Fatalf("Len() = %d after Remove, want 0", l.Len())
	}
}

func TestCallbackAddingAnEntryDuringDispatchRunsTheNewEntrySameRound(t *testing.T) {
	l := &List{}
	var order []string

	l.Add(func(wire.Message) bool {
		order = append(order, "first")
		l.Add(func(wire.Message) bool {
			order = append(order, "added-by-first")
			return false
		})
		return false
	})

	l.Dispatch(sealedSignal(t))

	if len(order) != 2 || order[0] != "first" || order[1] != "added-by-first" {
		t.Fatalf("call order = %v, want [first added-by-first]", order)
	}
}

func TestCallbackAddingAnEntryDoesNotDoubleInvokeExistingEntries(t *testing.T) {
	l := &List{}
	firstCalls := 0

	l.Add(func(wire.Message) bool {
		firstCalls++
		if firstCalls == 1 {
			l.Add(func(wire.Message) bool { return false })
		}
		return false
	})

	l.Dispatch(sealedSignal(t))

	if firstCalls != 1 {
		t.Fatalf("first entry invoked %d times for one Dispatch, want 1", firstCalls)
	}
}

func TestCallbackRemovingItselfDuringDispatchIsSafe(t *testing.T) {
	l := &List{}
	var h *Handle
	calls := 0
	h = l.Add(func(wire.Message) bool {
		calls++
		l.Remove(h)
		return false
	})
	l.Add(func(wire.Message) bool { return false })

	l.Dispatch(sealedSignal(t))

	if calls != 1 {
		t.Fatalf("self-removing entry invoked %d times, want 1", calls)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d after self-removal, want 1", l.Len())
	}
}

func TestDispatchOnEmptyListReportsNotConsumed(t *testing.T) {
	l := &List{}
	if l.Dispatch(sealedSignal(t)) {
		t.Fatalf("Dispatch on an empty list reported consumed")
	}
}

func TestSuccessiveDispatchesReuseEntries(t *testing.T) {
	l := &List{}
	calls := 0
	l.Add(func(wire.Message) bool { calls++; return false })

	l.Dispatch(sealedSignal(t))
	l.Dispatch(sealedSignal(t))

	if calls != 2 {
		t.Fatalf("calls = %d across two Dispatch calls, want 2", calls)
	}
}
