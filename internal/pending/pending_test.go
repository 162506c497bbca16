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

package pending

import "testing"

func TestAddRejectsDuplicateSerial(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Add(1, func(uint32, interface{}, bool) {}, nil, 0); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := tbl.Add(1, func(uint32, interface{}, bool) {}, nil, 0); err == nil {
		t.Fatalf("expected an error re-using serial 1")
	}
}

func TestResolveInvokesCallbackAndRemoves(t *testing.T) {
	tbl := NewTable()
	var gotSerial uint32
	var gotReply interface{}
	var gotTimedOut bool
	called := 0

	tbl.Add(1, func(serial uint32, reply interface{}, timedOut bool) {
		called++
		gotSerial, gotReply, gotTimedOut = serial, reply, timedOut
	}, "userdata", 0)

	if ok := tbl.Resolve(1, "the reply"); !ok {
		t.Fatalf("Resolve reported serial 1 as not found")
	}
	if called != 1 {
		t.Fatalf("callback invoked %d times, want 1", called)
	}
	if gotSerial != 1 || gotReply != "the reply" || gotTimedOut {
		t.Errorf("callback args = (%d, %v, %v)", gotSerial, gotReply, gotTimedOut)
	}

	if ok := tbl.Resolve(1, "second reply"); ok {
		t.Fatalf("Resolve found serial 1 a second time")
	}
}

func TestResolveUnknownSerialIsNoop(t *testing.T) {
	tbl := NewTable()
	if ok := tbl.Resolve(42, nil); ok {
		t.Fatalf("Resolve reported an unknown serial as found")
	}
}

func TestCancelSuppressesLaterResolve(t *testing.T) {
	tbl := NewTable()
	called := false
	tbl.Add(1, func(uint32, interface{}, bool) { called = true }, nil, 0)

	if ok := tbl.Cancel(1); !ok {
		t.Fatalf("Cancel reported serial 1 as not found")
	}
	if ok := tbl.Cancel(1); ok {
		t.Fatalf("Cancel found serial 1 a second time")
	}
	if ok := tbl.Resolve(1, "too late"); ok {
		t.Fatalf("Resolve found a cancelled serial")
	}
	if called {
		t.Errorf("cancelled entry's callback was invoked")
	}
}

func TestDropClearsEverythingWithoutInvokingCallbacks(t *testing.T) {
	tbl := NewTable()
	called := false
	tbl.Add(1, func(uint32, interface{}, bool) { called = true }, nil, 100)
	tbl.Add(2, func(uint32, interface{}, bool) { called = true }, nil, 0)

	tbl.Drop()

	if tbl.Len() != 0 {
		t.Errorf("Len() = %d after Drop, want 0", tbl.Len())
	}
	if _, ok := tbl.NextDeadline(); ok {
		t.Errorf("NextDeadline reported a deadline after Drop")
	}
	if called {
		t.Errorf("Drop invoked a callback")
	}
}

func TestNextDeadlineTracksTheSoonestEntry(t *testing.T) {
	tbl := NewTable()
	tbl.Add(1, func(uint32, interface{}, bool) {}, nil, 500)
	tbl.Add(2, func(uint32, interface{}, bool) {}, nil, 100)
	tbl.Add(3, func(uint32, interface{}, bool) {}, nil, 300)

	d, ok := tbl.NextDeadline()
	if !ok || d != 100 {
		t.Fatalf("NextDeadline = (%d, %v), want (100, true)", d, ok)
	}

	// Resolving the soonest entry should expose the next-soonest.
	tbl.Resolve(2, nil)
	d, ok = tbl.NextDeadline()
	if !ok || d != 300 {
		t.Fatalf("NextDeadline after resolving soonest = (%d, %v), want (300, true)", d, ok)
	}
}

func TestNoDeadlineEntryIsExcludedFromTheHeap(t *testing.T) {
	tbl := NewTable()
	tbl.Add(1, func(uint32, interface{}, bool) {}, nil, 0)
	if _, ok := tbl.NextDeadline(); ok {
		t.Fatalf("NextDeadline reported a deadline for a no-timeout entry")
	}
}

func TestExpireOneRemovesOnlyEntriesAtOrBeforeNow(t *testing.T) {
	tbl := NewTable()
	tbl.Add(1, func(uint32, interface{}, bool) {}, "a", 100)
	tbl.Add(2, func(uint32, interface{}, bool) {}, "b", 200)

	if _, _, _, ok := tbl.ExpireOne(50); ok {
		t.Fatalf("ExpireOne fired before any deadline passed")
	}

	serial, userData, cb, ok := tbl.ExpireOne(100)
	if !ok || serial != 1 || userData != "a" || cb == nil {
		t.Fatalf("ExpireOne(100) = (%d, %v, %v, %v)", serial, userData, cb, ok)
	}

	if ok := tbl.Resolve(1, nil); ok {
		t.Fatalf("expired serial 1 is still in the table")
	}

	if _, ok := tbl.NextDeadline(); !ok {
		t.Fatalf("serial 2 should still be pending")
	}
}

func TestLookupReturnsUserData(t *testing.T) {
	tbl := NewTable()
	tbl.Add(7, func(uint32, interface{}, bool) {}, "payload", 0)

	ud, ok := tbl.Lookup(7)
	if !ok || ud != "payload" {
		t.Fatalf("Lookup(7) = (%v, %v), want (\"payload\", true)", ud, ok)
	}

	if _, ok := tbl.Lookup(99); ok {
		t.Fatalf("Lookup reported an unknown serial as pending")
	}
}

func TestHeapBackReferenceSurvivesManyInsertsAndRemoves(t *testing.T) {
	tbl := NewTable()
	for i := uint32(1); i <= 20; i++ {
		deadline := int64((21 - i) * 10)
		tbl.Add(i, func(uint32, interface{}, bool) {}, nil, deadline)
	}

	// Cancel every other entry, then drain the rest via ExpireOne in
	// increasing deadline order to make sure Swap kept heapIndex correct
	// for the surviving entries.
	for i := uint32(1); i <= 20; i += 2 {
		if ok := tbl.Cancel(i); !ok {
			t.Fatalf("Cancel(%d) failed", i)
		}
	}

	count := 0
	for {
		_, _, _, ok := tbl.ExpireOne(1 << 30)
		if !ok {
			break
		}
		count++
	}
	if count != 10 {
		t.Fatalf("drained %d entries, want 10", count)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d after draining, want 0", tbl.Len())
	}
}
