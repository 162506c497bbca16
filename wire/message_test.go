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

package wire

import "testing"

func TestSealRejectsZeroSerial(t *testing.T) {
	m := NewMethodCall("/foo", "com.example.Iface", "Method", "com.example.Dest")
	if err := m.Seal(0); err == nil {
		t.Fatalf("expected error sealing with a zero serial")
	}
}

func TestSealRejectsReseal(t *testing.T) {
	m := NewMethodCall("/foo", "com.example.Iface", "Method", "com.example.Dest")
	if err := m.Seal(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Seal(2); err == nil {
		t.Fatalf("expected error re-sealing")
	}
}

func TestMarshalUnmarshalMethodCallRoundTrip(t *testing.T) {
	m := NewMethodCall("/org/freedesktop/DBus", "org.freedesktop.DBus", "Hello", "org.freedesktop.DBus")
	m.SetSender(":1.42")
	m.SetBody("hello there")
	if err := m.Seal(7); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	frame, _, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	total, err := PeekFrameLength(frame[:HeaderLen])
	if err != nil {
		t.Fatalf("PeekFrameLength: %v", err)
	}
	if int(total) != len(frame) {
		t.Fatalf("PeekFrameLength = %d, want %d", total, len(frame))
	}

	got, err := Unmarshal(frame)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Type() != TypeMethodCall {
		t.Errorf("Type() = %v, want %v", got.Type(), TypeMethodCall)
	}
	if got.Serial() != 7 {
		t.Errorf("Serial() = %d, want 7", got.Serial())
	}
	if got.Path() != "/org/freedesktop/DBus" {
		t.Errorf("Path() = %q", got.Path())
	}
	if got.Interface() != "org.freedesktop.DBus" {
		t.Errorf("Interface() = %q", got.Interface())
	}
	if got.Member() != "Hello" {
		t.Errorf("Member() = %q", got.Member())
	}
	if got.Destination() != "org.freedesktop.DBus" {
		t.Errorf("Destination() = %q", got.Destination())
	}
	if got.Sender() != ":1.42" {
		t.Errorf("Sender() = %q", got.Sender())
	}
	body, ok := got.Body()
	if !ok || body != "hello there" {
		t.Errorf("Body() = (%q, %v), want (\"hello there\", true)", body, ok)
	}
}

func TestMarshalUnmarshalMethodReturnNoBody(t *testing.T) {
	m := NewMethodReturn(99)
	if err := m.Seal(1); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	frame, _, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(frame)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Type() != TypeMethodReturn {
		t.Errorf("Type() = %v", got.Type())
	}
	if got.ReplySerial() != 99 {
		t.Errorf("ReplySerial() = %d, want 99", got.ReplySerial())
	}
	if _, ok := got.Body(); ok {
		t.Errorf("expected no body")
	}
}

func TestMarshalUnmarshalErrorMessage(t *testing.T) {
	m := NewError(3, ErrUnknownMethod, "no such method")
	if err := m.Seal(5); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	frame, _, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(frame)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Type() != TypeMethodError {
		t.Errorf("Type() = %v", got.Type())
	}
	if got.ErrorName() != ErrUnknownMethod {
		t.Errorf("ErrorName() = %q", got.ErrorName())
	}
	if got.ReplySerial() != 3 {
		t.Errorf("ReplySerial() = %d, want 3", got.ReplySerial())
	}
}

func TestPeekFrameLengthRejectsShortHeader(t *testing.T) {
	if _, err := PeekFrameLength([]byte{'l', 1, 0}); err == nil {
		t.Fatalf("expected error on a short header")
	}
}

func TestPeekFrameLengthRejectsBadVersion(t *testing.T) {
	m := NewSignal("/foo", "com.example.Iface", "Changed")
	if err := m.Seal(1); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	frame, _, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	frame[3] = HeaderVersion + 1
	if _, err := PeekFrameLength(frame[:HeaderLen]); err == nil {
		t.Fatalf("expected error on an unsupported header version")
	}
}

func TestSetFlagsNoopAfterSeal(t *testing.T) {
	m := NewSignal("/foo", "com.example.Iface", "Changed")
	if err := m.Seal(1); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	before := m.Flags()
	m.SetFlags(before | FlagNoReplyExpected)
	if m.Flags() != before {
		t.Errorf("SetFlags mutated a sealed message")
	}
}

func TestNumFDsAndFDs(t *testing.T) {
	m := NewMethodCall("/foo", "com.example.Iface", "Method", "com.example.Dest")
	if m.NumFDs() != 0 {
		t.Fatalf("NumFDs() = %d, want 0", m.NumFDs())
	}
	m.SetFDs([]int{3, 4})
	if m.NumFDs() != 2 {
		t.Fatalf("NumFDs() = %d, want 2", m.NumFDs())
	}
	if got := m.FDs(); len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("FDs() = %v", got)
	}
}
