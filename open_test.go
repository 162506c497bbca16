// Copyright 2015 Google Inc. All Rights Reserved.

package dbus

import (
	"strings"
	"testing"

	"github.com/jacobsa/dbus/address"
)

// TestDialOneLockedWiresContainerKind confirms address.KindContainer reaches
// a real dial attempt (and so fails with a transport error for a
// nonexistent machine) instead of falling through dialOneLocked's default
// case for an unrecognized address kind.
func TestDialOneLockedWiresContainerKind(t *testing.T) {
	c := New()
	a := address.Address{
		Kind:    address.KindContainer,
		Machine: "no-such-machine-xyz",
		Path:    address.WellKnownSystemBusSocket,
	}

	err := c.dialOneLocked(a)
	if err == nil {
		t.Fatalf("dialOneLocked(%v) succeeded unexpectedly", a)
	}

	dbusErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("dialOneLocked error is %T, want *Error", err)
	}
	if dbusErr.Kind != KindTransport {
		t.Errorf("Kind = %v, want KindTransport (got %q)", dbusErr.Kind, dbusErr.Message)
	}
	if strings.Contains(dbusErr.Message, "unsupported address kind") {
		t.Errorf("dialOneLocked fell through to the unsupported-kind branch: %q", dbusErr.Message)
	}
}

// TestDialOneLockedRejectsUnknownKind confirms genuinely unrecognized kinds
// still hit the configuration-error default case, distinguishing it from
// KindContainer's now-wired path above.
func TestDialOneLockedRejectsUnknownKind(t *testing.T) {
	c := New()
	a := address.Address{Kind: address.Kind(99)}

	err := c.dialOneLocked(a)
	if err == nil {
		t.Fatalf("dialOneLocked(%v) succeeded unexpectedly", a)
	}
	dbusErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("dialOneLocked error is %T, want *Error", err)
	}
	if dbusErr.Kind != KindConfiguration {
		t.Errorf("Kind = %v, want KindConfiguration", dbusErr.Kind)
	}
}
