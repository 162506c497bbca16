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
	"context"
	"fmt"
	"os"

	"github.com/jacobsa/dbus/address"
)

// SystemBusAddress returns the D-Bus address string for the system bus:
// $DBUS_SYSTEM_BUS_ADDRESS if set, else the well-known system bus socket
// path (SPEC_FULL.md §Address Parser).
func SystemBusAddress() string {
	if a := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS"); a != "" {
		return a
	}
	return "unix:path=" + address.WellKnownSystemBusSocket
}

// SessionBusAddress returns the D-Bus address string for the calling
// user's session bus: $DBUS_SESSION_BUS_ADDRESS if set, else a unix socket
// under $XDG_RUNTIME_DIR/bus (SPEC_FULL.md §Address Parser).
func SessionBusAddress() (string, error) {
	if a := os.Getenv("DBUS_SESSION_BUS_ADDRESS"); a != "" {
		return a, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", newError(KindConfiguration, "neither DBUS_SESSION_BUS_ADDRESS nor XDG_RUNTIME_DIR is set")
	}
	return fmt.Sprintf("unix:path=%s/bus", runtimeDir), nil
}

// SystemBus opens and blocks until RUNNING a bus-client connection to the
// system bus.
func SystemBus(ctx context.Context) (*Connection, error) {
	return dialBusAddress(ctx, SystemBusAddress())
}

// SessionBus opens and blocks until RUNNING a bus-client connection to the
// calling user's session bus.
func SessionBus(ctx context.Context) (*Connection, error) {
	addrStr, err := SessionBusAddress()
	if err != nil {
		return nil, err
	}
	return dialBusAddress(ctx, addrStr)
}

// RemoteBus opens a bus-client connection to a remote host over an
// unixexec-piped shell, e.g. via ssh (SPEC_FULL.md's "remote host"
// factory): argv is expected to end in a command that bridges stdin/stdout
// to the remote bus's socket (the original library's standard trick, e.g.
// `ssh host dbus-proxy`).
func RemoteBus(ctx context.Context, argv []string) (*Connection, error) {
	c := New()
	if err := c.SetBusClient(true); err != nil {
		return nil, err
	}
	addrs := []address.Address{{Kind: address.KindExec, Argv: argv, Path: argv[0]}}
	if err := c.Open(ctx, addrs); err != nil {
		return nil, err
	}
	return c, nil
}

// ContainerBus opens a bus-client connection to the bus of a named local
// container, per the x-container address kind (SPEC_FULL.md §Address
// Parser scenario 2).
func ContainerBus(ctx context.Context, machine string) (*Connection, error) {
	c := New()
	if err := c.SetBusClient(true); err != nil {
		return nil, err
	}
	addrs := []address.Address{{
		Kind:    address.KindContainer,
		Machine: machine,
		Path:    address.WellKnownSystemBusSocket,
	}}
	if err := c.Open(ctx, addrs); err != nil {
		return nil, err
	}
	return c, nil
}

// dialBusAddress parses addrStr and opens a bus-client connection to the
// first descriptor in it that connects.
func dialBusAddress(ctx context.Context, addrStr string) (*Connection, error) {
	addrs, err := address.ParseList(addrStr)
	if err != nil {
		return nil, newError(KindConfiguration, "%v", err)
	}

	c := New()
	if err := c.SetBusClient(true); err != nil {
		return nil, err
	}
	if err := c.Open(ctx, addrs); err != nil {
		return nil, err
	}
	return c, nil
}
