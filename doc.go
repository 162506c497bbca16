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

// Package dbus implements the core of a D-Bus client/server connection:
// the long-lived state machine that owns a transport, sends and dispatches
// messages, authenticates, correlates method calls with replies, fires
// timeouts, and routes inbound traffic through filters, matches, and an
// externally supplied object dispatcher.
//
// The primary elements of interest are:
//
//   - Connection, the state machine itself.
//
//   - ConnectionConfig, the set of state-gated setters used to configure a
//     Connection before it is opened.
//
//   - ObjectDispatcher, which may be implemented to claim object paths; the
//     NoopObjectDispatcher default replies UnknownObject to everything.
//
//   - SystemBus and SessionBus, convenience entry points that parse the
//     well-known bus addresses and return an open, HELLO'd connection.
//
// Message encoding (see the wire package), the object/vtable dispatch
// layer proper, and the match-expression language are external
// collaborators; this package depends only on the Message value defined
// by wire.Message.
package dbus
