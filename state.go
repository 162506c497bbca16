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

// State is a Connection's position in the spec.md §3 state machine:
//
//	UNSET -> OPENING -> AUTHENTICATING -> HELLO -> RUNNING -> CLOSED
//
// The HELLO state is skipped for non-bus-client connections and for the
// kernel transport, which has no SASL handshake and no HELLO call.
type State int

const (
	StateUnset State = iota
	StateOpening
	StateAuthenticating
	StateHello
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnset:
		return "UNSET"
	case StateOpening:
		return "OPENING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateHello:
		return "HELLO"
	case StateRunning:
		return "RUNNING"
	case StateClosed:
		return "CLOSED"
	default:
		return "INVALID"
	}
}

// Open reports whether s is one of the states in which the connection has
// begun, or completed, opening.
func (s State) Open() bool {
	switch s {
	case StateOpening, StateAuthenticating, StateHello, StateRunning:
		return true
	default:
		return false
	}
}
