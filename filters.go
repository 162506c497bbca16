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
	"github.com/jacobsa/dbus/internal/calllist"
)

// FilterHandle identifies a registered filter callback for later removal.
type FilterHandle struct{ h *calllist.Handle }

// MatchHandle identifies a registered match callback for later removal.
type MatchHandle struct{ h *calllist.Handle }

// AddFilter registers cb to see every inbound message (spec.md §4.5 step
// 6), regardless of content, ahead of the match chain and built-ins. A
// filter returning true consumes the message.
func (c *Connection) AddFilter(cb calllist.Callback) FilterHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FilterHandle{c.filters.Add(cb)}
}

// RemoveFilter unregisters a filter previously added with AddFilter. It is
// safe to call from within the filter's own callback.
func (c *Connection) RemoveFilter(h FilterHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters.Remove(h.h)
}

// AddMatch registers cb against every inbound message, of any type, not
// consumed by a filter (spec.md §4.5 step 7). The match expression itself (what cb
// should look at to decide whether it cares about a message) is a
// user-level concern: this package only provides the ordered callback list
// and its modification-safe dispatch discipline; a match-expression parser
// is an external collaborator per spec.md §1.
func (c *Connection) AddMatch(cb calllist.Callback) MatchHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return MatchHandle{c.matches.Add(cb)}
}

// RemoveMatch unregisters a match previously added with AddMatch.
func (c *Connection) RemoveMatch(h MatchHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches.Remove(h.h)
}
