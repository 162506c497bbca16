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

import "context"

// Wait blocks until the connection reaches StateClosed, adapting
// mounted_file_system.go's Join to this package's close notification
// channel. It returns the reason the connection closed, which is
// errClosedByCaller when Close was called deliberately.
func (c *Connection) Wait(ctx context.Context) error {
	select {
	case <-c.closeNotify:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.lastConnectErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close forces the connection to StateClosed, releasing its transport,
// from any state, including one that never finished opening. Calling
// Close on a connection already in StateClosed is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	c.forceClosedLocked(errClosedByCaller)
	return nil
}

var errClosedByCaller = newError(KindNotConnected, "closed by caller")
