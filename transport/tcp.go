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

package transport

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

func connectTCP(fd int, host, port string, ipv6 bool) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("dbus/transport: bad port %q: %w", port, err)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("dbus/transport: resolve %q: %w", host, err)
	}

	for _, ip := range ips {
		if ipv6 {
			if v4 := ip.To4(); v4 != nil {
				continue
			}
			var addr [16]byte
			copy(addr[:], ip.To16())
			err = unix.Connect(fd, &unix.SockaddrInet6{Port: portNum, Addr: addr})
		} else {
			v4 := ip.To4()
			if v4 == nil {
				continue
			}
			var addr [4]byte
			copy(addr[:], v4)
			err = unix.Connect(fd, &unix.SockaddrInet4{Port: portNum, Addr: addr})
		}
		if err == nil {
			return nil
		}
	}
	if err == nil {
		err = fmt.Errorf("no address family match for %q", host)
	}
	return fmt.Errorf("dbus/transport: connect %s:%s: %w", host, port, err)
}
