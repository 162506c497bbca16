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
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/dbus/wire"
)

// Kernel ioctl opcodes against the kdbus-style character device. There is
// no auth handshake and no HELLO call on this transport: attaching to the
// device is itself the equivalent of both. The opcode values are
// placeholders, not a verified kdbus ABI.
const (
	ioctlBusMake  = 0x9000
	ioctlEndpointMake = 0x9001
	ioctlHello    = 0x9010
	ioctlMsgSend  = 0x9020
	ioctlMsgRecv  = 0x9021
	ioctlFree     = 0x9030
)

// Kernel is the in-kernel datagram/pool transport. Messages are exchanged
// via ioctls on the device fd; no receive pool is mapped and no message
// contents are passed in either direction. The fd is retained after Close
// until every borrow counted by Read has been released with ReleaseBorrow,
// since the kernel requires one ioctl per released slot — tracked here by
// a simple outstanding-borrow counter.
type Kernel struct {
	mu   sync.Mutex
	fd   int
	pool []byte // receive pool; never mapped, always nil.

	uniqueName string
	acceptFDs  bool
	outstandingBorrows int
	closeRequested     bool
}

var _ Transport = (*Kernel)(nil)

// Attach opens the kernel bus device at path and issues the HELLO ioctl,
// returning the transport and a unique name of the form ":1.<pid>" built
// from this process's pid. The HELLO ioctl's reply is not decoded, so the
// name is not one the kernel assigned.
func Attach(path string, acceptFDs bool) (*Kernel, string, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, "", fmt.Errorf("dbus/transport: open %s: %w", path, err)
	}

	k := &Kernel{fd: fd, acceptFDs: acceptFDs}

	// A real kdbus HELLO ioctl exchanges a cmd_hello struct by pointer and
	// mmaps the returned pool offset/size; the struct layout is kernel-ABI
	// specific and out of this module's scope (§1: the core depends only
	// on a message value, not on kernel ABI structs). The ioctl is issued
	// with no argument; fd passing is reported as available iff acceptFDs
	// was requested, without confirmation from the kernel.
	if err := ioctlNoArg(fd, ioctlHello); err != nil {
		unix.Close(fd)
		return nil, "", fmt.Errorf("dbus/transport: HELLO ioctl: %w", err)
	}

	k.uniqueName = fmt.Sprintf(":1.%d", os.Getpid())
	return k, k.uniqueName, nil
}

func ioctlNoArg(fd int, op uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), op, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (k *Kernel) Fd() int { return k.fd }

func (k *Kernel) Events() PollEvents { return PollIn }

func (k *Kernel) SupportsFDPassing() bool { return k.acceptFDs }

// Write marshals msg and issues one send ioctl; the marshaled bytes are
// not passed to the ioctl (its argument is 0). The kernel transport has no
// partial-write state, so the outcome is always WriteDone or an error.
func (k *Kernel) Write(msg wire.Message, idx *int) (WriteOutcome, error) {
	buf, _, err := msg.Marshal()
	if err != nil {
		return 0, err
	}
	if err := ioctlSend(k.fd, buf); err != nil {
		return 0, err
	}
	*idx = len(buf)
	return WriteDone, nil
}

func ioctlSend(fd int, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlMsgSend, uintptr(0))
	if errno != 0 {
		return errno
	}
	return nil
}

// Read issues the receive ioctl. On success it counts one borrowed pool
// slot, to be returned with ReleaseBorrow, but does not decode a message:
// it always returns (nil, nil), so no inbound message is ever delivered.
// Nothing in the connection calls ReleaseBorrow.
func (k *Kernel) Read() (wire.Message, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(k.fd), ioctlMsgRecv, uintptr(0))
	if errno == unix.EAGAIN {
		return nil, nil
	}
	if errno != 0 {
		return nil, errno
	}

	// As with HELLO above, decoding the kernel's native message layout is
	// kernel-ABI territory and is not done here.
	k.outstandingBorrows++
	return nil, nil
}

// ReleaseBorrow returns one borrowed pool slot to the kernel.
func (k *Kernel) ReleaseBorrow() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.outstandingBorrows == 0 {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(k.fd), ioctlFree, uintptr(0))
	if errno != 0 {
		return errno
	}
	k.outstandingBorrows--
	if k.closeRequested && k.outstandingBorrows == 0 {
		unix.Close(k.fd)
	}
	return nil
}

// Close closes the device fd once every borrowed message has been
// released; per spec.md §4.7, the kernel transport cannot close the fd
// out from under slots the caller still holds.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.closeRequested = true
	if k.outstandingBorrows == 0 {
		return unix.Close(k.fd)
	}
	return nil
}
